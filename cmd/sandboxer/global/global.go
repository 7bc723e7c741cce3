// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package global implements the front-end for the whole-program phase over a
// populated summary store.
package global

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis"
	"github.com/awslabs/ar-sandbox-tools/analysis/store"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/tools"
)

// Usage is the -help message of the wpa sub-command.
const Usage = `Run the whole-program propagation over a populated summary store.

Usage:
  sandboxer wpa [options]

The store must hold the unit artifacts of every compilation unit and the
completion manifest before this phase runs.

Use the -help flag to display the options.

Examples:
% sandboxer wpa -config=config.yaml
`

// Flags represents the flags for the wpa sub-tool.
type Flags struct {
	tools.CommonFlags
	clean bool
}

// NewFlags returns parsed flags for wpa.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("wpa")
	clean := flags.FlagSet.Bool("clean", false, "remove the unit artifacts and manifest after the run")
	tools.SetUsage(flags.FlagSet, Usage)
	if err := flags.FlagSet.Parse(args); err != nil {
		return Flags{}, fmt.Errorf("failed to parse command wpa with args %v: %v", args, err)
	}

	return Flags{
		CommonFlags: tools.CommonFlags{
			FlagSet:    flags.FlagSet,
			ConfigPath: *flags.ConfigPath,
			Verbose:    *flags.Verbose,
			WithTest:   *flags.WithTest,
		},
		clean: *clean,
	}, nil
}

// Run joins the stored summaries and runs the whole-program propagation.
func Run(flags Flags) error {
	cfg, err := tools.LoadConfig(flags.ConfigPath, flags.Verbose)
	if err != nil {
		return err
	}
	state := analysis.NewState(cfg)

	st, err := store.Open(cfg, state.Logger)
	if err != nil {
		return err
	}
	sums, err := st.ReadAll()
	if err != nil {
		return err
	}

	res, err := analysis.RunWholeProgram(state, sums)
	if err != nil {
		return err
	}
	if err := st.WriteWholeProgram(res); err != nil {
		return err
	}
	state.Logger.Infof("whole-program map written to %s", st.Dir())

	if flags.clean {
		if err := st.Cleanup(); err != nil {
			return err
		}
	}
	return nil
}
