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

// Package unit implements the front-end for the per-unit summarization
// phase.
package unit

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis"
	"github.com/awslabs/ar-sandbox-tools/analysis/store"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/tools"
)

// Usage is the -help message of the summarize sub-command.
const Usage = `Summarize one compilation unit and persist the summaries.

Usage:
  sandboxer summarize -unit name [options] package...

When -units is given, a manifest recording the expected number of unit
artifacts is written as well; the whole-program phase refuses to run until
the manifest count matches the artifacts present.

Use the -help flag to display the options.

Examples:
% sandboxer summarize -config=config.yaml -unit mylib ./...
`

// Flags represents the flags for the summarize sub-tool.
type Flags struct {
	tools.CommonFlags
	unitName string
	units    int
}

// NewFlags returns parsed flags for summarize.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("summarize")
	unitName := flags.FlagSet.String("unit", "", "name of the compilation unit being summarized")
	units := flags.FlagSet.Int("units", 0, "total number of units; writes the completion manifest when > 0")
	tools.SetUsage(flags.FlagSet, Usage)
	if err := flags.FlagSet.Parse(args); err != nil {
		return Flags{}, fmt.Errorf("failed to parse command summarize with args %v: %v", args, err)
	}

	return Flags{
		CommonFlags: tools.CommonFlags{
			FlagSet:    flags.FlagSet,
			ConfigPath: *flags.ConfigPath,
			Verbose:    *flags.Verbose,
			WithTest:   *flags.WithTest,
		},
		unitName: *unitName,
		units:    *units,
	}, nil
}

// Run summarizes the packages named by the flag arguments as one unit.
func Run(flags Flags) error {
	if flags.unitName == "" {
		return fmt.Errorf("the -unit flag is required")
	}
	cfg, err := tools.LoadConfig(flags.ConfigPath, flags.Verbose)
	if err != nil {
		return err
	}
	state := analysis.NewState(cfg)

	prog, err := tools.LoadLowered(cfg, state.Logger, flags.CommonFlags)
	if err != nil {
		return err
	}
	sums, err := analysis.SummarizeProgram(state, prog)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg, state.Logger)
	if err != nil {
		return err
	}
	if err := st.WriteUnit(flags.unitName, sums); err != nil {
		return err
	}
	if flags.units > 0 {
		if err := st.WriteManifest(flags.units); err != nil {
			return err
		}
	}
	return nil
}
