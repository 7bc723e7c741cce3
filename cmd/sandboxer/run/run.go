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

// Package run implements the front-end for the full single-unit pipeline.
package run

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-sandbox-tools/analysis"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/tools"
	"github.com/awslabs/ar-sandbox-tools/internal/formatutil"
)

// Usage is the -help message of the run sub-command.
const Usage = `Locate heap allocations reached by unsafe memory operations in a Go program.

Usage:
  sandboxer run [options] package...
  sandboxer run [options] source.go

The per-function summaries and the whole-program map are written to the
summary directory given in the config file.

Use the -help flag to display the options.

Examples:
% sandboxer run -config=config.yaml hello.go
`

// Run runs the full pipeline on the packages named by the flag arguments.
func Run(flags tools.CommonFlags) error {
	cfg, err := tools.LoadConfig(flags.ConfigPath, flags.Verbose)
	if err != nil {
		return err
	}
	if cfg.SummaryDir == "" {
		cfg.SummaryDir, err = os.MkdirTemp("", "sandboxer-")
		if err != nil {
			return fmt.Errorf("could not create summary directory: %w", err)
		}
	}
	state := analysis.NewState(cfg)

	fmt.Fprintf(os.Stderr, formatutil.Faint("Reading sources")+"\n")
	prog, err := tools.LoadLowered(cfg, state.Logger, flags)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, formatutil.Faint("Analyzing")+"\n")
	results, err := analysis.RunAll(state, prog, "main")
	if err != nil {
		return err
	}

	res, rep := results.WholeProgram, results.Accesses
	analysis.ProgramStatistics(prog, results.Summaries, res).Print(os.Stdout)

	for id, sites := range res {
		fn := prog.Func(id)
		name := id.String()
		if fn != nil {
			name = fmt.Sprintf("%s::%s", fn.Module, fn.Name)
		}
		fmt.Printf("%s %s\n", formatutil.Red("[unsafe heap]"), name)
		for site := range sites {
			fmt.Printf("  %s\n", site)
		}
	}
	for _, id := range rep.SortedIDs() {
		fn := prog.Func(id)
		for _, a := range rep[id] {
			fmt.Printf("%s %s::%s: %s\n", formatutil.Yellow("[access]"), fn.Module, fn.Name, a)
		}
	}
	return nil
}
