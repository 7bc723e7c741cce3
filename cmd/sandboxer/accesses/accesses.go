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

// Package accesses implements the front-end for the final access pass: it
// reloads the program, reads the whole-program map from the store, and
// prints every dereference of a flagged value.
package accesses

import (
	"fmt"
	"sort"

	"github.com/awslabs/ar-sandbox-tools/analysis"
	"github.com/awslabs/ar-sandbox-tools/analysis/access"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/store"
	"github.com/awslabs/ar-sandbox-tools/cmd/sandboxer/tools"
	"github.com/awslabs/ar-sandbox-tools/internal/formatutil"
)

// Usage is the -help message of the accesses sub-command.
const Usage = `Resolve the whole-program map to concrete unsafe memory accesses.

Usage:
  sandboxer accesses [options] package...

The whole-program map must have been written to the summary store by an
earlier run of the wpa sub-command.

Use the -help flag to display the options.

Examples:
% sandboxer accesses -config=config.yaml ./...
`

// Run prints the accesses of the packages named by the flag arguments.
func Run(flags tools.CommonFlags) error {
	cfg, err := tools.LoadConfig(flags.ConfigPath, flags.Verbose)
	if err != nil {
		return err
	}
	state := analysis.NewState(cfg)

	prog, err := tools.LoadLowered(cfg, state.Logger, flags)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg, state.Logger)
	if err != nil {
		return err
	}
	res, err := st.ReadWholeProgram()
	if err != nil {
		return err
	}

	rep := analysis.FindAccesses(state, prog, res)
	for _, id := range rep.SortedIDs() {
		fn := prog.Func(id)
		for _, a := range rep[id] {
			fmt.Printf("%s %s::%s: %s\n", formatutil.Yellow("[access]"), fn.Module, fn.Name, a)
		}
	}

	// Functions the map does not flag still get a plain dereference count.
	totals := access.DerefTotals(prog, res)
	derefs := 0
	for _, n := range totals {
		derefs += n
	}
	if cfg.Verbose() {
		ids := make([]ir.FuncID, 0, len(totals))
		for id := range totals {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if ids[i].H0 != ids[j].H0 {
				return ids[i].H0 < ids[j].H0
			}
			return ids[i].H1 < ids[j].H1
		})
		for _, id := range ids {
			fn := prog.Func(id)
			fmt.Printf("%s %s::%s: %d dereferences\n", formatutil.Faint("[deref]"), fn.Module, fn.Name, totals[id])
		}
	}
	state.Logger.Infof("%d accesses in %d functions, %d dereferences outside the map",
		rep.Count(), len(rep), derefs)
	return nil
}
