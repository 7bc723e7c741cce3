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

// Package analysis ties the phases together: per-unit summarization of a
// lowered program, the whole-program propagation over joined summaries, and
// the final access pass. The phases are usable separately, mirroring how a
// build system drives them, or together through RunAll.
package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/awslabs/ar-sandbox-tools/analysis/access"
	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/store"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
	"github.com/awslabs/ar-sandbox-tools/internal/funcutil"
	"github.com/awslabs/ar-sandbox-tools/internal/graphutil"
)

// State carries the configuration and logger through the phases of one
// analysis run.
type State struct {
	Config *config.Config
	Logger *config.LogGroup
}

// NewState returns a state with a logger configured from cfg.
func NewState(cfg *config.Config) *State {
	return &State{
		Config: cfg,
		Logger: config.NewLogGroup(cfg),
	}
}

// summaryResult pairs one function's summary with the error that produced
// it, so summarization can run in parallel and report the first failure.
type summaryResult struct {
	id  ir.FuncID
	sum *summarize.Summary
	err error
}

// SummarizeProgram summarizes every function of the program, in parallel
// across the configured number of routines. Functions belonging to an
// ignored module are skipped.
func SummarizeProgram(state *State, prog *ir.Program) (map[ir.FuncID]*summarize.Summary, error) {
	var targets []*ir.Function
	for _, fn := range prog.Funcs {
		if state.Config.IsIgnoredModule(fn.Module) {
			state.Logger.Debugf("ignoring %s::%s", fn.Module, fn.Name)
			continue
		}
		targets = append(targets, fn)
	}

	results := funcutil.MapParallel(targets,
		func(fn *ir.Function) summaryResult {
			sum, err := summarize.Summarize(state.Config, state.Logger, fn)
			return summaryResult{id: fn.ID, sum: sum, err: err}
		},
		state.Config.NumRoutines)

	sums := make(map[ir.FuncID]*summarize.Summary, len(results))
	for _, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("summarizing %s: %w", r.id, r.err)
		}
		sums[r.id] = r.sum
	}
	state.Logger.Infof("summarized %d of %d functions", len(sums), len(prog.Funcs))
	return sums, nil
}

// RunWholeProgram builds the call graph from the joined summaries, reports
// its recursive groups, and runs the whole-program propagation.
func RunWholeProgram(state *State, sums map[ir.FuncID]*summarize.Summary) (wpa.Result, error) {
	cg := wpa.BuildCallGraph(sums)
	if state.Config.Verbose() {
		cg.Dump(state.Logger)
	}
	reportComponents(state, cg)

	res, err := wpa.PropagateOver(state.Config, state.Logger, sums, cg)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// reportComponents logs the recursive groups of the call graph: strongly
// connected components with more than one member, plus directly recursive
// functions. Recursion groups are where the propagator's processed sets earn
// their keep, so they are worth surfacing before the fixpoints run.
func reportComponents(state *State, cg *wpa.CallGraph) {
	it := graphutil.NewCallgraphIterator(cg)
	recursive := 0
	for _, comp := range topo.TarjanSCC(it) {
		if len(comp) == 1 && !it.HasEdgeFromTo(comp[0].ID(), comp[0].ID()) {
			continue
		}
		recursive++
		if state.Config.Verbose() {
			names := funcutil.Map(comp, func(n graph.Node) string {
				return it.IDMap[n.ID()].String()
			})
			state.Logger.Debugf("recursive group of %d: %v", len(comp), names)
		}
	}
	if state.Config.Verbose() && recursive > 0 {
		for _, cyc := range graphutil.FindAllElementaryCycles(it) {
			names := funcutil.Map(cyc, func(v int64) string {
				return it.IDMap[v].String()
			})
			state.Logger.Debugf("elementary cycle: %v", names)
		}
	}
	state.Logger.Infof("call graph: %d nodes, %d recursive groups", it.Order(), recursive)
}

// FindAccesses runs the final local pass over the program with the
// whole-program result.
func FindAccesses(state *State, prog *ir.Program, res wpa.Result) access.Report {
	return access.Find(state.Config, state.Logger, prog, res)
}

// Results bundles the outputs of a full pipeline run.
type Results struct {
	Summaries    map[ir.FuncID]*summarize.Summary
	WholeProgram wpa.Result
	Accesses     access.Report
}

// RunAll drives the full pipeline for a single-unit program: summarize,
// persist the unit artifact and its manifest, propagate, persist the
// whole-program map, and optionally resolve accesses.
func RunAll(state *State, prog *ir.Program, unit string) (Results, error) {
	sums, err := SummarizeProgram(state, prog)
	if err != nil {
		return Results{}, err
	}

	st, err := store.Open(state.Config, state.Logger)
	if err != nil {
		return Results{}, err
	}
	if err := st.WriteUnit(unit, sums); err != nil {
		return Results{}, err
	}
	if err := st.WriteManifest(1); err != nil {
		return Results{}, err
	}

	res, err := RunWholeProgram(state, sums)
	if err != nil {
		return Results{}, err
	}
	if err := st.WriteWholeProgram(res); err != nil {
		return Results{}, err
	}

	out := Results{Summaries: sums, WholeProgram: res}
	if state.Config.ReportAccesses {
		out.Accesses = FindAccesses(state, prog, res)
	}
	return out, nil
}
