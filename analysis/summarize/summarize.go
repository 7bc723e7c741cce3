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

// Package summarize builds per-function summaries: for each call a function
// makes and for its own return value, the set of definition sites that could
// have produced each value, plus the definition sites of every slot reachable
// from an unsafe operation. Summaries are the unit of work joined later by
// the whole-program phase; each one is computed from a single function body
// and the two read-only name tables, so summarization parallelizes over
// functions with no shared mutable state.
//
// All searches are backward walks over the control-flow graph: a frontier of
// slots is consumed at their definitions, branches clone the frontier so they
// cannot cross-contaminate, and a visited-block set bounds the walk on loops.
package summarize

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

type summarizer struct {
	cfg *config.Config
	log *config.LogGroup
	fn  *ir.Function
	sum *Summary
}

// Summarize analyzes one function body and returns its summary. The summary
// is immutable after this call.
func Summarize(cfg *config.Config, log *config.LogGroup, fn *ir.Function) (*Summary, error) {
	if err := fn.Validate(); err != nil {
		return nil, fmt.Errorf("cannot summarize: %w", err)
	}
	s := &summarizer{cfg: cfg, log: log, fn: fn, sum: newSummary(fn)}
	s.log.Debugf("%-10s %-30s | %-40s", "Analyzing", fn.Module, fn.Name)
	s.analyzeCalls()
	s.analyzeUnsafe()
	return s.sum, nil
}

// isTracked reports whether the statement kind is one the backward searches
// know how to decompose.
func (s *summarizer) isTracked(st *ir.Statement) bool {
	switch st.Kind {
	case ir.StmtAssign, ir.StmtSetDiscriminant, ir.StmtDeinit, ir.StmtNop:
		return true
	default:
		return false
	}
}

// degrade handles a statement kind the search does not know how to
// decompose. Dropping it silently would under-approximate, so every slot the
// statement references joins the frontier as a possible escape.
func (s *summarizer) degrade(st *ir.Statement, frontier map[ir.Slot]bool) {
	s.log.Warnf("%s: statement kind %d not handled, treating referenced slots as escaping",
		s.sum, st.Kind)
	for _, p := range st.Places(nil) {
		frontier[p.Slot] = true
	}
	if st.RHS != nil {
		ir.SlotsInRvalue(st.RHS, frontier)
	}
}
