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

package summarize

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

// A CallRecord is one callee resolved at one call site of the summarized
// function. Two calls to the same callee at different sites produce two
// records, and a non-uniquely resolved dispatch produces one record per
// candidate, all sharing the same site. Records are never merged because the
// argument definition sites are call-site specific.
type CallRecord struct {
	// Site is the basic-block index of the call.
	Site int `json:"site"`
	// Callee is the candidate's stable identity.
	Callee ir.FuncID `json:"callee"`
	// CalleeName and CalleeModule are for reporting only.
	CalleeName   string `json:"callee_name,omitempty"`
	CalleeModule string `json:"callee_module,omitempty"`
	// ArgDefs holds, per formal-argument position, the set of def sites
	// found to contribute to that argument.
	ArgDefs []DefSiteSet `json:"arg_defs"`
}

// RetDefs are the definition sites of a function's return value, split into
// the non-argument contributors (heap allocations and analyzable calls; a
// native call is a search terminator, not a contributor) and the formal
// parameters that flow into the return value.
type RetDefs struct {
	Other DefSiteSet `json:"other,omitempty"`
	Args  []DefSite  `json:"args,omitempty"`
}

// Contains returns true when d is among the return-value contributors.
func (r RetDefs) Contains(d DefSite) bool {
	if r.Other.Contains(d) {
		return true
	}
	for _, a := range r.Args {
		if a == d {
			return true
		}
	}
	return false
}

// A Summary is the per-function analysis artifact: every call the function
// makes with the def sites of each argument, the def sites of its return
// value, and the def sites of every slot reachable from unsafe operations.
// Summaries are built once by Summarize and never mutated afterwards; the
// whole-program phase reads them as a joined table and accumulates its
// findings in a separate result map.
type Summary struct {
	ID ir.FuncID `json:"id"`
	// Name and Module are human-readable provenance, for reporting only.
	Name   string `json:"name,omitempty"`
	Module string `json:"module,omitempty"`
	// NumParams is the summarized function's formal-parameter count.
	NumParams int `json:"num_params"`
	// Calls lists one record per (site, candidate callee).
	Calls []*CallRecord `json:"calls,omitempty"`
	// Ret holds the return-value definition sites.
	Ret RetDefs `json:"ret"`
	// UnsafeDefs is nil when the function contains no unsafe code.
	UnsafeDefs DefSiteSet `json:"unsafe_defs,omitempty"`
	// Foreign is the set of callees known to target foreign/external
	// functions, excluded from further analysis.
	Foreign map[ir.FuncID]bool `json:"foreign,omitempty"`
	// Dynamic is the set of callees that were resolved non-uniquely. Their
	// summaries may be absent from the joined table, for example when an
	// unused candidate was eliminated as dead code.
	Dynamic map[ir.FuncID]bool `json:"dynamic,omitempty"`
}

func newSummary(fn *ir.Function) *Summary {
	return &Summary{
		ID:        fn.ID,
		Name:      fn.Name,
		Module:    fn.Module,
		NumParams: fn.NumParams,
		Ret:       RetDefs{Other: DefSiteSet{}},
	}
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s::%s", s.Module, s.Name)
}

// RecordsAt returns every call record at the given call site, one per
// resolved candidate.
func (s *Summary) RecordsAt(site int) []*CallRecord {
	var recs []*CallRecord
	for _, r := range s.Calls {
		if r.Site == site {
			recs = append(recs, r)
		}
	}
	return recs
}

// RecordsFor returns every call record targeting the given callee, one per
// call site invoking it.
func (s *Summary) RecordsFor(callee ir.FuncID) []*CallRecord {
	var recs []*CallRecord
	for _, r := range s.Calls {
		if r.Callee == callee {
			recs = append(recs, r)
		}
	}
	return recs
}

// IsForeign returns true when the callee is a known foreign target.
func (s *Summary) IsForeign(callee ir.FuncID) bool {
	return s.Foreign[callee]
}

// IsDynamic returns true when the callee was resolved non-uniquely.
func (s *Summary) IsDynamic(callee ir.FuncID) bool {
	return s.Dynamic[callee]
}

func (s *Summary) markForeign(id ir.FuncID) {
	if s.Foreign == nil {
		s.Foreign = map[ir.FuncID]bool{}
	}
	s.Foreign[id] = true
}

func (s *Summary) markDynamic(id ir.FuncID) {
	if s.Dynamic == nil {
		s.Dynamic = map[ir.FuncID]bool{}
	}
	s.Dynamic[id] = true
}

// addRetArg appends Arg(pos) to the return-value argument contributors,
// keeping the list duplicate-free.
func (s *Summary) addRetArg(pos int) {
	d := ArgAt(pos)
	for _, a := range s.Ret.Args {
		if a == d {
			return
		}
	}
	s.Ret.Args = append(s.Ret.Args, d)
}

// DefSiteCount returns the number of def sites mentioned anywhere in the
// summary. The whole-program fixpoints use the total over all summaries as
// their defense-in-depth iteration bound.
func (s *Summary) DefSiteCount() int {
	n := len(s.Ret.Other) + len(s.Ret.Args) + len(s.UnsafeDefs)
	for _, rec := range s.Calls {
		n++ // the call site itself is a def-site shape
		for _, set := range rec.ArgDefs {
			n += len(set)
		}
	}
	return n
}
