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

// Package access resolves the whole-program unsafe-allocation map down to the
// concrete memory accesses a rewriting pass would instrument. For each
// function that owns at least one flagged def site it taints the slots the
// site defines, closes the taint under intra-procedural assignments, and then
// reports every single-dereference read or write through a tainted slot.
package access

import (
	"fmt"
	"sort"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
	"github.com/awslabs/ar-sandbox-tools/analysis/wpa"
	"github.com/awslabs/ar-sandbox-tools/internal/funcutil"
)

// An Access is one dereference of a flagged value inside a function body:
// the block and statement holding it, the place read or written through, and
// whether the dereference appears on the left-hand side of an assignment.
type Access struct {
	Block int      `json:"block"`
	Stmt  int      `json:"stmt"`
	// AtTerm is set when the dereference occurs in the block terminator; Stmt
	// is meaningless then.
	AtTerm bool     `json:"at_term,omitempty"`
	Place  ir.Place `json:"place"`
	Write  bool     `json:"write,omitempty"`
}

func (a Access) String() string {
	mode := "read"
	if a.Write {
		mode = "write"
	}
	if a.AtTerm {
		return fmt.Sprintf("%s through slot %d at bb%d/term", mode, a.Place.Slot, a.Block)
	}
	return fmt.Sprintf("%s through slot %d at bb%d/%d", mode, a.Place.Slot, a.Block, a.Stmt)
}

// Report maps each function with flagged sites to the accesses found in its
// body. Functions present in the whole-program map but absent from the loaded
// program contribute no entries.
type Report map[ir.FuncID][]Access

// Find computes the access report for the whole-program result res over the
// loaded program. Def sites attributed to functions the program does not
// contain are skipped with a debug note; they belong to dependency units
// compiled in earlier sessions.
func Find(cfg *config.Config, log *config.LogGroup, prog *ir.Program, res wpa.Result) Report {
	rep := Report{}
	for id, sites := range res {
		fn := prog.Func(id)
		if fn == nil {
			log.Debugf("no body for %s in this unit, skipping %d flagged sites", id, len(sites))
			continue
		}
		accs := findInFunc(log, fn, sites)
		if len(accs) > 0 {
			rep[id] = accs
		}
	}
	return rep
}

// findInFunc taints the slots defined by the flagged sites, closes the taint
// under assignments, and collects single-dereference uses of tainted slots.
func findInFunc(log *config.LogGroup, fn *ir.Function, sites summarize.DefSiteSet) []Access {
	tainted := seed(fn, sites)
	if len(tainted) == 0 {
		return nil
	}
	closeTaint(fn, tainted)
	log.Tracef("%s::%s: tainted slots %v", fn.Module, fn.Name, funcutil.SetToOrderedSlice(tainted))

	var accs []Access
	for _, bb := range fn.Blocks {
		for i, st := range bb.Stmts {
			if st.Kind != ir.StmtAssign {
				continue
			}
			if derefOf(st.LHS, tainted) {
				accs = append(accs, Access{Block: bb.Index, Stmt: i, Place: st.LHS, Write: true})
			}
			if st.RHS != nil {
				for _, p := range st.RHS.Places(nil) {
					if derefOf(p, tainted) {
						accs = append(accs, Access{Block: bb.Index, Stmt: i, Place: p})
					}
				}
			}
		}
		for _, p := range bb.Term.Places(nil) {
			if derefOf(p, tainted) {
				accs = append(accs, Access{Block: bb.Index, AtTerm: true, Place: p})
			}
		}
	}
	return accs
}

// seed returns the slots directly defined by the flagged def sites: the
// formal parameter slot for argument sites, and the call destination slot for
// allocation and call sites.
func seed(fn *ir.Function, sites summarize.DefSiteSet) map[ir.Slot]bool {
	tainted := map[ir.Slot]bool{}
	for d := range sites {
		switch d.Kind {
		case summarize.DefArg:
			if d.Site < fn.NumParams {
				tainted[fn.ParamSlot(d.Site)] = true
			}
		case summarize.DefHeapAlloc, summarize.DefOtherCall:
			if d.Site < len(fn.Blocks) {
				term := fn.Blocks[d.Site].Term
				if term.Kind == ir.TermCall && term.Dest != nil && len(term.Dest.Proj) == 0 {
					tainted[term.Dest.Slot] = true
				}
			}
		}
	}
	return tainted
}

// closeTaint propagates taint through copies until no assignment adds a new
// slot. The pass is flow-insensitive: slot reuse across disjoint paths can
// over-taint, never under-taint. The return slot is excluded; values flowing
// out of the function are the caller's perspective, already covered by the
// whole-program map.
func closeTaint(fn *ir.Function, tainted map[ir.Slot]bool) {
	for {
		grew := false
		for _, bb := range fn.Blocks {
			for _, st := range bb.Stmts {
				if st.Kind != ir.StmtAssign || st.RHS == nil {
					continue
				}
				dst := st.LHS.Slot
				if dst == ir.ReturnSlot || tainted[dst] {
					continue
				}
				for _, p := range st.RHS.Places(nil) {
					if tainted[p.Slot] {
						tainted[dst] = true
						grew = true
						break
					}
				}
			}
		}
		if !grew {
			return
		}
	}
}

// derefOf reports whether p is exactly one dereference through a tainted
// base slot. Deeper chains read through an intermediate pointer whose own
// load is the access that matters.
func derefOf(p ir.Place, tainted map[ir.Slot]bool) bool {
	return p.DerefCount() == 1 && tainted[p.Slot]
}

// CountDerefs counts every dereference projection in the function body,
// with no regard to taint.
func CountDerefs(fn *ir.Function) int {
	n := 0
	for _, bb := range fn.Blocks {
		for i := range bb.Stmts {
			for _, p := range bb.Stmts[i].Places(nil) {
				n += p.DerefCount()
			}
		}
		for _, p := range bb.Term.Places(nil) {
			n += p.DerefCount()
		}
	}
	return n
}

// DerefTotals counts the dereferences of every function the whole-program
// map does not flag. Flagged functions get the full access treatment
// instead; functions without any dereference stay out of the result.
func DerefTotals(prog *ir.Program, res wpa.Result) map[ir.FuncID]int {
	totals := map[ir.FuncID]int{}
	for _, fn := range prog.Funcs {
		if _, flagged := res[fn.ID]; flagged {
			continue
		}
		if n := CountDerefs(fn); n > 0 {
			totals[fn.ID] = n
		}
	}
	return totals
}

// Count returns the total number of accesses in the report.
func (r Report) Count() int {
	n := 0
	for _, accs := range r {
		n += len(accs)
	}
	return n
}

// SortedIDs returns the function identities of the report in a stable order
// for printing.
func (r Report) SortedIDs() []ir.FuncID {
	ids := make([]ir.FuncID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].H0 != ids[j].H0 {
			return ids[i].H0 < ids[j].H0
		}
		return ids[i].H1 < ids[j].H1
	})
	return ids
}
