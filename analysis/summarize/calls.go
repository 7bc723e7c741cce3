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
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/internal/funcutil"
)

// retSeed is one point in the function that assigns the return slot. There
// may be several, one per exit path.
type retSeed struct {
	block  int
	stmt   int
	atTerm bool
}

// analyzeCalls records every call the function makes, finds the def sites of
// each call argument, and finds the def sites of the return value.
func (s *summarizer) analyzeCalls() {
	var callSites []int
	var retSeeds []retSeed

	for _, blk := range s.fn.Blocks {
		term := &blk.Term
		if term.IsCall() {
			callSites = append(callSites, blk.Index)
			for _, c := range term.Callees {
				rec := &CallRecord{
					Site:         blk.Index,
					Callee:       c.ID,
					CalleeName:   c.Name,
					CalleeModule: c.Module,
					ArgDefs:      make([]DefSiteSet, len(term.Args)),
				}
				for i := range rec.ArgDefs {
					rec.ArgDefs[i] = DefSiteSet{}
				}
				s.sum.Calls = append(s.sum.Calls, rec)
				if c.Foreign {
					s.sum.markForeign(c.ID)
				}
				if c.Dynamic {
					s.sum.markDynamic(c.ID)
				}
			}
			// A call storing directly into the return slot is a
			// return-value definition point.
			if term.Dest != nil && term.Dest.Slot == ir.ReturnSlot && len(term.Dest.Proj) == 0 {
				retSeeds = append(retSeeds, retSeed{block: blk.Index, atTerm: true})
			}
			continue
		}

		// At most one return-slot assignment per block.
		for i := range blk.Stmts {
			st := &blk.Stmts[i]
			if st.Kind == ir.StmtAssign && st.LHS.Slot == ir.ReturnSlot && len(st.LHS.Proj) == 0 {
				retSeeds = append(retSeeds, retSeed{block: blk.Index, stmt: i})
				break
			}
		}
	}

	for _, site := range callSites {
		s.findArgDefs(site)
	}

	for _, seed := range retSeeds {
		frontier := map[ir.Slot]bool{ir.ReturnSlot: true}
		visited := map[int]bool{}
		s.backwardSearch(seed.block, seed.stmt, seed.atTerm, true, frontier, visited,
			func(d DefSite) { s.sum.Ret.Other.Add(d) },
			func(pos int) { s.sum.addRetArg(pos) })
	}
}

// findArgDefs finds, for every formal-argument position of the call at block
// site, the def sites contributing to that argument. One frontier of slots is
// maintained per argument; findings are recorded into every candidate record
// of the site.
func (s *summarizer) findArgDefs(site int) {
	term := &s.fn.Blocks[site].Term
	if len(term.Args) == 0 {
		return
	}
	recs := s.sum.RecordsAt(site)

	frontiers := make([]map[ir.Slot]bool, len(term.Args))
	for i, a := range term.Args {
		frontiers[i] = map[ir.Slot]bool{}
		ir.SlotsInOperands([]ir.Operand{a}, frontiers[i])
	}

	visited := map[int]bool{}
	s.walkArgDefs(site, site, frontiers, visited, recs)
}

// walkArgDefs examines block bb backward, then recurses into its
// predecessors. The frontier vector is cloned before entering each of
// multiple predecessors so that branches do not cross-contaminate, and moved
// as-is into a single predecessor. The visited set bounds the walk on cyclic
// graphs.
func (s *summarizer) walkArgDefs(bb int, origin int, frontiers []map[ir.Slot]bool,
	visited map[int]bool, recs []*CallRecord) {
	if visited[bb] || frontiersEmpty(frontiers) {
		return
	}
	visited[bb] = true

	blk := s.fn.Blocks[bb]
	term := &blk.Term
	// A different call defining a frontier slot is a def site for the
	// argument; the origin call itself is not.
	if bb != origin && term.IsCall() && term.Dest != nil && len(term.Dest.Proj) == 0 {
		dest := term.Dest.Slot
		for i := range frontiers {
			if !frontiers[i][dest] {
				continue
			}
			delete(frontiers[i], dest)
			idx := i
			s.expandCallDef(term, bb, true, frontiers[i], func(d DefSite) {
				for _, rec := range recs {
					rec.ArgDefs[idx].Add(d)
				}
			})
		}
	}

	for j := len(blk.Stmts) - 1; j >= 0; j-- {
		st := &blk.Stmts[j]
		if !s.isTracked(st) {
			for i := range frontiers {
				s.degrade(st, frontiers[i])
			}
			continue
		}
		// Only a projection-free assignment defines its base slot; a write
		// through a projection stores into what the slot points at.
		if st.Kind != ir.StmtAssign || len(st.LHS.Proj) > 0 {
			continue
		}
		lhs := st.LHS.Slot
		for i := range frontiers {
			if frontiers[i][lhs] {
				delete(frontiers[i], lhs)
				ir.SlotsInRvalue(st.RHS, frontiers[i])
			}
		}
	}

	preds := s.fn.Preds(bb)
	for _, p := range preds {
		if len(preds) > 1 {
			s.walkArgDefs(p, origin, cloneFrontiers(frontiers), visited, recs)
		} else {
			s.walkArgDefs(p, origin, frontiers, visited, recs)
		}
	}

	// At function entry, frontier slots matching formal parameters are
	// argument def sites.
	if bb == 0 {
		for i := range frontiers {
			for pos := 0; pos < s.fn.NumParams; pos++ {
				slot := s.fn.ParamSlot(pos)
				if frontiers[i][slot] {
					delete(frontiers[i], slot)
					for _, rec := range recs {
						rec.ArgDefs[i].Add(ArgAt(pos))
					}
				}
			}
		}
	}
}

// backwardSearch is the single-frontier backward walk shared by the
// return-value and unsafe-definition searches. Starting inside block bb, at
// its terminator when atTerm is set and at statement index stmtFrom
// otherwise, it consumes frontier slots at their definitions and recurses
// into predecessors, cloning the frontier whenever a block has more than one
// predecessor. recordCall receives classified call def sites; recordArg
// receives 0-based parameter positions reached at function entry. traceArgs
// controls whether an ordinary call consumed as a definition also puts its
// arguments on the frontier; the unsafe search leaves that resolution to the
// whole-program phase.
func (s *summarizer) backwardSearch(bb int, stmtFrom int, atTerm bool, traceArgs bool,
	frontier map[ir.Slot]bool, visited map[int]bool,
	recordCall func(DefSite), recordArg func(int)) {
	if visited[bb] || len(frontier) == 0 {
		return
	}
	visited[bb] = true

	blk := s.fn.Blocks[bb]
	if atTerm {
		term := &blk.Term
		if term.IsCall() && term.Dest != nil && len(term.Dest.Proj) == 0 && frontier[term.Dest.Slot] {
			delete(frontier, term.Dest.Slot)
			s.expandCallDef(term, bb, traceArgs, frontier, recordCall)
		}
		stmtFrom = len(blk.Stmts) - 1
	}

	for j := stmtFrom; j >= 0; j-- {
		st := &blk.Stmts[j]
		if !s.isTracked(st) {
			s.degrade(st, frontier)
			continue
		}
		if st.Kind != ir.StmtAssign || len(st.LHS.Proj) > 0 {
			continue
		}
		if frontier[st.LHS.Slot] {
			delete(frontier, st.LHS.Slot)
			ir.SlotsInRvalue(st.RHS, frontier)
		}
	}

	preds := s.fn.Preds(bb)
	for _, p := range preds {
		if len(preds) > 1 {
			s.backwardSearch(p, 0, true, traceArgs, cloneFrontier(frontier), visited, recordCall, recordArg)
		} else {
			s.backwardSearch(p, 0, true, traceArgs, frontier, visited, recordCall, recordArg)
		}
	}

	if bb == 0 {
		for pos := 0; pos < s.fn.NumParams; pos++ {
			slot := s.fn.ParamSlot(pos)
			if frontier[slot] {
				delete(frontier, slot)
				recordArg(pos)
			}
		}
	}
}

// expandCallDef classifies every candidate of the call terminating block bb
// as the definition of a consumed frontier slot. Heap allocations are
// recorded as terminal findings. Native calls are opaque pass-throughs whose
// arguments always join the frontier without any recorded def site.
// Analyzable calls are recorded; their arguments join the frontier only when
// traceArgs is set, since which argument actually contributes to the callee's
// return value is not known until summaries are joined.
func (s *summarizer) expandCallDef(term *ir.Terminator, bb int, traceArgs bool,
	frontier map[ir.Slot]bool, record func(DefSite)) {
	for _, c := range term.Callees {
		d := Classify(s.cfg, c, bb)
		switch d.Kind {
		case DefHeapAlloc:
			record(d)
		case DefNativeCall:
			ir.SlotsInOperands(term.Args, frontier)
		case DefOtherCall:
			if traceArgs {
				ir.SlotsInOperands(term.Args, frontier)
			}
			record(d)
		}
	}
}

func frontiersEmpty(frontiers []map[ir.Slot]bool) bool {
	return !funcutil.Exists(frontiers, func(f map[ir.Slot]bool) bool { return len(f) > 0 })
}

func cloneFrontier(f map[ir.Slot]bool) map[ir.Slot]bool {
	c := make(map[ir.Slot]bool, len(f))
	for k := range f {
		c[k] = true
	}
	return c
}

func cloneFrontiers(frontiers []map[ir.Slot]bool) []map[ir.Slot]bool {
	c := make([]map[ir.Slot]bool, len(frontiers))
	for i, f := range frontiers {
		c[i] = cloneFrontier(f)
	}
	return c
}
