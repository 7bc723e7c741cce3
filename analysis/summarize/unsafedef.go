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
)

// unsafeOp locates the last unsafe operation of one basic block. Earlier
// unsafe operations in the same block are subsumed: the backward walk from
// the last one passes through them.
type unsafeOp struct {
	block  int
	stmt   int
	atTerm bool
}

// analyzeUnsafe finds the def sites of every slot reachable from an unsafe
// operation and stores them in the summary's unsafe-definition set. The set
// stays nil when the function contains no unsafe code.
func (s *summarizer) analyzeUnsafe() {
	results := DefSiteSet{}
	if s.fn.Unsafe {
		s.unsafeFnDefs(results)
	} else {
		s.findUnsafeDefs(results)
	}
	if len(results) > 0 {
		s.sum.UnsafeDefs = results
	}
}

// unsafeFnDefs handles a function whose whole body is unsafe: every formal
// parameter and every call destination is unsafe-sourced, with no search.
// Native call sites stay out of the set; they are a search terminator, never
// a finding.
func (s *summarizer) unsafeFnDefs(results DefSiteSet) {
	for pos := 0; pos < s.fn.NumParams; pos++ {
		results.Add(ArgAt(pos))
	}
	for _, blk := range s.fn.Blocks {
		term := &blk.Term
		if !term.IsCall() {
			continue
		}
		for _, c := range term.Callees {
			d := Classify(s.cfg, c, blk.Index)
			if d.Kind != DefNativeCall {
				results.Add(d)
			}
		}
	}
}

// findUnsafeDefs handles a function with unsafe blocks: it collects every
// slot referenced by an unsafe statement or terminator, then runs the
// backward search from the last unsafe operation of each block containing
// one. The slot set is shared across seeds; a slot resolved by one walk does
// not need to be resolved again by another.
func (s *summarizer) findUnsafeDefs(results DefSiteSet) {
	var ops []unsafeOp
	slots := map[ir.Slot]bool{}

	for _, blk := range s.fn.Blocks {
		last := unsafeOp{block: blk.Index, stmt: -1}
		found := false
		for i := range blk.Stmts {
			st := &blk.Stmts[i]
			if !st.Unsafe {
				continue
			}
			places := st.Places(nil)
			if len(places) == 0 {
				continue
			}
			for _, p := range places {
				slots[p.Slot] = true
			}
			last = unsafeOp{block: blk.Index, stmt: i}
			found = true
		}
		if blk.Term.Unsafe {
			places := blk.Term.Places(nil)
			if len(places) > 0 {
				for _, p := range places {
					slots[p.Slot] = true
				}
				last = unsafeOp{block: blk.Index, atTerm: true}
				found = true
			}
		}
		if found {
			ops = append(ops, last)
		}
	}

	if len(ops) == 0 {
		return
	}
	s.log.Tracef("%s: %d blocks with unsafe operations, %d slots to resolve",
		s.sum, len(ops), len(slots))

	// Ordinary calls are consumed without tracing their arguments: the
	// whole-program phase pulls in exactly the arguments the callee's
	// return summary proves relevant.
	for _, op := range ops {
		visited := map[int]bool{}
		s.backwardSearch(op.block, op.stmt, op.atTerm, false, slots, visited,
			func(d DefSite) { results.Add(d) },
			func(pos int) { results.Add(ArgAt(pos)) })
	}
}
