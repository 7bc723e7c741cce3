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

// Package wpa is the whole-program phase: it joins the per-function
// summaries of every compilation unit into a call graph and runs two
// sequential worklist fixpoints over it. The first resolves every
// unsafe-definition site back to the heap allocations that could have
// produced it, crossing call boundaries through the summaries. The second
// widens the result: an unsafely-used heap value passed onward as an
// argument, or returned to a caller, makes its new home unsafe too.
//
// The phase must observe the summaries of all dependency units before it
// runs; providing that barrier is the build system's contract, not logic in
// this package.
package wpa

import (
	"fmt"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
)

// Result is the whole-program map from function identity to the def sites
// known to be unsafe-and-heap-derived or unsafe-and-propagated. It grows
// monotonically during propagation and is the externally visible artifact of
// the analysis.
type Result map[ir.FuncID]summarize.DefSiteSet

// Add records a def site for a function.
func (r Result) Add(fn ir.FuncID, d summarize.DefSite) {
	set, ok := r[fn]
	if !ok {
		set = summarize.DefSiteSet{}
		r[fn] = set
	}
	set.Add(d)
}

// Contains returns true when the pair is already recorded.
func (r Result) Contains(fn ir.FuncID, d summarize.DefSite) bool {
	return r[fn].Contains(d)
}

// globalSite is a def site in the global perspective: the same DefSite shape
// recurs across functions, so both fixpoints key their processed sets by the
// pair, never by the site alone.
type globalSite struct {
	fn ir.FuncID
	d  summarize.DefSite
}

// propagator carries the read-only joined summary table, the call graph and
// the growing result through both fixpoints.
type propagator struct {
	sums map[ir.FuncID]*summarize.Summary
	cg   *CallGraph
	log  *config.LogGroup
	res  Result

	worklist  []globalSite
	processed map[globalSite]bool
	// steps and maxSteps bound each fixpoint as defense in depth; the
	// processed set alone already guarantees termination on the finite
	// (function, def-site) domain.
	steps    int
	maxSteps int
}

// Propagate runs both whole-program fixpoints over the joined summaries and
// returns the whole-program map. A callee that is resolved, not foreign and
// not dynamically dispatched but has no summary is a fatal consistency error:
// proceeding would silently under-approximate.
func Propagate(cfg *config.Config, log *config.LogGroup,
	sums map[ir.FuncID]*summarize.Summary) (Result, error) {
	cg := BuildCallGraph(sums)
	return PropagateOver(cfg, log, sums, cg)
}

// PropagateOver is Propagate with a caller-provided call graph.
func PropagateOver(cfg *config.Config, log *config.LogGroup,
	sums map[ir.FuncID]*summarize.Summary, cg *CallGraph) (Result, error) {
	bound := cfg.MaxFixpointSteps
	if bound <= 0 {
		bound = defaultBound(sums)
	}
	p := &propagator{
		sums:     sums,
		cg:       cg,
		log:      log,
		res:      Result{},
		maxSteps: bound,
	}

	if err := p.findUnsafeAlloc(); err != nil {
		return nil, fmt.Errorf("heap-reachability fixpoint: %w", err)
	}
	log.Infof("heap-reachability fixpoint done: %d functions with unsafe allocation sites", len(p.res))

	if err := p.widenUnsafeSources(); err != nil {
		return nil, fmt.Errorf("unsafe-source widening fixpoint: %w", err)
	}
	log.Infof("unsafe-source widening done: %d functions in whole-program map", len(p.res))

	return p.res, nil
}

// defaultBound is the total number of (function, def-site) pairs mentioned
// by the program's summaries, the size of the propagation domain.
func defaultBound(sums map[ir.FuncID]*summarize.Summary) int {
	n := 0
	for _, sum := range sums {
		n += sum.DefSiteCount() + 1
	}
	// Every pair can be enqueued once per function it is re-attributed to.
	return n * (len(sums) + 1)
}

func (p *propagator) reset() {
	p.worklist = p.worklist[:0]
	p.processed = map[globalSite]bool{}
	p.steps = 0
}

func (p *propagator) enqueue(fn ir.FuncID, d summarize.DefSite) {
	p.worklist = append(p.worklist, globalSite{fn: fn, d: d})
}

// pop removes the next unprocessed item from the worklist. The processed set
// is checked at pop time, so duplicate enqueues are harmless.
func (p *propagator) pop() (globalSite, bool) {
	for len(p.worklist) > 0 {
		g := p.worklist[0]
		p.worklist = p.worklist[1:]
		if p.processed[g] {
			continue
		}
		p.processed[g] = true
		return g, true
	}
	return globalSite{}, false
}

func (p *propagator) step() error {
	p.steps++
	if p.steps > p.maxSteps {
		return fmt.Errorf("exceeded fixpoint bound of %d steps", p.maxSteps)
	}
	return nil
}

// findUnsafeAlloc is the first fixpoint: seeded with every unsafe-definition
// site from every summary, it resolves each site to the heap allocations
// that could have produced its value.
func (p *propagator) findUnsafeAlloc() error {
	p.reset()
	for id, sum := range p.sums {
		for d := range sum.UnsafeDefs {
			p.enqueue(id, d)
		}
	}

	for {
		g, ok := p.pop()
		if !ok {
			return nil
		}
		if err := p.step(); err != nil {
			return err
		}

		switch g.d.Kind {
		case summarize.DefHeapAlloc:
			// A heap allocation reachable from unsafe code: terminal.
			p.res.Add(g.fn, g.d)
		case summarize.DefNativeCall:
			// Opaque, not analyzable further.
		case summarize.DefOtherCall:
			if err := p.expandOtherCall(g); err != nil {
				return err
			}
		case summarize.DefArg:
			p.expandArg(g)
		}
	}
}

// expandOtherCall resolves the return value of every candidate callee at the
// call site: non-argument contributors are recorded or re-enqueued attributed
// to the callee, and argument contributors cross back into the caller's own
// def sites for that call.
func (p *propagator) expandOtherCall(g globalSite) error {
	sum := p.sums[g.fn]
	if sum == nil {
		return fmt.Errorf("no summary for function %s holding call site bb%d", g.fn, g.d.Site)
	}
	for _, rec := range sum.RecordsAt(g.d.Site) {
		if sum.IsForeign(rec.Callee) {
			continue
		}
		csum := p.sums[rec.Callee]
		if csum == nil {
			if sum.IsDynamic(rec.Callee) {
				// A pruned dispatch candidate; expected.
				continue
			}
			return fmt.Errorf("missing summary for callee %s (%s) called by %s",
				rec.CalleeName, rec.Callee, sum)
		}

		for d := range csum.Ret.Other {
			switch d.Kind {
			case summarize.DefHeapAlloc:
				p.res.Add(rec.Callee, d)
			case summarize.DefOtherCall:
				p.enqueue(rec.Callee, d)
			default:
				return fmt.Errorf("summary for %s holds %s among non-argument return contributors", csum, d)
			}
		}
		for _, d := range csum.Ret.Args {
			if d.Kind != summarize.DefArg {
				return fmt.Errorf("summary for %s holds %s among argument return contributors", csum, d)
			}
			if d.Site >= len(rec.ArgDefs) {
				// Called with fewer actuals than the contributing formal.
				continue
			}
			for ad := range rec.ArgDefs[d.Site] {
				p.enqueue(g.fn, ad)
			}
		}
	}
	return nil
}

// expandArg walks the reverse call-graph edges: the def sites feeding actual
// argument k at every call site of every caller become new work, attributed
// to the caller.
func (p *propagator) expandArg(g globalSite) {
	for caller := range p.cg.Callers(g.fn) {
		csum := p.sums[caller]
		if csum == nil {
			continue
		}
		for _, rec := range csum.RecordsFor(g.fn) {
			if g.d.Site >= len(rec.ArgDefs) {
				continue
			}
			for ad := range rec.ArgDefs[g.d.Site] {
				p.enqueue(caller, ad)
			}
		}
	}
}

// widenUnsafeSources is the second fixpoint, re-seeded from the first one's
// result. An unsafely-used heap value flowing into another call's argument
// marks the callee's formal unsafe; one flowing into the function's return
// value marks every call site invoking the function unsafe in its caller.
func (p *propagator) widenUnsafeSources() error {
	p.reset()
	for id, sites := range p.res {
		for d := range sites {
			if d.Kind != summarize.DefHeapAlloc {
				return fmt.Errorf("%s in %s: first fixpoint recorded a non-allocation site", d, id)
			}
			p.enqueue(id, d)
		}
	}

	for {
		g, ok := p.pop()
		if !ok {
			return nil
		}
		if err := p.step(); err != nil {
			return err
		}

		sum := p.sums[g.fn]
		if sum == nil {
			// The pair may be attributed to a native library function;
			// this happens for argument sites.
			continue
		}

		// The unsafe source used as an argument of another call taints the
		// callee's formal parameter. The call site that originated the
		// classification itself is excluded.
		for _, rec := range sum.Calls {
			if g.d.IsCall() && rec.Site == g.d.Site {
				continue
			}
			for pos, defs := range rec.ArgDefs {
				if !defs.Contains(g.d) {
					continue
				}
				arg := summarize.ArgAt(pos)
				p.res.Add(rec.Callee, arg)
				p.enqueue(rec.Callee, arg)
			}
		}

		// The unsafe source contributing to the return value taints every
		// call site invoking this function.
		if sum.Ret.Contains(g.d) {
			for caller := range p.cg.Callers(g.fn) {
				csum := p.sums[caller]
				if csum == nil {
					continue
				}
				for _, rec := range csum.RecordsFor(g.fn) {
					oc := summarize.OtherCallAt(rec.Site)
					p.res.Add(caller, oc)
					p.enqueue(caller, oc)
				}
			}
		}
	}
}
