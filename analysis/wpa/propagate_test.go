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

package wpa

import (
	"io"
	"reflect"
	"testing"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
	"github.com/awslabs/ar-sandbox-tools/analysis/summarize"
)

func testSetup() (*config.Config, *config.LogGroup) {
	cfg := config.NewDefault()
	cfg.LogLevel = int(config.ErrLevel)
	log := config.NewLogGroup(cfg)
	log.SetAllOutput(io.Discard)
	return cfg, log
}

func mkFn(name string, params int, blocks ...*ir.Block) *ir.Function {
	return &ir.Function{
		ID:        ir.HashID("app", name),
		Name:      name,
		Module:    "app",
		NumParams: params,
		Blocks:    blocks,
	}
}

func callBlock(idx int, callee ir.Callee, dest ir.Slot, succ int, args ...ir.Operand) *ir.Block {
	p := ir.MkPlace(dest)
	return &ir.Block{
		Index: idx,
		Term: ir.Terminator{
			Kind:    ir.TermCall,
			Callees: []ir.Callee{callee},
			Args:    args,
			Dest:    &p,
		},
		Succs: []int{succ},
	}
}

func retBlock(idx int, stmts ...ir.Statement) *ir.Block {
	return &ir.Block{Index: idx, Stmts: stmts, Term: ir.Terminator{Kind: ir.TermReturn}}
}

func copySlot(dst, src ir.Slot) ir.Statement {
	return ir.Statement{Kind: ir.StmtAssign, LHS: ir.MkPlace(dst), RHS: ir.Use{X: ir.UseSlot(src)}}
}

func unsafeDeref(dst, src ir.Slot) ir.Statement {
	return ir.Statement{
		Kind:   ir.StmtAssign,
		LHS:    ir.MkPlace(dst),
		RHS:    ir.Use{X: ir.UsePlace(ir.Deref(src))},
		Unsafe: true,
	}
}

func calleeOf(fn *ir.Function) ir.Callee {
	return ir.Callee{ID: fn.ID, Name: fn.Name, Module: fn.Module}
}

var allocCallee = ir.Callee{ID: ir.HashID("alloc", "new"), Name: "new", Module: "alloc"}

func summarizeAll(t *testing.T, fns ...*ir.Function) map[ir.FuncID]*summarize.Summary {
	t.Helper()
	cfg, log := testSetup()
	sums := map[ir.FuncID]*summarize.Summary{}
	for _, fn := range fns {
		sum, err := summarize.Summarize(cfg, log, fn)
		if err != nil {
			t.Fatalf("summarize %s: %v", fn.Name, err)
		}
		sums[fn.ID] = sum
	}
	return sums
}

func checkResult(t *testing.T, res Result, fn *ir.Function, want ...summarize.DefSite) {
	t.Helper()
	got := res[fn.ID]
	if len(got) != len(want) {
		t.Errorf("%s: expected %v, got %v", fn.Name, want, got)
		return
	}
	for _, d := range want {
		if !got.Contains(d) {
			t.Errorf("%s: missing %s in %v", fn.Name, d, got)
		}
	}
}

// An allocation in one function handed to a callee that dereferences it in
// unsafe code. The allocation site must be flagged in the allocator, and the
// formal parameter flagged in the consumer.
func TestPropagateDownward(t *testing.T) {
	g := mkFn("g", 1, retBlock(0, unsafeDeref(2, 1)))
	f := mkFn("f", 0,
		callBlock(0, allocCallee, 2, 1),
		callBlock(1, calleeOf(g), 3, 2, ir.UseSlot(2)),
		retBlock(2),
	)
	cfg, log := testSetup()
	res, err := Propagate(cfg, log, summarizeAll(t, f, g))
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	checkResult(t, res, f, summarize.HeapAllocAt(0))
	checkResult(t, res, g, summarize.ArgAt(0))
}

// An allocation returned by a callee and dereferenced unsafely by the
// caller. The allocation site must be flagged in the callee, and the call
// site flagged in the caller.
func TestPropagateUpward(t *testing.T) {
	h := mkFn("h", 0,
		callBlock(0, allocCallee, ir.ReturnSlot, 1),
		retBlock(1),
	)
	c := mkFn("c", 0,
		callBlock(0, calleeOf(h), 2, 1),
		retBlock(1, unsafeDeref(3, 2)),
	)
	cfg, log := testSetup()
	res, err := Propagate(cfg, log, summarizeAll(t, c, h))
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	checkResult(t, res, h, summarize.HeapAllocAt(0))
	checkResult(t, res, c, summarize.OtherCallAt(0))
}

// A call result dereferenced unsafely, where the callee merely forwards one
// of its parameters. The summarizer records only the call site; the
// propagation must follow the callee's return summary back to the actual
// argument and from there to the allocation in the outer caller.
func TestUnsafeCallResultResolvedThroughCallee(t *testing.T) {
	mk := mkFn("mk", 1, retBlock(0, copySlot(ir.ReturnSlot, 1)))
	f := mkFn("f", 1,
		callBlock(0, calleeOf(mk), 2, 1, ir.UseSlot(1)),
		retBlock(1, unsafeDeref(3, 2)),
	)
	a := mkFn("a", 0,
		callBlock(0, allocCallee, 2, 1),
		callBlock(1, calleeOf(f), 3, 2, ir.UseSlot(2)),
		retBlock(2),
	)
	cfg, log := testSetup()
	sums := summarizeAll(t, a, f, mk)
	if got := sums[f.ID].UnsafeDefs; len(got) != 1 || !got.Contains(summarize.OtherCallAt(0)) {
		t.Fatalf("f should carry only the call site as unsafe def, got %v", got)
	}
	res, err := Propagate(cfg, log, sums)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	checkResult(t, res, a, summarize.HeapAllocAt(0))
	checkResult(t, res, f, summarize.ArgAt(0), summarize.OtherCallAt(0))
	checkResult(t, res, mk, summarize.ArgAt(0))
}

func TestRecursionTerminates(t *testing.T) {
	f := mkFn("f", 1,
		callBlock(0, allocCallee, 2, 1),
		nil, // placeholder, replaced below with the self call
		retBlock(2, unsafeDeref(3, 1)),
	)
	f.Blocks[1] = callBlock(1, calleeOf(f), 3, 2, ir.UseSlot(2))
	cfg, log := testSetup()
	res, err := Propagate(cfg, log, summarizeAll(t, f))
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	checkResult(t, res, f, summarize.HeapAllocAt(0), summarize.ArgAt(0))
}

func TestMissingSummaryIsFatal(t *testing.T) {
	mystery := ir.Callee{ID: ir.HashID("app", "mystery"), Name: "mystery", Module: "app"}
	f := mkFn("f", 0,
		callBlock(0, mystery, 2, 1),
		retBlock(1, unsafeDeref(3, 2)),
	)
	cfg, log := testSetup()
	if _, err := Propagate(cfg, log, summarizeAll(t, f)); err == nil {
		t.Errorf("expected an error for a missing non-dynamic summary")
	}
}

func TestMissingDynamicSummarySkipped(t *testing.T) {
	mystery := ir.Callee{ID: ir.HashID("app", "mystery"), Name: "mystery", Module: "app", Dynamic: true}
	f := mkFn("f", 0,
		callBlock(0, mystery, 2, 1),
		retBlock(1, unsafeDeref(3, 2)),
	)
	cfg, log := testSetup()
	res, err := Propagate(cfg, log, summarizeAll(t, f))
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("unresolvable dynamic call should yield no findings, got %v", res)
	}
}

func TestStepBound(t *testing.T) {
	g := mkFn("g", 1, retBlock(0, unsafeDeref(2, 1)))
	f := mkFn("f", 0,
		callBlock(0, allocCallee, 2, 1),
		callBlock(1, calleeOf(g), 3, 2, ir.UseSlot(2)),
		retBlock(2),
	)
	cfg, log := testSetup()
	cfg.MaxFixpointSteps = 1
	if _, err := Propagate(cfg, log, summarizeAll(t, f, g)); err == nil {
		t.Errorf("expected the step bound to fire")
	}
}

func TestPropagateIsIdempotent(t *testing.T) {
	g := mkFn("g", 1, retBlock(0, unsafeDeref(2, 1)))
	f := mkFn("f", 0,
		callBlock(0, allocCallee, 2, 1),
		callBlock(1, calleeOf(g), 3, 2, ir.UseSlot(2)),
		retBlock(2),
	)
	cfg, log := testSetup()
	sums := summarizeAll(t, f, g)
	first, err := Propagate(cfg, log, sums)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Propagate(cfg, log, sums)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs disagree: %v vs %v", first, second)
	}
}

func TestCallGraphEdges(t *testing.T) {
	g := mkFn("g", 1, retBlock(0))
	f := mkFn("f", 0,
		callBlock(0, calleeOf(g), 2, 1),
		retBlock(1),
	)
	cg := BuildCallGraph(summarizeAll(t, f, g))
	fn, ok := cg.Nodes[f.ID]
	if !ok {
		t.Fatalf("caller node missing")
	}
	if !fn.Callees[g.ID] {
		t.Errorf("caller lacks callee edge")
	}
	gn, ok := cg.Nodes[g.ID]
	if !ok {
		t.Fatalf("callee node missing")
	}
	if !gn.Callers[f.ID] {
		t.Errorf("callee lacks caller edge")
	}
	if callers := cg.Callers(g.ID); len(callers) != 1 || !callers[f.ID] {
		t.Errorf("Callers(g) = %v", callers)
	}
	if gn.Name != "g" || gn.Module != "app" {
		t.Errorf("callee provenance not filled in: %q %q", gn.Name, gn.Module)
	}
}
