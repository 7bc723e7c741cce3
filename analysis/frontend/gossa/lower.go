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

package gossa

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/awslabs/ar-sandbox-tools/analysis/config"
	"github.com/awslabs/ar-sandbox-tools/analysis/ir"
)

// lowerer lowers one SSA function body. SSA blocks are split at call
// instructions so that every call terminates its generic block; the split
// introduces continuation blocks and patches the original successor edges
// afterwards, once every block has its final index.
type lowerer struct {
	log *config.LogGroup
	fn  *ssa.Function
	out *ir.Function

	slots map[ssa.Value]ir.Slot
	next  ir.Slot

	cur     *ir.Block
	head    map[*ssa.BasicBlock]int
	patches []patch
}

// patch defers successor resolution for a terminator lowered before all
// block head indices are known.
type patch struct {
	block int
	succs []*ssa.BasicBlock
}

func lowerFunc(log *config.LogGroup, f *ssa.Function) *ir.Function {
	module := moduleOf(f)
	out := &ir.Function{
		ID:        ir.HashID(module, f.RelString(nil)),
		Name:      f.Name(),
		Module:    module,
		NumParams: len(f.Params),
	}
	l := &lowerer{
		log:   log,
		fn:    f,
		out:   out,
		slots: map[ssa.Value]ir.Slot{},
		head:  map[*ssa.BasicBlock]int{},
	}
	for i, p := range f.Params {
		l.slots[p] = out.ParamSlot(i)
	}
	l.next = ir.Slot(len(f.Params) + 1)
	for _, fv := range f.FreeVars {
		l.slots[fv] = l.next
		l.next++
	}

	for _, b := range f.Blocks {
		l.head[b] = len(out.Blocks)
		l.cur = l.newBlock()
		for _, instr := range b.Instrs {
			l.lowerInstr(instr)
		}
	}
	for _, p := range l.patches {
		blk := out.Blocks[p.block]
		for _, s := range p.succs {
			blk.Succs = append(blk.Succs, l.head[s])
		}
	}
	return out
}

func moduleOf(f *ssa.Function) string {
	if f.Pkg != nil {
		return f.Pkg.Pkg.Path()
	}
	if obj := f.Object(); obj != nil && obj.Pkg() != nil {
		return obj.Pkg().Path()
	}
	return "go"
}

func (l *lowerer) newBlock() *ir.Block {
	b := &ir.Block{Index: len(l.out.Blocks)}
	l.out.Blocks = append(l.out.Blocks, b)
	return b
}

// seal gives the current block a call terminator falling through to a fresh
// continuation block.
func (l *lowerer) seal(term ir.Terminator) {
	l.cur.Term = term
	l.cur.Succs = []int{len(l.out.Blocks)}
	l.cur = l.newBlock()
}

// terminate gives the current block its final terminator, resolving the ssa
// successor edges later.
func (l *lowerer) terminate(term ir.Terminator, succs []*ssa.BasicBlock) {
	l.cur.Term = term
	if len(succs) > 0 {
		l.patches = append(l.patches, patch{block: l.cur.Index, succs: succs})
	}
}

func (l *lowerer) emit(st ir.Statement) {
	l.cur.Stmts = append(l.cur.Stmts, st)
}

func (l *lowerer) assign(dst ssa.Value, rv ir.Rvalue, unsafe bool) {
	l.emit(ir.Statement{
		Kind:   ir.StmtAssign,
		LHS:    ir.MkPlace(l.slot(dst)),
		RHS:    rv,
		Unsafe: unsafe,
	})
}

func (l *lowerer) slot(v ssa.Value) ir.Slot {
	if s, ok := l.slots[v]; ok {
		return s
	}
	s := l.next
	l.next++
	l.slots[v] = s
	return s
}

func (l *lowerer) operand(v ssa.Value) ir.Operand {
	switch v.(type) {
	case nil, *ssa.Const, *ssa.Function, *ssa.Builtin:
		return ir.Const()
	default:
		return ir.UseSlot(l.slot(v))
	}
}

func (l *lowerer) operands(vs []ssa.Value) []ir.Operand {
	out := make([]ir.Operand, len(vs))
	for i, v := range vs {
		out[i] = l.operand(v)
	}
	return out
}

func (l *lowerer) lowerInstr(instr ssa.Instruction) {
	unsafe := instrUnsafe(instr)
	switch v := instr.(type) {
	case *ssa.Alloc:
		if v.Heap {
			l.synthCall("newobject", v, nil, unsafe)
		} else {
			l.assign(v, ir.Aggregate{}, unsafe)
		}
	case *ssa.MakeSlice:
		l.synthCall("makeslice", v, l.operands([]ssa.Value{v.Len, v.Cap}), unsafe)
	case *ssa.MakeMap:
		var args []ir.Operand
		if v.Reserve != nil {
			args = l.operands([]ssa.Value{v.Reserve})
		}
		l.synthCall("makemap", v, args, unsafe)
	case *ssa.MakeChan:
		l.synthCall("makechan", v, l.operands([]ssa.Value{v.Size}), unsafe)

	case *ssa.Call:
		l.lowerCall(v.Common(), v, unsafe)
	case *ssa.Defer:
		l.lowerCall(v.Common(), nil, unsafe)
	case *ssa.Go:
		l.lowerCall(v.Common(), nil, unsafe)

	case *ssa.Return:
		switch len(v.Results) {
		case 0:
		case 1:
			l.emit(ir.Statement{
				Kind: ir.StmtAssign,
				LHS:  ir.MkPlace(ir.ReturnSlot),
				RHS:  ir.Use{X: l.operand(v.Results[0])},
			})
		default:
			l.emit(ir.Statement{
				Kind: ir.StmtAssign,
				LHS:  ir.MkPlace(ir.ReturnSlot),
				RHS:  ir.Aggregate{Fields: l.operands(v.Results)},
			})
		}
		l.terminate(ir.Terminator{Kind: ir.TermReturn, Unsafe: unsafe}, nil)
	case *ssa.Jump:
		l.terminate(ir.Terminator{Kind: ir.TermGoto}, v.Block().Succs)
	case *ssa.If:
		l.terminate(ir.Terminator{
			Kind:   ir.TermSwitchInt,
			Cond:   l.operand(v.Cond),
			Unsafe: unsafe,
		}, v.Block().Succs)
	case *ssa.Panic:
		l.terminate(ir.Terminator{
			Kind:   ir.TermAssert,
			Cond:   l.operand(v.X),
			Unsafe: unsafe,
		}, nil)

	case *ssa.Store:
		l.emit(ir.Statement{
			Kind:   ir.StmtAssign,
			LHS:    ir.Deref(l.slot(v.Addr)),
			RHS:    ir.Use{X: l.operand(v.Val)},
			Unsafe: unsafe,
		})
	case *ssa.MapUpdate:
		l.emit(ir.Statement{
			Kind:   ir.StmtAssign,
			LHS:    ir.Place{Slot: l.slot(v.Map), Proj: []ir.Projection{ir.ProjIndex}},
			RHS:    ir.Use{X: l.operand(v.Value)},
			Unsafe: unsafe,
		})
	case *ssa.Send:
		l.emit(ir.Statement{
			Kind: ir.StmtAssign,
			LHS:  ir.MkPlace(l.slot(v.Chan)),
			RHS:  ir.BinaryOp{L: l.operand(v.Chan), R: l.operand(v.X)},
		})

	case *ssa.UnOp:
		if v.Op == token.MUL {
			l.assign(v, ir.Use{X: ir.UsePlace(ir.Deref(l.slot(v.X)))}, unsafe)
		} else {
			l.assign(v, ir.UnaryOp{X: l.operand(v.X)}, unsafe)
		}
	case *ssa.BinOp:
		l.assign(v, ir.BinaryOp{L: l.operand(v.X), R: l.operand(v.Y)}, unsafe)
	case *ssa.Phi:
		l.assign(v, ir.Aggregate{Fields: l.operands(v.Edges)}, unsafe)
	case *ssa.Extract:
		l.assign(v, ir.Use{X: l.operand(v.Tuple)}, unsafe)
	case *ssa.Field:
		l.assign(v, ir.Use{X: ir.UsePlace(fieldPlace(l.slot(v.X)))}, unsafe)
	case *ssa.FieldAddr:
		l.assign(v, ir.Ref{X: fieldPlace(l.slot(v.X))}, unsafe)
	case *ssa.Index:
		l.assign(v, ir.Use{X: ir.UsePlace(indexPlace(l.slot(v.X)))}, unsafe)
	case *ssa.IndexAddr:
		l.assign(v, ir.Ref{X: indexPlace(l.slot(v.X))}, unsafe)
	case *ssa.Lookup:
		l.assign(v, ir.Use{X: ir.UsePlace(indexPlace(l.slot(v.X)))}, unsafe)
	case *ssa.Slice:
		l.assign(v, ir.Use{X: l.operand(v.X)}, unsafe)
	case *ssa.SliceToArrayPointer:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.Convert:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.ChangeType:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.ChangeInterface:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.MakeInterface:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.TypeAssert:
		l.assign(v, ir.Cast{X: l.operand(v.X)}, unsafe)
	case *ssa.Range:
		l.assign(v, ir.Use{X: l.operand(v.X)}, unsafe)
	case *ssa.Next:
		l.assign(v, ir.Use{X: l.operand(v.Iter)}, unsafe)
	case *ssa.MakeClosure:
		l.assign(v, ir.Aggregate{Fields: l.operands(v.Bindings)}, unsafe)
	case *ssa.Select:
		var ops []ir.Operand
		for _, st := range v.States {
			ops = append(ops, l.operand(st.Chan))
			if st.Send != nil {
				ops = append(ops, l.operand(st.Send))
			}
		}
		l.assign(v, ir.Aggregate{Fields: ops}, unsafe)

	case *ssa.RunDefers, *ssa.DebugRef:
	default:
		// Instructions without a dedicated lowering degrade to an
		// assignment reading every operand, which over-approximates their
		// data flow.
		if val, ok := instr.(ssa.Value); ok {
			var vs []ssa.Value
			for _, r := range instr.Operands(nil) {
				if r != nil && *r != nil {
					vs = append(vs, *r)
				}
			}
			l.assign(val, ir.Aggregate{Fields: l.operands(vs)}, unsafe)
		} else {
			l.log.Tracef("%s: dropping instruction %s", l.out.Name, instr)
		}
	}
}

// synthCall lowers an allocation instruction as a call into the runtime
// module, so the allocator name tables classify it like any other allocation
// call site.
func (l *lowerer) synthCall(name string, dst ssa.Value, args []ir.Operand, unsafe bool) {
	p := ir.MkPlace(l.slot(dst))
	l.seal(ir.Terminator{
		Kind: ir.TermCall,
		Callees: []ir.Callee{{
			ID:     ir.HashID("runtime", name),
			Name:   name,
			Module: "runtime",
		}},
		Args:   args,
		Dest:   &p,
		Unsafe: unsafe,
	})
}

func (l *lowerer) lowerCall(cc *ssa.CallCommon, dst ssa.Value, unsafe bool) {
	if b, ok := cc.Value.(*ssa.Builtin); ok && !cc.IsInvoke() {
		// Builtins are pure data flow from the analysis perspective.
		rv := ir.Aggregate{Fields: l.operands(cc.Args)}
		if dst != nil {
			l.assign(dst, rv, unsafe)
		} else {
			l.log.Tracef("%s: builtin %s without destination", l.out.Name, b.Name())
		}
		return
	}

	var callees []ir.Callee
	args := l.operands(cc.Args)
	switch {
	case cc.IsInvoke():
		m := cc.Method
		module := "go"
		if m.Pkg() != nil {
			module = m.Pkg().Path()
		}
		callees = []ir.Callee{{
			ID:      ir.HashID(module, cc.Value.Type().String()+"."+m.Name()),
			Name:    m.Name(),
			Module:  module,
			Dynamic: true,
		}}
		args = append([]ir.Operand{l.operand(cc.Value)}, args...)
	default:
		if sc := cc.StaticCallee(); sc != nil {
			module := moduleOf(sc)
			callees = []ir.Callee{{
				ID:      ir.HashID(module, sc.RelString(nil)),
				Name:    sc.Name(),
				Module:  module,
				Foreign: sc.Blocks == nil,
			}}
		} else {
			// A call through a function value. The target set is unknown;
			// mark it dynamic so missing summaries are tolerated.
			callees = []ir.Callee{{
				ID:      ir.HashID("go", cc.Signature().String()),
				Name:    "indirect",
				Module:  "go",
				Dynamic: true,
			}}
			args = append([]ir.Operand{l.operand(cc.Value)}, args...)
		}
	}

	var dest *ir.Place
	if dst != nil {
		p := ir.MkPlace(l.slot(dst))
		dest = &p
	}
	l.seal(ir.Terminator{
		Kind:    ir.TermCall,
		Callees: callees,
		Args:    args,
		Dest:    dest,
		Unsafe:  unsafe,
	})
}

func fieldPlace(s ir.Slot) ir.Place {
	return ir.Place{Slot: s, Proj: []ir.Projection{ir.ProjField}}
}

func indexPlace(s ir.Slot) ir.Place {
	return ir.Place{Slot: s, Proj: []ir.Projection{ir.ProjIndex}}
}

// instrUnsafe reports whether the instruction produces or consumes an
// unsafe.Pointer value.
func instrUnsafe(instr ssa.Instruction) bool {
	if v, ok := instr.(ssa.Value); ok && v.Type() != nil && isUnsafePtr(v.Type()) {
		return true
	}
	for _, r := range instr.Operands(nil) {
		if r == nil || *r == nil {
			continue
		}
		if isUnsafePtr((*r).Type()) {
			return true
		}
	}
	return false
}

func isUnsafePtr(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Kind() == types.UnsafePointer
}
