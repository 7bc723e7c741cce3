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

// Package ir defines the language-independent control-flow-graph
// representation consumed by the analyses. A frontend (for example
// analysis/frontend/gossa) lowers a compiled program into this form: one
// Function per function body, each a graph of basic blocks holding ordered
// statements and a single terminator, with storage named by slot indices.
//
// Calls always terminate their containing block, so a call site is
// identified by its block index alone.
package ir

import "fmt"

// StmtKind discriminates the statement variants.
type StmtKind uint8

// The statement kinds.
const (
	// StmtAssign writes the value of RHS into LHS.
	StmtAssign StmtKind = iota
	// StmtSetDiscriminant writes a variant tag into LHS.
	StmtSetDiscriminant
	// StmtDeinit marks LHS as deinitialized.
	StmtDeinit
	// StmtNop does nothing.
	StmtNop
)

// A Statement is one non-terminating instruction of a basic block.
type Statement struct {
	Kind StmtKind
	// LHS is the written place for StmtAssign, StmtSetDiscriminant and
	// StmtDeinit.
	LHS Place
	// RHS is the read rvalue for StmtAssign, nil otherwise.
	RHS Rvalue
	// Unsafe marks statements lexically inside an unsafe block.
	Unsafe bool
}

// Places appends every place referenced by the statement, written or read,
// to dst.
func (s *Statement) Places(dst []Place) []Place {
	switch s.Kind {
	case StmtAssign:
		dst = append(dst, s.LHS)
		if s.RHS != nil {
			dst = s.RHS.Places(dst)
		}
	case StmtSetDiscriminant, StmtDeinit:
		dst = append(dst, s.LHS)
	case StmtNop:
	default:
		// Unknown kinds surface everything they mention; the searches
		// decide how loudly to complain.
		dst = append(dst, s.LHS)
		if s.RHS != nil {
			dst = s.RHS.Places(dst)
		}
	}
	return dst
}

// TermKind discriminates the terminator variants.
type TermKind uint8

// The terminator kinds.
const (
	// TermReturn leaves the function; the return value is in ReturnSlot.
	TermReturn TermKind = iota
	// TermGoto jumps unconditionally to the single successor.
	TermGoto
	// TermSwitchInt branches on the Cond operand.
	TermSwitchInt
	// TermCall invokes one of Callees with Args, storing into Dest.
	TermCall
	// TermDrop destroys the value in DropPlace.
	TermDrop
	// TermAssert checks the Cond operand and traps on failure.
	TermAssert
	// TermUnreachable marks dead control flow.
	TermUnreachable
)

// A Callee is one candidate target of a call, as resolved by the frontend.
// A direct call has exactly one candidate; a dispatch that cannot be resolved
// statically is expanded to every implementation that could be invoked, each
// marked Dynamic.
type Callee struct {
	ID FuncID
	// Name is the bare function name, consulted by the allocator table.
	Name string
	// Module is the owning module/crate identifier, consulted by the
	// native-library table.
	Module string
	// Foreign marks targets outside the analyzed program (FFI). Foreign
	// callees are excluded from whole-program propagation.
	Foreign bool
	// Dynamic marks candidates of a non-uniquely resolved dispatch. Their
	// summaries may legitimately be absent from the joined table.
	Dynamic bool
}

// A Terminator is the single terminating instruction of a basic block.
type Terminator struct {
	Kind TermKind
	// Callees holds the 1..n resolved candidates of a TermCall.
	Callees []Callee
	// Args are the actual arguments of a TermCall.
	Args []Operand
	// Dest is the destination place of a TermCall, nil when the call result
	// is unused or the callee returns nothing.
	Dest *Place
	// Cond is the operand read by TermSwitchInt and TermAssert.
	Cond Operand
	// DropPlace is the place destroyed by TermDrop.
	DropPlace *Place
	// Unsafe marks terminators lexically inside an unsafe block.
	Unsafe bool
}

// Places appends every place referenced by the terminator to dst. For calls
// this covers the arguments and the destination.
func (t *Terminator) Places(dst []Place) []Place {
	switch t.Kind {
	case TermCall:
		for _, a := range t.Args {
			dst = a.appendPlace(dst)
		}
		if t.Dest != nil {
			dst = append(dst, *t.Dest)
		}
	case TermSwitchInt, TermAssert:
		dst = t.Cond.appendPlace(dst)
	case TermDrop:
		if t.DropPlace != nil {
			dst = append(dst, *t.DropPlace)
		}
	case TermReturn, TermGoto, TermUnreachable:
	}
	return dst
}

// IsCall returns true when the terminator is a call with at least one
// resolved candidate.
func (t *Terminator) IsCall() bool {
	return t.Kind == TermCall && len(t.Callees) > 0
}

// A Block is one basic block: ordered statements followed by one terminator.
// Its index within the function doubles as the call-site identifier when the
// terminator is a call.
type Block struct {
	Index int
	Stmts []Statement
	Term  Terminator
	// Succs lists the indices of the successor blocks.
	Succs []int
}

// A Function is one function body: its stable identity, its formal-parameter
// count and its control-flow graph. Block 0 is the entry block.
type Function struct {
	ID     FuncID
	Name   string
	Module string
	// NumParams is the number of formal parameters, held in slots
	// 1..NumParams.
	NumParams int
	// Unsafe marks functions whose whole body is unsafe.
	Unsafe bool
	Blocks []*Block

	preds [][]int
}

// ParamSlot returns the slot of the 0-based formal parameter pos.
func (f *Function) ParamSlot(pos int) Slot {
	return Slot(pos + 1)
}

// ParamIndex returns the 0-based parameter position of slot s, or false when
// s is not a parameter slot.
func (f *Function) ParamIndex(s Slot) (int, bool) {
	if s >= 1 && int(s) <= f.NumParams {
		return int(s) - 1, true
	}
	return 0, false
}

// Preds returns the predecessor block indices of block b. The predecessor
// lists are computed once from the successor lists and cached.
func (f *Function) Preds(b int) []int {
	if f.preds == nil {
		f.preds = make([][]int, len(f.Blocks))
		for _, blk := range f.Blocks {
			for _, s := range blk.Succs {
				f.preds[s] = append(f.preds[s], blk.Index)
			}
		}
	}
	return f.preds[b]
}

// Validate checks the structural invariants a frontend must establish:
// contiguous block indices, successor indices in range, and call candidates
// on every call terminator.
func (f *Function) Validate() error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("function %s has no blocks", f.Name)
	}
	for i, b := range f.Blocks {
		if b.Index != i {
			return fmt.Errorf("function %s: block %d stored at position %d", f.Name, b.Index, i)
		}
		for _, s := range b.Succs {
			if s < 0 || s >= len(f.Blocks) {
				return fmt.Errorf("function %s: block %d has successor %d out of range", f.Name, i, s)
			}
		}
		if b.Term.Kind == TermCall && len(b.Term.Callees) == 0 {
			return fmt.Errorf("function %s: call at block %d has no resolved callee", f.Name, i)
		}
	}
	return nil
}

// A Program is the set of function bodies of one compilation unit.
type Program struct {
	Funcs []*Function

	index map[FuncID]*Function
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{index: map[FuncID]*Function{}}
}

// Add appends a function to the program.
func (p *Program) Add(f *Function) {
	if p.index == nil {
		p.index = map[FuncID]*Function{}
	}
	p.Funcs = append(p.Funcs, f)
	p.index[f.ID] = f
}

// Func returns the function with the given identity, or nil.
func (p *Program) Func(id FuncID) *Function {
	return p.index[id]
}
