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

package ir

import (
	"sort"
	"testing"
)

func diamond() *Function {
	// bb0 -> bb1, bb2; bb1 -> bb3; bb2 -> bb3
	return &Function{
		ID:        HashID("app", "diamond"),
		Name:      "diamond",
		Module:    "app",
		NumParams: 1,
		Blocks: []*Block{
			{Index: 0, Term: Terminator{Kind: TermSwitchInt, Cond: UseSlot(1)}, Succs: []int{1, 2}},
			{Index: 1, Term: Terminator{Kind: TermGoto}, Succs: []int{3}},
			{Index: 2, Term: Terminator{Kind: TermGoto}, Succs: []int{3}},
			{Index: 3, Term: Terminator{Kind: TermReturn}},
		},
	}
}

func TestPreds(t *testing.T) {
	fn := diamond()
	if len(fn.Preds(0)) != 0 {
		t.Errorf("entry block should have no predecessors, got %v", fn.Preds(0))
	}
	got := append([]int{}, fn.Preds(3)...)
	sort.Ints(got)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected predecessors [1 2] for bb3, got %v", got)
	}
	if len(fn.Preds(1)) != 1 || fn.Preds(1)[0] != 0 {
		t.Errorf("expected predecessors [0] for bb1, got %v", fn.Preds(1))
	}
}

func TestParamSlots(t *testing.T) {
	fn := &Function{Name: "f", NumParams: 2}
	if fn.ParamSlot(0) != 1 || fn.ParamSlot(1) != 2 {
		t.Errorf("parameter slots should be 1 and 2")
	}
	if pos, ok := fn.ParamIndex(2); !ok || pos != 1 {
		t.Errorf("slot 2 should be parameter 1, got %d %v", pos, ok)
	}
	if _, ok := fn.ParamIndex(ReturnSlot); ok {
		t.Errorf("the return slot is not a parameter")
	}
	if _, ok := fn.ParamIndex(3); ok {
		t.Errorf("slot 3 is a temporary, not a parameter")
	}
}

func TestValidate(t *testing.T) {
	fn := diamond()
	if err := fn.Validate(); err != nil {
		t.Errorf("valid function rejected: %v", err)
	}

	bad := diamond()
	bad.Blocks[1].Succs = []int{7}
	if err := bad.Validate(); err == nil {
		t.Errorf("out-of-range successor accepted")
	}

	noCallee := diamond()
	noCallee.Blocks[1].Term = Terminator{Kind: TermCall}
	if err := noCallee.Validate(); err == nil {
		t.Errorf("call without callees accepted")
	}

	empty := &Function{Name: "empty"}
	if err := empty.Validate(); err == nil {
		t.Errorf("function without blocks accepted")
	}
}

func TestStatementPlaces(t *testing.T) {
	st := Statement{
		Kind: StmtAssign,
		LHS:  MkPlace(3),
		RHS:  BinaryOp{L: UseSlot(1), R: UseSlot(2)},
	}
	places := st.Places(nil)
	if len(places) != 3 {
		t.Fatalf("expected 3 places, got %v", places)
	}
	slots := map[Slot]bool{}
	for _, p := range places {
		slots[p.Slot] = true
	}
	for _, s := range []Slot{1, 2, 3} {
		if !slots[s] {
			t.Errorf("missing slot %d in %v", s, places)
		}
	}
}

func TestTerminatorPlaces(t *testing.T) {
	dest := MkPlace(4)
	term := Terminator{
		Kind:    TermCall,
		Callees: []Callee{{ID: HashID("app", "g"), Name: "g", Module: "app"}},
		Args:    []Operand{UseSlot(1), Const()},
		Dest:    &dest,
	}
	places := term.Places(nil)
	if len(places) != 2 {
		t.Fatalf("expected arg and dest places, got %v", places)
	}
	if places[0].Slot != 1 || places[1].Slot != 4 {
		t.Errorf("unexpected places %v", places)
	}
}

func TestDerefCount(t *testing.T) {
	if Deref(2).DerefCount() != 1 {
		t.Errorf("single deref place should count 1")
	}
	if MkPlace(2).DerefCount() != 0 {
		t.Errorf("projection-free place should count 0")
	}
	deep := Place{Slot: 2, Proj: []Projection{ProjDeref, ProjField, ProjDeref}}
	if deep.DerefCount() != 2 {
		t.Errorf("expected 2 derefs, got %d", deep.DerefCount())
	}
}

func TestSlotsInRvalue(t *testing.T) {
	dst := map[Slot]bool{}
	SlotsInRvalue(Aggregate{Fields: []Operand{UseSlot(1), Const(), UseSlot(5)}}, dst)
	if len(dst) != 2 || !dst[1] || !dst[5] {
		t.Errorf("expected slots {1 5}, got %v", dst)
	}
	SlotsInRvalue(nil, dst)
	if len(dst) != 2 {
		t.Errorf("nil rvalue should contribute nothing")
	}
}

func TestFuncIDRoundtrip(t *testing.T) {
	id := HashID("app", "f")
	if id.IsZero() {
		t.Fatalf("hash of a nonempty name should not be zero")
	}
	if id == HashID("app", "g") {
		t.Errorf("distinct names should hash differently")
	}
	if id != HashID("app", "f") {
		t.Errorf("hashing is not stable")
	}

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back FuncID
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != id {
		t.Errorf("roundtrip changed identity: %s != %s", back, id)
	}

	if err := back.UnmarshalText([]byte("nothex")); err == nil {
		t.Errorf("malformed text accepted")
	}
}

func TestProgramIndex(t *testing.T) {
	prog := NewProgram()
	fn := diamond()
	prog.Add(fn)
	if prog.Func(fn.ID) != fn {
		t.Errorf("added function not found by identity")
	}
	if prog.Func(HashID("app", "other")) != nil {
		t.Errorf("lookup of an absent identity should return nil")
	}
}
