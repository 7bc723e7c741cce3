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

// Slot is an index naming one storage location within a function body.
// Slot 0 is the distinguished return-value slot; slots 1..NumParams are the
// formal parameters; higher indices are temporaries. Slots are scoped to one
// function and are never shared across functions except by value-copy through
// call arguments and returns.
type Slot int

// ReturnSlot is the distinguished slot holding a function's return value.
const ReturnSlot Slot = 0

// Projection is one step of a place projection: a pointer dereference, a
// field selection or an index operation. Only the dereference step matters to
// the unsafe-access search; field and index steps are kept at slot
// granularity.
type Projection uint8

// The projection kinds.
const (
	ProjDeref Projection = iota
	ProjField
	ProjIndex
)

// A Place is a storage location: a base slot and a possibly empty sequence of
// projections applied to it.
type Place struct {
	Slot Slot
	Proj []Projection
}

// MkPlace returns the projection-free place for slot s.
func MkPlace(s Slot) Place {
	return Place{Slot: s}
}

// Deref returns the place reading through a pointer held in slot s.
func Deref(s Slot) Place {
	return Place{Slot: s, Proj: []Projection{ProjDeref}}
}

// DerefCount returns the number of dereference projections of the place.
func (p Place) DerefCount() int {
	n := 0
	for _, pr := range p.Proj {
		if pr == ProjDeref {
			n++
		}
	}
	return n
}

// An Operand is either a use of a place, by copy or move, or an opaque
// constant. Copies and moves are treated identically; only place operands
// carry data-flow information.
type Operand struct {
	// Place is nil when the operand is a constant.
	Place *Place
}

// UseSlot returns a place operand for the projection-free place of slot s.
func UseSlot(s Slot) Operand {
	p := MkPlace(s)
	return Operand{Place: &p}
}

// UsePlace returns an operand reading place p.
func UsePlace(p Place) Operand {
	return Operand{Place: &p}
}

// Const returns a constant operand, which carries no data flow.
func Const() Operand {
	return Operand{}
}

// appendPlace adds the operand's place to dst when the operand is not a
// constant.
func (o Operand) appendPlace(dst []Place) []Place {
	if o.Place != nil {
		dst = append(dst, *o.Place)
	}
	return dst
}

// An Rvalue is the right-hand side of an assignment. Each kind knows which
// places it references; the search rules treat all kinds uniformly as
// "collect referenced slots".
type Rvalue interface {
	// Places appends the places referenced by the rvalue to dst.
	Places(dst []Place) []Place
}

// Use reads a single operand.
type Use struct{ X Operand }

// Repeat fills an array from one operand.
type Repeat struct{ X Operand }

// Ref takes a reference to a place.
type Ref struct{ X Place }

// AddrOf takes the raw address of a place.
type AddrOf struct{ X Place }

// Len reads the length of a place.
type Len struct{ X Place }

// Cast converts an operand to another type.
type Cast struct{ X Operand }

// UnaryOp applies a unary operator to an operand.
type UnaryOp struct{ X Operand }

// BinaryOp applies a binary operator to two operands.
type BinaryOp struct{ L, R Operand }

// Discriminant reads the variant discriminant of a place.
type Discriminant struct{ X Place }

// Aggregate builds a compound value from field operands. Allocation sites are
// tracked at whole-aggregate granularity, not per field.
type Aggregate struct{ Fields []Operand }

// ShallowInitBox initializes a box from a raw pointer operand.
type ShallowInitBox struct{ X Operand }

// Places implements Rvalue.
func (r Use) Places(dst []Place) []Place { return r.X.appendPlace(dst) }

// Places implements Rvalue.
func (r Repeat) Places(dst []Place) []Place { return r.X.appendPlace(dst) }

// Places implements Rvalue.
func (r Ref) Places(dst []Place) []Place { return append(dst, r.X) }

// Places implements Rvalue.
func (r AddrOf) Places(dst []Place) []Place { return append(dst, r.X) }

// Places implements Rvalue.
func (r Len) Places(dst []Place) []Place { return append(dst, r.X) }

// Places implements Rvalue.
func (r Cast) Places(dst []Place) []Place { return r.X.appendPlace(dst) }

// Places implements Rvalue.
func (r UnaryOp) Places(dst []Place) []Place { return r.X.appendPlace(dst) }

// Places implements Rvalue.
func (r BinaryOp) Places(dst []Place) []Place {
	dst = r.L.appendPlace(dst)
	return r.R.appendPlace(dst)
}

// Places implements Rvalue.
func (r Discriminant) Places(dst []Place) []Place { return append(dst, r.X) }

// Places implements Rvalue.
func (r Aggregate) Places(dst []Place) []Place {
	for _, f := range r.Fields {
		dst = f.appendPlace(dst)
	}
	return dst
}

// Places implements Rvalue.
func (r ShallowInitBox) Places(dst []Place) []Place { return r.X.appendPlace(dst) }

// SlotsInOperands adds the base slot of every place operand in args to the
// set dst.
func SlotsInOperands(args []Operand, dst map[Slot]bool) {
	for _, a := range args {
		if a.Place != nil {
			dst[a.Place.Slot] = true
		}
	}
}

// SlotsInRvalue adds the base slot of every place referenced by rv to the set
// dst. A nil rvalue contributes nothing.
func SlotsInRvalue(rv Rvalue, dst map[Slot]bool) {
	if rv == nil {
		return
	}
	for _, p := range rv.Places(nil) {
		dst[p.Slot] = true
	}
}
