// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ir defines the integer index expression tree consumed by the
// affine iteration-map detector. It models the small slice of an arithmetic
// IR that the detector needs: variables standing for loop iterators,
// integer constants, the five affine operators (add, sub, mul, floor-div,
// floor-mod) and the comparisons and conjunctions used in loop predicates.
package ir

import "fmt"

// Kind is the scalar type of an expression.
type Kind int

const (
	// IntKind is the kind of an integer-valued expression.
	IntKind Kind = iota
	// BoolKind is the kind of a boolean-valued expression, produced by
	// comparisons and conjunctions.
	BoolKind
)

func (k Kind) String() string {
	if k == BoolKind {
		return "bool"
	}
	return "int"
}

// Span locates an expression for diagnostic reporting. It is deliberately
// light: the detector has no source file of its own, so a span just carries
// a human-readable description of where an expression came from.
type Span struct {
	Desc string
}

// String representation of the span.
func (s Span) String() string {
	if s.Desc == "" {
		return "<expr>"
	}
	return s.Desc
}

type (
	// Node is any node of the expression tree.
	Node interface {
		// node marks a type as a node of this tree, preventing external
		// packages from implementing Node directly.
		node()
	}

	// Expr is an integer or boolean valued expression.
	Expr interface {
		Node
		fmt.Stringer

		// Kind of value the expression produces.
		Kind() Kind
		// Span is the source location the expression is attached to.
		Span() Span
		// Equal reports whether other is structurally identical to the
		// receiver: same node shape, same children, recursively.
		Equal(other Expr) bool
	}
)

// Op is an operator carried by a BinaryExpr.
type Op int

const (
	// Add is x + y.
	Add Op = iota
	// Sub is x - y.
	Sub
	// Mul is x * y.
	Mul
	// FloorDiv is floordiv(x, y).
	FloorDiv
	// FloorMod is floormod(x, y).
	FloorMod
	// Lt is x < y.
	Lt
	// Le is x <= y.
	Le
	// Gt is x > y.
	Gt
	// Ge is x >= y.
	Ge
	// And is x && y, both boolean.
	And
)

var opSym = map[Op]string{
	Add: "+", Sub: "-", Mul: "*", FloorDiv: "//", FloorMod: "%",
	Lt: "<", Le: "<=", Gt: ">", Ge: ">=", And: "&&",
}

func (op Op) String() string {
	s, ok := opSym[op]
	if !ok {
		return "?"
	}
	return s
}

// IsCompare reports whether op is one of the four ordering comparisons.
func (op Op) IsCompare() bool {
	return op == Lt || op == Le || op == Gt || op == Ge
}

type (
	// Var is a reference to an input iterator (or any other free integer
	// variable appearing in an index expression).
	Var struct {
		Name string
		Sp   Span
	}

	// Const is an integer literal.
	Const struct {
		Value int64
		Sp    Span
	}

	// BinaryExpr is a two-argument operator node: one of the affine
	// arithmetic operators, a comparison, or a logical conjunction.
	BinaryExpr struct {
		Op   Op
		X, Y Expr
		Sp   Span
	}
)

func (*Var) node()        {}
func (*Const) node()      {}
func (*BinaryExpr) node() {}

// Kind of a variable: always integer, the detector never sees boolean
// input iterators.
func (v *Var) Kind() Kind { return IntKind }

// Span of the variable reference.
func (v *Var) Span() Span { return v.Sp }

func (v *Var) String() string { return v.Name }

// Equal reports whether other is the same variable (by name).
func (v *Var) Equal(other Expr) bool {
	o, ok := other.(*Var)
	return ok && o.Name == v.Name
}

// Kind of a constant: always integer.
func (c *Const) Kind() Kind { return IntKind }

// Span of the constant.
func (c *Const) Span() Span { return c.Sp }

func (c *Const) String() string { return fmt.Sprintf("%d", c.Value) }

// Equal reports whether other is the same integer constant.
func (c *Const) Equal(other Expr) bool {
	o, ok := other.(*Const)
	return ok && o.Value == c.Value
}

// IntConst builds an integer constant with no attached span.
func IntConst(v int64) *Const { return &Const{Value: v} }

// IsConst reports whether e is a constant, returning its value.
func IsConst(e Expr) (int64, bool) {
	c, ok := e.(*Const)
	if !ok {
		return 0, false
	}
	return c.Value, true
}

// IsZero reports whether e is the constant zero.
func IsZero(e Expr) bool {
	v, ok := IsConst(e)
	return ok && v == 0
}

// IsOne reports whether e is the constant one.
func IsOne(e Expr) bool {
	v, ok := IsConst(e)
	return ok && v == 1
}

// Kind of a binary expression: boolean for comparisons and conjunctions,
// integer otherwise.
func (b *BinaryExpr) Kind() Kind {
	if b.Op.IsCompare() || b.Op == And {
		return BoolKind
	}
	return IntKind
}

// Span of the binary expression.
func (b *BinaryExpr) Span() Span { return b.Sp }

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.X, b.Op, b.Y)
}

// Equal reports whether other is the same operator applied to structurally
// equal operands, in the same order.
func (b *BinaryExpr) Equal(other Expr) bool {
	o, ok := other.(*BinaryExpr)
	if !ok || o.Op != b.Op {
		return false
	}
	return b.X.Equal(o.X) && b.Y.Equal(o.Y)
}

// NewBinary builds a binary expression node.
func NewBinary(op Op, x, y Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, X: x, Y: y}
}

// True is the constant boolean predicate "no constraint".
var True = &Const{Value: 1}

// IsTrue reports whether e is the literal true predicate.
func IsTrue(e Expr) bool {
	v, ok := IsConst(e)
	return ok && v != 0
}
