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

// Package analyzer implements the arithmetic analyzer the detector treats
// as an external collaborator: integer constant folding, equality proofs
// and divisibility proofs over bounded variables. It is deliberately
// narrow, covering only affine arithmetic over bounded ranges, so the
// detector never needs more than what this analyzer can prove.
package analyzer

import (
	"math"

	"github.com/gx-org/itermap/ir"
)

// Range is a half-open integer interval [Lo, Hi).
type Range struct {
	Lo, Hi int64
}

// Analyzer proves facts about integer expressions built from a fixed set of
// bounded variables. An Analyzer is owned by a single detection call: it is
// never shared or mutated concurrently.
type Analyzer struct {
	ranges map[string]Range
}

// New returns an analyzer that knows the range of each named variable.
// Variables absent from ranges are treated as unbounded.
func New(ranges map[string]Range) *Analyzer {
	cp := make(map[string]Range, len(ranges))
	for k, v := range ranges {
		cp[k] = v
	}
	return &Analyzer{ranges: cp}
}

const (
	negInf = math.MinInt64
	posInf = math.MaxInt64
)

func full() Range { return Range{Lo: negInf, Hi: posInf} }

func isFull(r Range) bool { return r.Lo == negInf && r.Hi == posInf }

// floorDiv and floorMod implement floor semantics (as opposed to Go's
// truncating / and %), which is the only division semantics the detector
// supports.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// Bound returns a conservative [lo, hi) enclosure of e's possible values,
// using interval arithmetic over the variable ranges the analyzer was
// constructed with. The second return is false when no finite enclosure
// could be derived (e.g. an unbounded variable).
func (a *Analyzer) Bound(e ir.Expr) (Range, bool) {
	switch t := e.(type) {
	case *ir.Const:
		return Range{Lo: t.Value, Hi: t.Value + 1}, true
	case *ir.Var:
		r, ok := a.ranges[t.Name]
		if !ok || isFull(r) {
			return Range{}, false
		}
		return r, true
	case *ir.BinaryExpr:
		return a.boundBinary(t)
	default:
		return Range{}, false
	}
}

func (a *Analyzer) boundBinary(e *ir.BinaryExpr) (Range, bool) {
	x, okx := a.Bound(e.X)
	y, oky := a.Bound(e.Y)
	if !okx || !oky {
		return Range{}, false
	}
	switch e.Op {
	case ir.Add:
		return Range{Lo: x.Lo + y.Lo, Hi: x.Hi - 1 + y.Hi - 1 + 1}, true
	case ir.Sub:
		return Range{Lo: x.Lo - (y.Hi - 1), Hi: (x.Hi - 1) - y.Lo + 1}, true
	case ir.Mul:
		if !isConstRange(y) {
			if isConstRange(x) {
				x, y = y, x
			} else {
				return Range{}, false
			}
		}
		c := y.Lo
		lo, hi := x.Lo*c, (x.Hi-1)*c
		if c < 0 {
			lo, hi = hi, lo
		}
		return Range{Lo: lo, Hi: hi + 1}, true
	case ir.FloorDiv:
		if !isConstRange(y) || y.Lo <= 0 {
			return Range{}, false
		}
		c := y.Lo
		return Range{Lo: floorDiv(x.Lo, c), Hi: floorDiv(x.Hi-1, c) + 1}, true
	case ir.FloorMod:
		if !isConstRange(y) || y.Lo <= 0 {
			return Range{}, false
		}
		c := y.Lo
		if x.Hi-x.Lo <= c && floorDiv(x.Lo, c) == floorDiv(x.Hi-1, c) {
			return Range{Lo: floorMod(x.Lo, c), Hi: floorMod(x.Hi-1, c) + 1}, true
		}
		return Range{Lo: 0, Hi: c}, true
	default:
		return Range{}, false
	}
}

func isConstRange(r Range) bool { return r.Lo == r.Hi-1 }

// Simplify folds constant sub-expressions of e. It never changes e's
// meaning; it is a peephole pass, not a general rewriter.
func (a *Analyzer) Simplify(e ir.Expr) ir.Expr {
	switch t := e.(type) {
	case *ir.BinaryExpr:
		x := a.Simplify(t.X)
		y := a.Simplify(t.Y)
		if cx, ok := ir.IsConst(x); ok {
			if cy, ok := ir.IsConst(y); ok {
				if v, ok := foldConst(t.Op, cx, cy); ok {
					return ir.IntConst(v)
				}
			}
		}
		if simplified, ok := simplifyIdentity(t.Op, x, y); ok {
			return simplified
		}
		if x == t.X && y == t.Y {
			return t
		}
		return ir.NewBinary(t.Op, x, y)
	default:
		return e
	}
}

// simplifyIdentity applies peephole identities (x+0, 0+x, x*1, 1*x, x/1,
// x-0, and x*0, 0*x, x%1 to 0) that hold regardless of whether the
// non-trivial side is constant.
// It runs after constant folding, which already handles the all-constant
// case.
func simplifyIdentity(op ir.Op, x, y ir.Expr) (ir.Expr, bool) {
	cx, okx := ir.IsConst(x)
	cy, oky := ir.IsConst(y)
	switch op {
	case ir.Add:
		if okx && cx == 0 {
			return y, true
		}
		if oky && cy == 0 {
			return x, true
		}
	case ir.Sub:
		if oky && cy == 0 {
			return x, true
		}
	case ir.Mul:
		if okx && cx == 1 {
			return y, true
		}
		if oky && cy == 1 {
			return x, true
		}
		if (okx && cx == 0) || (oky && cy == 0) {
			return ir.IntConst(0), true
		}
	case ir.FloorDiv:
		if oky && cy == 1 {
			return x, true
		}
	case ir.FloorMod:
		if oky && cy == 1 {
			return ir.IntConst(0), true
		}
	}
	return nil, false
}

func foldConst(op ir.Op, x, y int64) (int64, bool) {
	switch op {
	case ir.Add:
		return x + y, true
	case ir.Sub:
		return x - y, true
	case ir.Mul:
		return x * y, true
	case ir.FloorDiv:
		if y == 0 {
			return 0, false
		}
		return floorDiv(x, y), true
	case ir.FloorMod:
		if y == 0 {
			return 0, false
		}
		return floorMod(x, y), true
	case ir.Lt:
		return b2i(x < y), true
	case ir.Le:
		return b2i(x <= y), true
	case ir.Gt:
		return b2i(x > y), true
	case ir.Ge:
		return b2i(x >= y), true
	case ir.And:
		return b2i(x != 0 && y != 0), true
	default:
		return 0, false
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// CanProveEqual reports whether a and b can be proven to always denote the
// same value: either they fold to the same constant, or they are
// structurally identical once simplified.
func (a *Analyzer) CanProveEqual(x, y ir.Expr) bool {
	sx, sy := a.Simplify(x), a.Simplify(y)
	if cx, ok := ir.IsConst(sx); ok {
		if cy, ok := ir.IsConst(sy); ok {
			return cx == cy
		}
	}
	return sx.Equal(sy)
}

// CanProve reports whether the boolean expression e can be proven true for
// every value in the variables' ranges. It handles the comparisons and
// conjunctions the predicate splitter and the rewriter need; anything else
// conservatively returns false.
func (a *Analyzer) CanProve(e ir.Expr) bool {
	b, ok := e.(*ir.BinaryExpr)
	if !ok {
		v, ok := ir.IsConst(a.Simplify(e))
		return ok && v != 0
	}
	if b.Op == ir.And {
		return a.CanProve(b.X) && a.CanProve(b.Y)
	}
	if !b.Op.IsCompare() {
		return false
	}
	x, okx := a.Bound(a.Simplify(b.X))
	y, oky := a.Bound(a.Simplify(b.Y))
	if !okx || !oky {
		if a.CanProveEqual(b.X, b.Y) {
			return b.Op == ir.Le || b.Op == ir.Ge
		}
		return false
	}
	switch b.Op {
	case ir.Lt:
		return x.Hi-1 < y.Lo
	case ir.Le:
		return x.Hi-1 <= y.Lo
	case ir.Gt:
		return x.Lo > y.Hi-1
	case ir.Ge:
		return x.Lo >= y.Hi-1
	default:
		return false
	}
}

// CanProveDivisible reports whether lhs is always a multiple of rhs.
func (a *Analyzer) CanProveDivisible(lhs, rhs ir.Expr) bool {
	lhs, rhs = a.Simplify(lhs), a.Simplify(rhs)
	crhs, okr := ir.IsConst(rhs)
	if okr {
		if crhs == 0 {
			return false
		}
		if clhs, ok := ir.IsConst(lhs); ok {
			return clhs%crhs == 0
		}
		if f := constFactor(lhs); f%crhs == 0 {
			return true
		}
	}
	if a.CanProveEqual(lhs, rhs) {
		return true
	}
	mod := a.Simplify(ir.NewBinary(ir.FloorMod, lhs, rhs))
	if v, ok := ir.IsConst(mod); ok {
		return v == 0
	}
	r, ok := a.Bound(mod)
	return ok && r.Lo == 0 && r.Hi == 1
}

// constFactor returns a constant c such that e is provably always a
// multiple of c. It never claims more than it can derive from the shape of
// e alone: a bare variable or an unrecognized op yields 1, the trivial
// factor every integer has.
func constFactor(e ir.Expr) int64 {
	b, ok := e.(*ir.BinaryExpr)
	if !ok {
		if v, ok := ir.IsConst(e); ok {
			if v < 0 {
				v = -v
			}
			return v
		}
		return 1
	}
	switch b.Op {
	case ir.Mul:
		return constFactor(b.X) * constFactor(b.Y)
	case ir.Add, ir.Sub:
		return gcd(constFactor(b.X), constFactor(b.Y))
	default:
		return 1
	}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
