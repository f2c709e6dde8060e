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

package ir

import "fmt"

// This file adds the three canonical node kinds the affine iteration-map
// detector layers on top of the plain expression tree: IterMark, IterSplit
// and IterSum. A mark is a handle,
// not an expression; splits and sums are expressions so that they can
// appear wherever the rewriter produces a result.

// IterMark denotes a non-negative integer value in [0, Extent) whose
// defining expression is Source. Source is either a plain Var or an
// *IterSum produced by fusion. Marks are compared by identity: two marks
// are the same mark only if they are the same pointer. Go's garbage
// collector gives every *IterMark a stable address for its lifetime, which
// is what lets identity comparison (==) stand in for the arena-index
// comparison other languages would need.
type IterMark struct {
	// Source is either a *Var or an *IterSum.
	Source Expr
	Extent Expr
}

// NewMark allocates a fresh mark. Every call returns a distinct identity,
// even when source and extent are structurally identical to an existing
// mark; callers that want sharing must memoise marks themselves (the fuser
// does, via its fuse-and-flatten tables).
func NewMark(source Expr, extent Expr) *IterMark {
	return &IterMark{Source: source, Extent: extent}
}

func (m *IterMark) String() string {
	return fmt.Sprintf("IterMark(%s, extent=%s)", m.Source, m.Extent)
}

// IterSplit denotes floormod(floordiv(source, LowerFactor), Extent) * Scale.
//
// Invariants: LowerFactor and Extent are at least 1, and LowerFactor*Extent
// divides Source.Extent. A split with LowerFactor = 1, Extent = Source.Extent
// and Scale = 1 is the identity slice of its mark.
type IterSplit struct {
	Source      *IterMark
	LowerFactor Expr
	Extent      Expr
	Scale       Expr
	Sp          Span
}

func (*IterSplit) node() {}

// Kind of an IterSplit: always integer.
func (s *IterSplit) Kind() Kind { return IntKind }

// Span of the split.
func (s *IterSplit) Span() Span { return s.Sp }

func (s *IterSplit) String() string {
	return fmt.Sprintf("IterSplit(%s, lower_factor=%s, extent=%s, scale=%s)",
		s.Source, s.LowerFactor, s.Extent, s.Scale)
}

// Equal reports whether other is a split over the same mark (by identity)
// with structurally equal lower_factor, extent and scale. Use
// EqualIgnoreScale when the caller only cares about the slice identified
// by (source, lower_factor, extent).
func (s *IterSplit) Equal(other Expr) bool {
	o, ok := other.(*IterSplit)
	if !ok {
		return false
	}
	return s.EqualIgnoreScale(o) && s.Scale.Equal(o.Scale)
}

// EqualIgnoreScale reports whether s and o denote the same slice of the
// same mark, ignoring their scales.
func (s *IterSplit) EqualIgnoreScale(o *IterSplit) bool {
	if s.Source != o.Source {
		return false
	}
	return s.LowerFactor.Equal(o.LowerFactor) && s.Extent.Equal(o.Extent)
}

// IdentitySplit returns the split denoting the full value of mark, unscaled.
func IdentitySplit(mark *IterMark) *IterSplit {
	return &IterSplit{Source: mark, LowerFactor: IntConst(1), Extent: mark.Extent, Scale: IntConst(1)}
}

// ScaledSplit returns the split denoting mark's full value multiplied by scale.
func ScaledSplit(mark *IterMark, scale Expr) *IterSplit {
	return &IterSplit{Source: mark, LowerFactor: IntConst(1), Extent: mark.Extent, Scale: scale}
}

// IterSum denotes (sum of Args) + Base. Arg order only matters for
// presentation: semantically the sum is commutative. Canonical forms
// produced by the fuser order splits from outermost (largest
// lower_factor*extent) to innermost.
type IterSum struct {
	Args []*IterSplit
	Base Expr
	Sp   Span
}

func (*IterSum) node() {}

// Kind of an IterSum: always integer.
func (s *IterSum) Kind() Kind { return IntKind }

// Span of the sum.
func (s *IterSum) Span() Span { return s.Sp }

func (s *IterSum) String() string {
	return fmt.Sprintf("IterSum(%v, %s)", s.Args, s.Base)
}

// Equal reports whether other is an IterSum with the same args, in the
// same order, and the same base. This is the structural equality used to
// arbitrate hash collisions in the fuser's memoisation tables.
func (s *IterSum) Equal(other Expr) bool {
	o, ok := other.(*IterSum)
	if !ok || len(s.Args) != len(o.Args) {
		return false
	}
	if !s.Base.Equal(o.Base) {
		return false
	}
	for i, a := range s.Args {
		if !a.Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// WeakHash is a coarse, cheap-to-compute hash key for an IterSum, used to
// bucket candidates before the precise (and more expensive) Equal check
// arbitrates. It is keyed only on the number of args and the identity of
// each arg's source mark, deliberately coarser than Equal, which also
// considers lower_factor, extent, scale and base. Two sums whose args
// reference the same marks in the same order but differ in
// lower_factor/extent/scale or base hash equal but compare unequal; callers
// must always confirm a WeakHash match with Equal.
func (s *IterSum) WeakHash() string {
	h := make([]byte, 0, 1+len(s.Args)*8)
	h = append(h, byte(len(s.Args)))
	for _, a := range s.Args {
		p := fmt.Sprintf("%p", a.Source)
		h = append(h, []byte(p)...)
		h = append(h, '|')
	}
	return string(h)
}

// AsSum lifts any expression to an IterSum: an *IterSum is returned as is,
// an *IterSplit becomes a one-term sum with base 0, anything else becomes
// an empty sum whose base is the expression itself.
func AsSum(e Expr) *IterSum {
	switch t := e.(type) {
	case *IterSum:
		return t
	case *IterSplit:
		return &IterSum{Args: []*IterSplit{t}, Base: IntConst(0)}
	default:
		return &IterSum{Args: nil, Base: e}
	}
}
