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

package itermap

import (
	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

// Division is the (outer, inner) pair of marks a canonical sum factors
// into: the sum equals outer*extent(inner) + inner.
type Division struct {
	Outer, Inner *ir.IterMark
}

// divider implements subspaceDivide: factoring each canonical sum into an
// outer/inner pair with respect to a designated inner-iterator set.
type divider struct {
	inner     map[string]bool
	memo      map[*ir.IterSplit]*splitDivision
	OuterPred []ir.Expr
	InnerPred []ir.Expr
}

type splitDivision struct {
	outer, inner *ir.IterSplit
}

func newDivider(innerIters map[string]bool) *divider {
	return &divider{inner: innerIters, memo: map[*ir.IterSplit]*splitDivision{}}
}

// divideSum divides one canonical sum, returning the outer and inner marks.
// markExtent is the extent of the mark that sum is the structured source
// of, or nil at the top level where sum is an output binding. A constraint-tightened
// mark's extent can be smaller than the product of its structured args'
// extents; that mismatch is what triggers the bounding-predicate fallback
// below.
func (d *divider) divideSum(sum *ir.IterSum, markExtent ir.Expr, node ir.Expr, sink *diag.Sink) (Division, bool) {
	if len(sum.Args) == 0 {
		inner := ir.NewMark(sum.Base, ir.IntConst(1))
		outer := ir.NewMark(ir.IntConst(0), ir.IntConst(1))
		return Division{Outer: outer, Inner: inner}, true
	}
	if len(sum.Args) == 1 {
		a := sum.Args[0]
		if !ir.IsOne(a.Scale) {
			sink.Emitf(diag.SubspaceInterleaved, node, "cannot divide a scaled split %s", a)
			return Division{}, false
		}
		// a full-identity split of an already-fused mark (lower_factor 1,
		// extent equal to the mark's own) isn't itself inner or outer: its
		// division is whatever dividing the mark's own structured form
		// produces, with no further classification needed above it.
		if structured, ok := a.Source.Source.(*ir.IterSum); ok && ir.IsOne(a.LowerFactor) && sameExtent(a.Extent, a.Source.Extent) {
			sub, ok := d.divideSum(structured, a.Source.Extent, a, sink)
			if !ok {
				return Division{}, false
			}
			return d.finishMarks(sub.Outer, sub.Inner, sum.Base, node, sink)
		}
		sd, ok := d.divideSplit(a, sink)
		if !ok {
			return Division{}, false
		}
		return d.finish(sd, sum.Base, node, sink)
	}

	// sum.Args is stored outermost-first (largest scale first, per the
	// canonical ordering IterSum documents); a clean division needs inner
	// (least significant) splits visited before outer ones below, so walk
	// the args back to front rather than re-sorting by lower_factor, which
	// is frequently tied across sibling splits of independent marks.
	sorted := make([]*ir.IterSplit, len(sum.Args))
	for i, a := range sum.Args {
		sorted[len(sum.Args)-1-i] = a
	}

	var innerSplits, outerSplits []*ir.IterSplit
	seenOuter := false
	sawUnitScale := false
	for _, a := range sorted {
		if ir.IsOne(a.Scale) {
			sawUnitScale = true
		}
		sd, ok := d.divideSplit(a, sink)
		if !ok {
			return Division{}, false
		}
		switch {
		case sd.inner != nil && sd.outer == nil:
			if seenOuter {
				sink.Emitf(diag.SubspaceInterleaved, node, "inner split %s follows an outer split", a)
				return Division{}, false
			}
			innerSplits = append(innerSplits, sd.inner)
		case sd.outer != nil && sd.inner == nil:
			seenOuter = true
			outerSplits = append(outerSplits, sd.outer)
		default:
			sink.Emitf(diag.SubspaceInterleaved, node, "split %s straddles the inner/outer boundary", a)
			return Division{}, false
		}
	}
	if !sawUnitScale {
		sink.Emitf(diag.SubspaceInterleaved, node, "no unit-scale split in %s", sum)
		return Division{}, false
	}

	innerExtent := productExtent(innerSplits)
	outerExtent := productExtent(outerSplits)
	innerMark := ir.NewMark(&ir.IterSum{Args: innerSplits, Base: ir.IntConst(0)}, ir.IntConst(innerExtent))
	outerMark := ir.NewMark(&ir.IterSum{Args: outerSplits, Base: ir.IntConst(0)}, ir.IntConst(outerExtent))

	if markExt, ok := constMarkExtent(markExtent); ok && innerExtent*outerExtent != markExt {
		// Fallback: the split set does not exactly tile the mark (a
		// predicate tightened its extent below the args' product); require
		// a clean all-outer or all-inner split and bound the synthesised
		// iterator by the mark's extent.
		if len(innerSplits) > 0 && len(outerSplits) > 0 {
			sink.Emitf(diag.SubspaceInterleaved, node, "%s divides into a partial outer/inner split that cannot be bounded", sum)
			return Division{}, false
		}
		if len(outerSplits) > 0 {
			d.OuterPred = append(d.OuterPred, ir.NewBinary(ir.Lt, &ir.Var{Name: "_outer"}, ir.IntConst(markExt)))
		} else {
			d.InnerPred = append(d.InnerPred, ir.NewBinary(ir.Lt, &ir.Var{Name: "_inner"}, ir.IntConst(markExt)))
		}
	}

	return d.finishMarks(outerMark, innerMark, sum.Base, node, sink)
}

func constMarkExtent(markExtent ir.Expr) (int64, bool) {
	if markExtent == nil {
		return 0, false
	}
	return ir.IsConst(markExtent)
}

func sameExtent(a, b ir.Expr) bool {
	av, aok := ir.IsConst(a)
	bv, bok := ir.IsConst(b)
	return aok && bok && av == bv
}

func productExtent(splits []*ir.IterSplit) int64 {
	p := int64(1)
	for _, s := range splits {
		if e, ok := ir.IsConst(s.Extent); ok {
			p *= e
		}
	}
	return p
}

func (d *divider) finish(sd *splitDivision, base ir.Expr, node ir.Expr, sink *diag.Sink) (Division, bool) {
	outerMark := ir.NewMark(ir.IntConst(0), ir.IntConst(1))
	innerMark := ir.NewMark(&ir.IterSum{Args: nil, Base: ir.IntConst(0)}, ir.IntConst(1))
	switch {
	case sd.inner != nil:
		innerMark = ir.NewMark(&ir.IterSum{Args: []*ir.IterSplit{sd.inner}, Base: ir.IntConst(0)}, sd.inner.Extent)
	case sd.outer != nil:
		outerMark = ir.NewMark(&ir.IterSum{Args: []*ir.IterSplit{sd.outer}, Base: ir.IntConst(0)}, sd.outer.Extent)
	}
	return d.finishMarks(outerMark, innerMark, base, node, sink)
}

func (d *divider) finishMarks(outerMark, innerMark *ir.IterMark, base ir.Expr, node ir.Expr, sink *diag.Sink) (Division, bool) {
	if !ir.IsZero(base) {
		innerMark = ir.NewMark(&ir.IterSum{Args: []*ir.IterSplit{ir.IdentitySplit(innerMark)}, Base: base}, innerMark.Extent)
	}
	return Division{Outer: outerMark, Inner: innerMark}, true
}

// divideSplit classifies a single split as wholly inner or wholly outer,
// recursing into a fused source mark when necessary.
func (d *divider) divideSplit(a *ir.IterSplit, sink *diag.Sink) (*splitDivision, bool) {
	if sd, ok := d.memo[a]; ok {
		return sd, true
	}
	var result *splitDivision
	switch src := a.Source.Source.(type) {
	case *ir.Var:
		if d.inner[src.Name] {
			result = &splitDivision{inner: a}
		} else {
			result = &splitDivision{outer: a}
		}
	case *ir.IterSum:
		sub, ok := d.divideSum(src, a.Source.Extent, a, sink)
		if !ok {
			return nil, false
		}
		// a full-identity split of the whole source mark doesn't carve out a
		// lower_factor/extent slice of it at all: its classification is
		// whatever the recursive division decided for the entire mark, once
		// that decision turned out to be wholly one-sided.
		if ir.IsOne(a.LowerFactor) && sameExtent(a.Extent, a.Source.Extent) {
			if outerExt, ok := ir.IsConst(sub.Outer.Extent); ok && outerExt == 1 {
				result = &splitDivision{inner: a}
				d.memo[a] = result
				return result, true
			}
			if innerExt, ok := ir.IsConst(sub.Inner.Extent); ok && innerExt == 1 {
				result = &splitDivision{outer: a}
				d.memo[a] = result
				return result, true
			}
		}
		boundary, ok := ir.IsConst(sub.Inner.Extent)
		if !ok {
			sink.Emitf(diag.SubspaceInterleaved, a, "cannot determine the inner/outer boundary for %s", a)
			return nil, false
		}
		lf, _ := ir.IsConst(a.LowerFactor)
		ext, _ := ir.IsConst(a.Extent)
		// lower_factor and extent are digit-place coordinates: the split
		// reads positions [lf, lf*ext) of its source, so containment in the
		// inner half [1, boundary) is multiplicative.
		if lf*ext <= boundary {
			result = &splitDivision{inner: &ir.IterSplit{Source: sub.Inner, LowerFactor: a.LowerFactor, Extent: a.Extent, Scale: a.Scale}}
		} else if lf >= boundary {
			outerLF := lf / boundary
			if outerLF == 0 {
				outerLF = 1
			}
			result = &splitDivision{outer: &ir.IterSplit{Source: sub.Outer, LowerFactor: ir.IntConst(outerLF), Extent: a.Extent, Scale: a.Scale}}
		} else {
			sink.Emitf(diag.SubspaceInterleaved, a, "split %s straddles the boundary of its own source mark", a)
			return nil, false
		}
	default:
		result = &splitDivision{outer: a}
	}
	d.memo[a] = result
	return result, true
}
