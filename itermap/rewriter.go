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
	"github.com/gx-org/itermap/analyzer"
	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

// IterRange is the half-open range [Min, Min+Extent) of an input iterator.
type IterRange struct {
	Min, Extent ir.Expr
}

// Rewriter recursively rewrites a plain index expression into the
// canonical sum-of-splits form. A Rewriter is owned by a single
// detection call: its memoisation tables and diagnostic sink are never
// shared across calls.
type Rewriter struct {
	iters       map[string]*ir.IterMark
	mins        map[string]ir.Expr
	an          *analyzer.Analyzer
	sink        *diag.Sink
	tables      *fuseTables
	constraints []*fuseRecord
	fz          *fuser
}

// NewRewriter builds a rewriter over the given input iterators.
func NewRewriter(ranges map[string]IterRange, an *analyzer.Analyzer, sink *diag.Sink) *Rewriter {
	rw := &Rewriter{
		iters:  make(map[string]*ir.IterMark, len(ranges)),
		mins:   make(map[string]ir.Expr, len(ranges)),
		an:     an,
		sink:   sink,
		tables: newFuseTables(),
	}
	rw.fz = &fuser{rw: rw}
	for name, r := range ranges {
		rw.iters[name] = ir.NewMark(&ir.Var{Name: name}, r.Extent)
		rw.mins[name] = r.Min
	}
	return rw
}

// Iters returns the mark minted for each input iterator, keyed by name.
func (rw *Rewriter) Iters() map[string]*ir.IterMark { return rw.iters }

func isCanonical(e ir.Expr) bool {
	switch t := e.(type) {
	case *ir.IterSplit:
		return true
	case *ir.IterSum:
		return len(t.Args) > 0
	}
	return false
}

// Rewrite walks e and returns its canonical form.
func (rw *Rewriter) Rewrite(e ir.Expr) (ir.Expr, bool) {
	res, ok := rw.rewriteNode(e)
	if !ok {
		return nil, false
	}
	return rw.normaliseToIterWithOffset(ir.AsSum(res))
}

// RewriteWithBounds walks e and additionally tightens the mark produced for
// e against the induced bounds [lo, hi) (either may be nil for "no bound").
func (rw *Rewriter) RewriteWithBounds(e ir.Expr, lo, hi ir.Expr) (ir.Expr, bool) {
	res, ok := rw.rewriteNode(e)
	if !ok {
		return nil, false
	}
	return rw.normaliseToIterOnBoundExpr(ir.AsSum(res), lo, hi)
}

func (rw *Rewriter) rewriteNode(e ir.Expr) (ir.Expr, bool) {
	switch t := e.(type) {
	case *ir.Var:
		return rw.rewriteVar(t), true
	case *ir.Const:
		return t, true
	case *ir.BinaryExpr:
		return rw.rewriteBinary(t)
	default:
		return e, true
	}
}

func (rw *Rewriter) rewriteVar(v *ir.Var) ir.Expr {
	mark, ok := rw.iters[v.Name]
	if !ok {
		return v
	}
	min := rw.mins[v.Name]
	if ext, ok := ir.IsConst(mark.Extent); ok && ext == 1 {
		return &ir.IterSum{Args: nil, Base: min}
	}
	if ir.IsZero(min) {
		return ir.IdentitySplit(mark)
	}
	return &ir.IterSum{Args: []*ir.IterSplit{ir.IdentitySplit(mark)}, Base: min}
}

func (rw *Rewriter) rewriteBinary(b *ir.BinaryExpr) (ir.Expr, bool) {
	switch b.Op {
	case ir.Add, ir.Sub:
		return rw.rewriteAddSub(b)
	case ir.Mul:
		return rw.rewriteMul(b)
	case ir.FloorDiv:
		return rw.rewriteFloorDiv(b)
	case ir.FloorMod:
		return rw.rewriteFloorMod(b)
	default:
		x, okx := rw.rewriteNode(b.X)
		y, oky := rw.rewriteNode(b.Y)
		if !okx || !oky {
			return nil, false
		}
		return ir.NewBinary(b.Op, x, y), true
	}
}

func (rw *Rewriter) rewriteAddSub(b *ir.BinaryExpr) (ir.Expr, bool) {
	x, okx := rw.rewriteNode(b.X)
	y, oky := rw.rewriteNode(b.Y)
	if !okx || !oky {
		return nil, false
	}
	if !isCanonical(x) && !isCanonical(y) {
		return rw.an.Simplify(ir.NewBinary(b.Op, x, y)), true
	}
	sign := int64(1)
	if b.Op == ir.Sub {
		sign = -1
	}
	dst := liftSum(x)
	rw.mergeInto(dst, y, sign)
	return dst, true
}

func (rw *Rewriter) rewriteMul(b *ir.BinaryExpr) (ir.Expr, bool) {
	x, okx := rw.rewriteNode(b.X)
	y, oky := rw.rewriteNode(b.Y)
	if !okx || !oky {
		return nil, false
	}
	cx, cy := isCanonical(x), isCanonical(y)
	if cx && cy {
		rw.sink.Emitf(diag.MulTwoIterators, b, "cannot multiply two iterators: %s * %s", x, y)
		return nil, false
	}
	if !cx && !cy {
		return rw.an.Simplify(ir.NewBinary(ir.Mul, x, y)), true
	}
	canonical, scalar := x, y
	if cy {
		canonical, scalar = y, x
	}
	return rw.scaleCanonical(canonical, scalar), true
}

func (rw *Rewriter) scaleCanonical(canonical, scalar ir.Expr) ir.Expr {
	switch t := canonical.(type) {
	case *ir.IterSplit:
		return &ir.IterSplit{Source: t.Source, LowerFactor: t.LowerFactor, Extent: t.Extent,
			Scale: rw.an.Simplify(ir.NewBinary(ir.Mul, t.Scale, scalar))}
	case *ir.IterSum:
		args := make([]*ir.IterSplit, len(t.Args))
		for i, a := range t.Args {
			args[i] = &ir.IterSplit{Source: a.Source, LowerFactor: a.LowerFactor, Extent: a.Extent,
				Scale: rw.an.Simplify(ir.NewBinary(ir.Mul, a.Scale, scalar))}
		}
		return &ir.IterSum{Args: args, Base: rw.an.Simplify(ir.NewBinary(ir.Mul, t.Base, scalar))}
	default:
		return canonical
	}
}

func (rw *Rewriter) rewriteFloorDiv(b *ir.BinaryExpr) (ir.Expr, bool) {
	x, okx := rw.rewriteNode(b.X)
	y, oky := rw.rewriteNode(b.Y)
	if !okx || !oky {
		return nil, false
	}
	if isCanonical(y) {
		rw.sink.Emitf(diag.DivModByIterator, b, "cannot divide by an iterator: %s", y)
		return nil, false
	}
	if !isCanonical(x) {
		return rw.an.Simplify(ir.NewBinary(ir.FloorDiv, x, y)), true
	}
	split, ok := rw.toSingleSplit(x, b)
	if !ok {
		return nil, false
	}
	return rw.floorDivSplit(split, y, b)
}

func (rw *Rewriter) rewriteFloorMod(b *ir.BinaryExpr) (ir.Expr, bool) {
	x, okx := rw.rewriteNode(b.X)
	y, oky := rw.rewriteNode(b.Y)
	if !okx || !oky {
		return nil, false
	}
	if isCanonical(y) {
		rw.sink.Emitf(diag.DivModByIterator, b, "cannot mod by an iterator: %s", y)
		return nil, false
	}
	if !isCanonical(x) {
		return rw.an.Simplify(ir.NewBinary(ir.FloorMod, x, y)), true
	}
	split, ok := rw.toSingleSplit(x, b)
	if !ok {
		return nil, false
	}
	return rw.floorModSplit(split, y, b)
}

// toSingleSplit fuses a canonical operand down to the single bare split
// floor-div/floor-mod needs, failing if the fused sum retains a non-zero
// base (the fuse only absorbed a predicate-tightened offset, it did not
// cancel it).
func (rw *Rewriter) toSingleSplit(x ir.Expr, node ir.Expr) (*ir.IterSplit, bool) {
	if split, ok := x.(*ir.IterSplit); ok {
		return split, true
	}
	sum := x.(*ir.IterSum)
	if len(sum.Args) == 1 && ir.IsZero(sum.Base) {
		return sum.Args[0], true
	}
	fused, ok := rw.fz.tryFuseIters(sum)
	if !ok {
		rw.sink.Emitf(diag.FuseScaleNotFound, node, "no consistent scale ladder to fuse %s", sum)
		return nil, false
	}
	if !ir.IsZero(fused.Base) {
		rw.sink.Emitf(diag.BoundTighteningFailed, node, "fused sum %s retains a non-zero base", fused)
		return nil, false
	}
	return fused.Args[0], true
}

func (rw *Rewriter) floorDivSplit(split *ir.IterSplit, rhs ir.Expr, node ir.Expr) (ir.Expr, bool) {
	if ir.IsOne(rhs) {
		return split, true
	}
	scale, rhs2, ok := rw.reconcileScale(split.Scale, rhs, node)
	if !ok {
		return nil, false
	}
	if scale != nil {
		return &ir.IterSplit{Source: split.Source, LowerFactor: split.LowerFactor, Extent: split.Extent, Scale: scale}, true
	}
	if !rw.an.CanProveDivisible(split.Extent, rhs2) {
		rw.sink.Emitf(diag.DivisibilityUnproved, node, "cannot prove %s divides extent %s", rhs2, split.Extent)
		return nil, false
	}
	return &ir.IterSplit{
		Source:      split.Source,
		LowerFactor: rw.an.Simplify(ir.NewBinary(ir.Mul, split.LowerFactor, rhs2)),
		Extent:      rw.an.Simplify(ir.NewBinary(ir.FloorDiv, split.Extent, rhs2)),
		Scale:       ir.IntConst(1),
	}, true
}

func (rw *Rewriter) floorModSplit(split *ir.IterSplit, rhs ir.Expr, node ir.Expr) (ir.Expr, bool) {
	if ir.IsOne(rhs) {
		return ir.IntConst(0), true
	}
	scale, rhs2, ok := rw.reconcileScale(split.Scale, rhs, node)
	if !ok {
		return nil, false
	}
	if scale != nil {
		return ir.IntConst(0), true
	}
	if !rw.an.CanProveDivisible(split.Extent, rhs2) {
		rw.sink.Emitf(diag.DivisibilityUnproved, node, "cannot prove %s divides extent %s", rhs2, split.Extent)
		return nil, false
	}
	return &ir.IterSplit{Source: split.Source, LowerFactor: split.LowerFactor, Extent: rhs2, Scale: ir.IntConst(1)}, true
}

// reconcileScale implements the scale-vs-rhs dance shared by floor-div and
// floor-mod: if rhs divides scale evenly it returns the new split scale
// scale/rhs as a non-nil expression (the mod case's caller ignores the
// value and just checks for non-nil); otherwise, when scale divides rhs, it
// returns (nil, rhs/scale) so the caller continues with an effective
// unit-scale split.
func (rw *Rewriter) reconcileScale(scale, rhs ir.Expr, node ir.Expr) (newScale ir.Expr, newRhs ir.Expr, ok bool) {
	if ir.IsOne(scale) {
		return nil, rhs, true
	}
	if rw.an.CanProveDivisible(scale, rhs) {
		return rw.an.Simplify(ir.NewBinary(ir.FloorDiv, scale, rhs)), rhs, true
	}
	if rw.an.CanProveDivisible(rhs, scale) {
		return nil, rw.an.Simplify(ir.NewBinary(ir.FloorDiv, rhs, scale)), true
	}
	rw.sink.Emitf(diag.DivisibilityUnproved, node, "neither %s divides %s nor %s divides %s", scale, rhs, rhs, scale)
	return nil, nil, false
}

func liftSum(x ir.Expr) *ir.IterSum {
	base := ir.AsSum(x)
	return &ir.IterSum{Args: append([]*ir.IterSplit(nil), base.Args...), Base: base.Base}
}

func (rw *Rewriter) mergeInto(dst *ir.IterSum, other ir.Expr, sign int64) {
	switch t := other.(type) {
	case *ir.IterSplit:
		rw.mergeSplit(dst, t, sign)
	case *ir.IterSum:
		for _, a := range t.Args {
			rw.mergeSplit(dst, a, sign)
		}
		dst.Base = rw.addSigned(dst.Base, t.Base, sign)
	default:
		dst.Base = rw.addSigned(dst.Base, other, sign)
	}
}

func (rw *Rewriter) mergeSplit(dst *ir.IterSum, split *ir.IterSplit, sign int64) {
	for i, a := range dst.Args {
		if a.EqualIgnoreScale(split) {
			dst.Args[i] = &ir.IterSplit{Source: a.Source, LowerFactor: a.LowerFactor, Extent: a.Extent,
				Scale: rw.addSigned(a.Scale, split.Scale, sign)}
			return
		}
	}
	scale := split.Scale
	if sign < 0 {
		scale = rw.an.Simplify(ir.NewBinary(ir.Sub, ir.IntConst(0), scale))
	}
	dst.Args = append(dst.Args, &ir.IterSplit{Source: split.Source, LowerFactor: split.LowerFactor, Extent: split.Extent, Scale: scale})
}

func (rw *Rewriter) addSigned(a, b ir.Expr, sign int64) ir.Expr {
	if sign >= 0 {
		return rw.an.Simplify(ir.NewBinary(ir.Add, a, b))
	}
	return rw.an.Simplify(ir.NewBinary(ir.Sub, a, b))
}

func (rw *Rewriter) normaliseToIterWithOffset(expr *ir.IterSum) (ir.Expr, bool) {
	if len(expr.Args) == 0 {
		return expr, true
	}
	fused, ok := rw.fz.tryFuseIters(expr)
	if !ok {
		rw.sink.Emitf(diag.FuseScaleNotFound, expr, "no consistent scale ladder to fuse %s", expr)
		return nil, false
	}
	return fused, true
}

func (rw *Rewriter) normaliseToIterOnBoundExpr(expr *ir.IterSum, lo, hi ir.Expr) (ir.Expr, bool) {
	base := expr.Base
	var inducedLo, inducedHi ir.Expr
	if lo != nil {
		inducedLo = rw.an.Simplify(ir.NewBinary(ir.Sub, lo, base))
	}
	if hi != nil {
		inducedHi = rw.an.Simplify(ir.NewBinary(ir.Sub, hi, base))
	}

	bare := &ir.IterSum{Args: expr.Args, Base: ir.IntConst(0)}
	fused, ok := rw.fz.tryFuseIters(bare)
	if !ok {
		rw.sink.Emitf(diag.FuseScaleNotFound, expr, "no consistent scale ladder to fuse %s", expr)
		return nil, false
	}
	if len(fused.Args) != 1 || !ir.IsOne(fused.Args[0].Scale) {
		rw.sink.Emitf(diag.BoundTighteningFailed, expr, "bound-tightened fuse %s is not a single unit-scale split", fused)
		return nil, false
	}
	split := fused.Args[0]
	mark := split.Source

	rec, hasRec := rw.tables.byMark(mark)
	offset := int64(0)
	if hasRec {
		offset = rec.offset
	}
	markExt, _ := ir.IsConst(mark.Extent)

	iterMin, hasMin := resolveBound(rw.an, inducedLo, offset, true)
	if !hasMin {
		iterMin = offset
	}
	iterMax, hasMax := resolveBound(rw.an, inducedHi, offset+markExt, false)
	if !hasMax {
		iterMax = offset + markExt
	}

	if !hasRec {
		rec = &fuseRecord{flattened: bare, structured: bare, mark: mark, offset: offset}
		rw.tables.register(rec)
	}
	if iterMax <= iterMin {
		rw.sink.Emitf(diag.BoundTighteningFailed, expr,
			"bound %s tightens %s to an empty range [%d, %d)", expr, mark, iterMin, iterMax)
		return nil, false
	}
	if iterMin < offset || iterMax > offset+markExt {
		rw.sink.Emitf(diag.BoundTighteningFailed, expr,
			"bound %s widens %s past its current range [%d, %d)", expr, mark, offset, offset+markExt)
		return nil, false
	}
	if iterMin != offset || iterMax-iterMin != markExt {
		if iterMin != offset {
			rec.structured.Base = ir.IntConst(-iterMin)
			rw.tables.rekeyStructured(rec)
		}
		rec.offset = iterMin
		mark.Extent = ir.IntConst(iterMax - iterMin)
	}
	rw.constraints = append(rw.constraints, rec)

	tightened := &ir.IterSplit{Source: mark, LowerFactor: split.LowerFactor, Extent: mark.Extent, Scale: ir.IntConst(1)}
	if ir.IsZero(base) && iterMin == 0 {
		return tightened, true
	}
	return &ir.IterSum{
		Args: []*ir.IterSplit{tightened},
		Base: rw.an.Simplify(ir.NewBinary(ir.Add, base, ir.IntConst(iterMin))),
	}, true
}

// resolveBound folds a (possibly nil) induced bound against the fallback,
// using max for the lower edge and min for the upper edge. It returns
// false when the induced bound is present but cannot be resolved to a
// concrete integer, in which case the caller keeps the fallback untightened.
func resolveBound(an *analyzer.Analyzer, induced ir.Expr, fallback int64, isLower bool) (int64, bool) {
	if induced == nil {
		return fallback, true
	}
	v, ok := ir.IsConst(an.Simplify(induced))
	if !ok {
		return 0, false
	}
	if isLower {
		if v > fallback {
			return v, true
		}
		return fallback, true
	}
	if v < fallback {
		return v, true
	}
	return fallback, true
}
