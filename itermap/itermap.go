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

// Package itermap detects whether a list of integer index expressions over
// a set of bounded input iterators can be rewritten as a canonical normal
// form: a sum of disjoint, scaled, possibly fused and split slices of the
// input iterators. It also supports subspace division (factoring each
// index into an outer/inner shape) and inversion (recovering input
// iterators from symbolic output values).
//
// Each top-level entry point is synchronous and single-threaded: it builds
// a fresh rewriter, analyzer range table, and diagnostic sink for the
// duration of the call. Nothing is shared across calls, so two goroutines
// may call into this package concurrently as long as they don't share a
// *Rewriter or *diag.Sink of their own construction.
package itermap

import (
	"github.com/gx-org/itermap/analyzer"
	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

func rangesSane(iters map[string]IterRange) bool {
	names := make(map[string]bool, len(iters))
	for name := range iters {
		names[name] = true
	}
	for _, r := range iters {
		if mentionsNames(names, r.Min) || mentionsNames(names, r.Extent) {
			return false
		}
	}
	return true
}

func analyzerRanges(iters map[string]IterRange) map[string]analyzer.Range {
	ranges := make(map[string]analyzer.Range, len(iters))
	for name, r := range iters {
		min, okMin := ir.IsConst(r.Min)
		ext, okExt := ir.IsConst(r.Extent)
		if !okMin || !okExt {
			continue
		}
		ranges[name] = analyzer.Range{Lo: min, Hi: min + ext}
	}
	return ranges
}

// DetectIterMap decides whether every index in indices can be written in
// canonical form. It returns an empty list (with diagnostics explaining
// why) if any index fails to canonicalise, or if requireBijective is set
// and the combined result is not bijective.
func DetectIterMap(indices []ir.Expr, iters map[string]IterRange, predicate ir.Expr, requireBijective bool) ([]*ir.IterSum, *diag.Sink) {
	sink := &diag.Sink{}
	if !rangesSane(iters) {
		sink.Emitf(diag.Internal, nil, "an input iterator's min or extent mentions another input iterator")
		return nil, sink
	}
	an := analyzer.New(analyzerRanges(iters))
	rw := NewRewriter(iters, an, sink)

	if predicate != nil {
		cons, ok := splitPredicate(rw.iters, an, predicate)
		if ok {
			applyConstraints(rw, cons)
		}
	}

	sums := make([]*ir.IterSum, 0, len(indices))
	for _, idx := range indices {
		canon, ok := rw.Rewrite(idx)
		if !ok {
			return nil, sink
		}
		sums = append(sums, ir.AsSum(canon))
	}
	if !checkCoverage(sums, rw.iters, requireBijective, sink) {
		return nil, sink
	}
	return sums, sink
}

// applyConstraints re-rewrites each constraint's iterator expression with
// its induced bounds, which is what actually performs the in-place mark
// tightening. Constraints are applied in ascending complexity so a longer,
// more specific constraint is never shadowed by a shorter one the fuser
// would otherwise prefer.
func applyConstraints(rw *Rewriter, cons []Constraint) {
	sortConstraintsByComplexity(cons)
	for _, c := range cons {
		rw.RewriteWithBounds(c.IterExpr, c.Lo, c.Hi)
	}
}

func sortConstraintsByComplexity(cons []Constraint) {
	for i := 1; i < len(cons); i++ {
		for j := i; j > 0 && cons[j].Complexity < cons[j-1].Complexity; j-- {
			cons[j], cons[j-1] = cons[j-1], cons[j]
		}
	}
}

// IterMapSimplify runs DetectIterMap and lowers every resulting canonical
// sum back to a plain expression. On failure it returns indices unchanged.
func IterMapSimplify(indices []ir.Expr, iters map[string]IterRange, predicate ir.Expr, requireBijective bool) []ir.Expr {
	sums, sink := DetectIterMap(indices, iters, predicate, requireBijective)
	if sink.Count() > 0 || sums == nil {
		return indices
	}
	an := analyzer.New(analyzerRanges(iters))
	out := make([]ir.Expr, len(sums))
	for i, s := range sums {
		out[i] = Lower(an, s)
	}
	return out
}

// SubspaceResult is the outcome of SubspaceDivide: one Division per
// binding, plus the aggregated outer/inner predicates collected while
// dividing.
type SubspaceResult struct {
	Divisions  []Division
	OuterPreds []ir.Expr
	InnerPreds []ir.Expr
}

// SubspaceDivide factors each binding into an outer*extent(inner)+inner
// shape with respect to subIters.
func SubspaceDivide(bindings []ir.Expr, iters map[string]IterRange, subIters map[string]bool, predicate ir.Expr, requireBijective bool) (SubspaceResult, *diag.Sink) {
	sums, sink := DetectIterMap(bindings, iters, predicate, requireBijective)
	if sums == nil {
		return SubspaceResult{}, sink
	}
	d := newDivider(subIters)
	var divisions []Division
	for _, sum := range sums {
		div, ok := d.divideSum(sum, nil, sum, sink)
		if !ok {
			return SubspaceResult{}, sink
		}
		divisions = append(divisions, div)
	}
	return SubspaceResult{Divisions: divisions, OuterPreds: d.OuterPred, InnerPreds: d.InnerPred}, sink
}

// InverseIterMap recovers, for each input iterator, the expression that
// yields its value given symbolic values for the outputs.
func InverseIterMap(sums []*ir.IterSum, outputs []ir.Expr) (map[string]ir.Expr, *diag.Sink) {
	sink := &diag.Sink{}
	an := analyzer.New(nil)
	result := InverseAffineIterMap(an, sink, sums, outputs)
	return result, sink
}
