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
	"github.com/gx-org/itermap/ir"
)

// Constraint is one bound extracted from a predicate: lo <= iterExpr < hi,
// with either side possibly absent. Complexity is the node count of
// iterExpr; constraints are consumed in ascending complexity so that the
// fuser's longest-match search never picks a shorter constraint over one
// that subsumes it.
type Constraint struct {
	IterExpr   ir.Expr
	Lo, Hi     ir.Expr
	Complexity int
}

// splitPredicate breaks a conjunction of comparisons into per-iterator
// bound constraints. It returns false if any conjunct fails to
// parse as a supported comparison or mixes non-integer operands, in which
// case the caller must treat the predicate as contributing no constraints.
func splitPredicate(iters map[string]*ir.IterMark, a *analyzer.Analyzer, pred ir.Expr) ([]Constraint, bool) {
	if ir.IsTrue(pred) {
		return nil, true
	}
	cmps, ok := flattenConjunction(pred)
	if !ok {
		return nil, false
	}
	cons := make([]Constraint, 0, len(cmps))
	for _, cmp := range cmps {
		c, ok := splitComparison(iters, a, cmp)
		if !ok {
			return nil, false
		}
		cons = append(cons, c)
	}
	return cons, true
}

// flattenConjunction peels apart nested And nodes into their leaf
// comparisons, in either nesting order ((rest ∧ cmp) or (cmp ∧ rest)).
func flattenConjunction(e ir.Expr) ([]*ir.BinaryExpr, bool) {
	b, ok := e.(*ir.BinaryExpr)
	if !ok {
		return nil, false
	}
	if b.Op == ir.And {
		left, ok := flattenConjunction(b.X)
		if !ok {
			return nil, false
		}
		right, ok := flattenConjunction(b.Y)
		if !ok {
			return nil, false
		}
		return append(left, right...), true
	}
	if !b.Op.IsCompare() {
		return nil, false
	}
	return []*ir.BinaryExpr{b}, true
}

func splitComparison(iters map[string]*ir.IterMark, a *analyzer.Analyzer, cmp *ir.BinaryExpr) (Constraint, bool) {
	if cmp.X.Kind() != ir.IntKind || cmp.Y.Kind() != ir.IntKind {
		return Constraint{}, false
	}
	if !mentionsIter(iters, cmp.X) && !mentionsIter(iters, cmp.Y) {
		return Constraint{}, false
	}
	diff := ir.NewBinary(ir.Sub, cmp.X, cmp.Y)
	iterSum, nonIterSum := splitIterTerms(iters, diff, 1)
	if iterSum == nil {
		return Constraint{}, false
	}
	var bound ir.Expr = ir.IntConst(0)
	if nonIterSum != nil {
		bound = nonIterSum
	}
	bound = a.Simplify(ir.NewBinary(ir.Sub, ir.IntConst(0), bound))

	c := Constraint{IterExpr: iterSum, Complexity: nodeCount(iterSum)}
	switch cmp.Op {
	case ir.Lt:
		c.Hi = bound
	case ir.Le:
		c.Hi = a.Simplify(ir.NewBinary(ir.Add, bound, ir.IntConst(1)))
	case ir.Gt:
		c.Lo = a.Simplify(ir.NewBinary(ir.Add, bound, ir.IntConst(1)))
	case ir.Ge:
		c.Lo = bound
	default:
		return Constraint{}, false
	}
	return c, true
}

// splitIterTerms walks the +/- spine of e (scaled by sign, either +1 or -1)
// and returns two accumulators: the sum of terms that mention an input
// iterator, and the sum of those that don't. Either accumulator may be nil
// if no term landed in it.
func splitIterTerms(iters map[string]*ir.IterMark, e ir.Expr, sign int64) (iterSum, nonIterSum ir.Expr) {
	if b, ok := e.(*ir.BinaryExpr); ok && (b.Op == ir.Add || b.Op == ir.Sub) {
		li, ln := splitIterTerms(iters, b.X, sign)
		rSign := sign
		if b.Op == ir.Sub {
			rSign = -sign
		}
		ri, rn := splitIterTerms(iters, b.Y, rSign)
		return addSigned(li, ri), addSigned(ln, rn)
	}
	term := signedTerm(e, sign)
	if mentionsIter(iters, e) {
		return term, nil
	}
	return nil, term
}

func signedTerm(e ir.Expr, sign int64) ir.Expr {
	if sign >= 0 {
		return e
	}
	return ir.NewBinary(ir.Sub, ir.IntConst(0), e)
}

// addSigned adds two already-signed accumulators, treating a nil operand as
// zero.
func addSigned(a, b ir.Expr) ir.Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return ir.NewBinary(ir.Add, a, b)
	}
}

func nodeCount(e ir.Expr) int {
	b, ok := e.(*ir.BinaryExpr)
	if !ok {
		return 1
	}
	return 1 + nodeCount(b.X) + nodeCount(b.Y)
}
