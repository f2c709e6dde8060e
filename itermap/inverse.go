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

// sumNode tracks a canonical sum reachable from the inversion roots: how
// many still-unvisited splits feed into it (indeg), and the back-propagated
// value accumulated so far.
type sumNode struct {
	sum   *ir.IterSum
	indeg int
	back  ir.Expr
}

// InverseAffineIterMap recovers, for each input iterator, the expression
// that yields its value given symbolic values for the outputs.
func InverseAffineIterMap(an *analyzer.Analyzer, sink *diag.Sink, sums []*ir.IterSum, outputs []ir.Expr) map[string]ir.Expr {
	if len(sums) != len(outputs) {
		sink.Emitf(diag.Internal, nil, "got %d canonical sums but %d outputs", len(sums), len(outputs))
		return nil
	}
	nodes := map[*ir.IterSum]*sumNode{}
	for _, s := range sums {
		discoverSum(s, nodes)
	}
	for _, n := range nodes {
		n.back = ir.IntConst(0)
	}
	for i, s := range sums {
		nodes[s].back = outputs[i]
	}

	result := map[string]ir.Expr{}
	ready := append([]*ir.IterSum(nil), sums...)
	processed := map[*ir.IterSum]bool{}
	for len(ready) > 0 {
		s := ready[0]
		ready = ready[1:]
		if processed[s] {
			continue
		}
		processed[s] = true
		if !invertSum(an, sink, nodes, s, result, &ready) {
			return nil
		}
	}
	return result
}

func discoverSum(sum *ir.IterSum, nodes map[*ir.IterSum]*sumNode) {
	if _, ok := nodes[sum]; ok {
		return
	}
	nodes[sum] = &sumNode{sum: sum}
	for _, a := range sum.Args {
		if child, ok := a.Source.Source.(*ir.IterSum); ok {
			discoverSum(child, nodes)
			nodes[child].indeg++
		}
	}
}

func invertSum(an *analyzer.Analyzer, sink *diag.Sink, nodes map[*ir.IterSum]*sumNode, sum *ir.IterSum, result map[string]ir.Expr, ready *[]*ir.IterSum) bool {
	node := nodes[sum]
	input := an.Simplify(ir.NewBinary(ir.Sub, node.back, sum.Base))

	var splitBack []ir.Expr
	switch len(sum.Args) {
	case 0:
		return true
	case 1:
		splitBack = []ir.Expr{input}
	default:
		if !isFusedLadder(sum.Args) {
			sink.Emitf(diag.InversionUnsorted, sum, "sum %s is not a sorted fused ladder", sum)
			return false
		}
		splitBack = make([]ir.Expr, len(sum.Args))
		for i, a := range sum.Args {
			div := an.Simplify(ir.NewBinary(ir.FloorDiv, input, a.Scale))
			splitBack[i] = an.Simplify(ir.NewBinary(ir.FloorMod, div, a.Extent))
		}
	}

	for i, a := range sum.Args {
		contribution := an.Simplify(ir.NewBinary(ir.Mul, splitBack[i], a.LowerFactor))
		switch src := a.Source.Source.(type) {
		case *ir.Var:
			result[src.Name] = addExpr(result[src.Name], contribution)
		case *ir.IterSum:
			child := nodes[src]
			child.back = addExpr(child.back, contribution)
			child.indeg--
			if child.indeg <= 0 {
				*ready = append(*ready, child.sum)
			}
		}
	}
	return true
}

// isFusedLadder reports whether args is sorted by descending scale with a
// contiguous extent ladder: scale[i-1] = scale[i] * extent[i].
func isFusedLadder(args []*ir.IterSplit) bool {
	for i := 1; i < len(args); i++ {
		prev, ok1 := ir.IsConst(args[i-1].Scale)
		cur, ok2 := ir.IsConst(args[i].Scale)
		ext, ok3 := ir.IsConst(args[i].Extent)
		if !ok1 || !ok2 || !ok3 || prev != cur*ext {
			return false
		}
	}
	return true
}
