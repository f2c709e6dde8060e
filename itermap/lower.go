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

// Lower rewrites a canonical node back into a plain integer expression,
// recursing through nested fused marks.
func Lower(an *analyzer.Analyzer, e ir.Expr) ir.Expr {
	switch t := e.(type) {
	case *ir.IterSum:
		return lowerSum(an, t)
	case *ir.IterSplit:
		return lowerSplit(an, t)
	default:
		return e
	}
}

func lowerSum(an *analyzer.Analyzer, sum *ir.IterSum) ir.Expr {
	var acc ir.Expr
	for _, a := range sum.Args {
		acc = addExpr(acc, lowerSplit(an, a))
	}
	return addExpr(acc, sum.Base)
}

func lowerSplit(an *analyzer.Analyzer, split *ir.IterSplit) ir.Expr {
	src := lowerMarkSource(an, split.Source)
	var body ir.Expr
	switch {
	case an.CanProveEqual(split.Extent, split.Source.Extent) && ir.IsOne(split.LowerFactor):
		body = src
	case an.CanProveEqual(split.Source.Extent, an.Simplify(ir.NewBinary(ir.Mul, split.LowerFactor, split.Extent))):
		body = an.Simplify(ir.NewBinary(ir.FloorDiv, src, split.LowerFactor))
	default:
		div := an.Simplify(ir.NewBinary(ir.FloorDiv, src, split.LowerFactor))
		body = an.Simplify(ir.NewBinary(ir.FloorMod, div, split.Extent))
	}
	if ir.IsOne(split.Scale) {
		return body
	}
	return an.Simplify(ir.NewBinary(ir.Mul, body, split.Scale))
}

func lowerMarkSource(an *analyzer.Analyzer, mark *ir.IterMark) ir.Expr {
	if sum, ok := mark.Source.(*ir.IterSum); ok {
		return lowerSum(an, sum)
	}
	return mark.Source
}
