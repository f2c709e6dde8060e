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
	"testing"

	"github.com/gx-org/itermap/analyzer"
	"github.com/gx-org/itermap/ir"
)

// An identity split (lower_factor 1, extent equal to its mark's own) lowers
// straight back to the mark's source, with no floordiv/floormod wrapper.
func TestLowerIdentitySplitReturnsMarkSource(t *testing.T) {
	an := analyzer.New(nil)
	mark := ir.NewMark(&ir.Var{Name: "i"}, ir.IntConst(4))
	split := ir.IdentitySplit(mark)

	got := Lower(an, split)
	if got.String() != "i" {
		t.Fatalf("Lower(identity split) = %s, want i", got)
	}
}

// A scaled identity split multiplies the lowered body by its scale.
func TestLowerScaledSplitMultipliesBody(t *testing.T) {
	an := analyzer.New(nil)
	mark := ir.NewMark(&ir.Var{Name: "i"}, ir.IntConst(4))
	split := ir.ScaledSplit(mark, ir.IntConst(3))

	for i := int64(0); i < 4; i++ {
		got := evalAt(Lower(an, split), "i", i)
		if want := i * 3; got != want {
			t.Fatalf("Lower(3*i) at i=%d = %d, want %d", i, got, want)
		}
	}
}

// A split whose lower_factor*extent exactly equals its source mark's
// extent lowers to a bare floordiv, without a trailing floormod (the
// "exact tail slice" case of lowerSplit).
func TestLowerExactTailSliceUsesFloorDivOnly(t *testing.T) {
	an := analyzer.New(nil)
	mark := ir.NewMark(&ir.Var{Name: "i"}, ir.IntConst(12))
	split := &ir.IterSplit{Source: mark, LowerFactor: ir.IntConst(3), Extent: ir.IntConst(4), Scale: ir.IntConst(1)}

	for i := int64(0); i < 12; i++ {
		got := evalAt(Lower(an, split), "i", i)
		if want := i / 3; got != want {
			t.Fatalf("Lower(floordiv(i,3)) at i=%d = %d, want %d", i, got, want)
		}
	}
}

// A split whose lower_factor*extent falls short of its source mark's
// extent needs both floordiv and floormod to isolate the middle slice.
func TestLowerMiddleSliceUsesFloorDivAndFloorMod(t *testing.T) {
	an := analyzer.New(nil)
	mark := ir.NewMark(&ir.Var{Name: "i"}, ir.IntConst(12))
	split := &ir.IterSplit{Source: mark, LowerFactor: ir.IntConst(2), Extent: ir.IntConst(3), Scale: ir.IntConst(1)}

	for i := int64(0); i < 12; i++ {
		got := evalAt(Lower(an, split), "i", i)
		if want := (i / 2) % 3; got != want {
			t.Fatalf("Lower(floormod(floordiv(i,2),3)) at i=%d = %d, want %d", i, got, want)
		}
	}
}

// Lowering a fully fused three-iterator mark (i*10+j*2+k, collapsed to a
// single split over one synthetic mark) reconstructs the original affine
// expression, checked by evaluating at every point in range.
func TestLowerFullyFusedRoundTrip(t *testing.T) {
	an := analyzer.New(nil)
	iters := idxRanges(map[string][2]int64{"i": {0, 4}, "j": {0, 5}, "k": {0, 2}})
	index := ir.NewBinary(ir.Add,
		ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(10)), ir.NewBinary(ir.Mul, v("j"), ir.IntConst(2))),
		v("k"))
	sums, sink := DetectIterMap([]ir.Expr{index}, iters, ir.True, true)
	if sums == nil {
		t.Fatalf("detect failed: %v", sink.Error())
	}
	lowered := Lower(an, sums[0])

	for i := int64(0); i < 4; i++ {
		for j := int64(0); j < 5; j++ {
			for k := int64(0); k < 2; k++ {
				want := i*10 + j*2 + k
				got := evalAtAll(lowered, map[string]int64{"i": i, "j": j, "k": k})
				if got != want {
					t.Fatalf("Lower(i,j,k)=(%d,%d,%d) = %d, want %d", i, j, k, got, want)
				}
			}
		}
	}
}

// Lowering a nested fused mark (i*30+j*6+k*3+l, whose composite mark's own
// source is itself an *ir.IterSum) recurses through lowerMarkSource rather
// than stopping at the outer split.
func TestLowerNestedMarkRoundTrip(t *testing.T) {
	an := analyzer.New(nil)
	iters := idxRanges(map[string][2]int64{"i": {0, 4}, "j": {0, 5}, "k": {0, 2}, "l": {0, 3}})
	index := ir.NewBinary(ir.Add,
		ir.NewBinary(ir.Add,
			ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(30)), ir.NewBinary(ir.Mul, v("j"), ir.IntConst(6))),
			ir.NewBinary(ir.Mul, v("k"), ir.IntConst(3))),
		v("l"))
	sums, sink := DetectIterMap([]ir.Expr{index}, iters, ir.True, true)
	if sums == nil {
		t.Fatalf("detect failed: %v", sink.Error())
	}
	lowered := Lower(an, sums[0])

	for i := int64(0); i < 4; i++ {
		for j := int64(0); j < 5; j++ {
			for k := int64(0); k < 2; k++ {
				for l := int64(0); l < 3; l++ {
					want := i*30 + j*6 + k*3 + l
					got := evalAtAll(lowered, map[string]int64{"i": i, "j": j, "k": k, "l": l})
					if got != want {
						t.Fatalf("Lower(i,j,k,l)=(%d,%d,%d,%d) = %d, want %d", i, j, k, l, got, want)
					}
				}
			}
		}
	}
}

// evalAtAll substitutes every named value in values simultaneously and
// evaluates the resulting closed integer expression, extending evalAt's
// single-variable substitution to the multi-iterator case Lower's round
// trip tests need.
func evalAtAll(e ir.Expr, values map[string]int64) int64 {
	switch t := e.(type) {
	case *ir.Const:
		return t.Value
	case *ir.Var:
		val, ok := values[t.Name]
		if !ok {
			panic("unbound variable " + t.Name)
		}
		return val
	case *ir.BinaryExpr:
		x, y := evalAtAll(t.X, values), evalAtAll(t.Y, values)
		switch t.Op {
		case ir.Add:
			return x + y
		case ir.Sub:
			return x - y
		case ir.Mul:
			return x * y
		case ir.FloorDiv:
			return floorDivInt(x, y)
		case ir.FloorMod:
			return floorModInt(x, y)
		}
	}
	panic("cannot evaluate expression")
}
