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

	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

// A subtracted term whose scale never joins a ladder with the others (i*3 -
// j*5: starting from the smallest scale -5, no remaining term continues the
// ladder) cannot be normalised to a single fused iterator and fails.
func TestDetectIterMapNegativeScaleNoLadderFails(t *testing.T) {
	iters := idxRanges(map[string][2]int64{"i": {0, 4}, "j": {0, 2}})
	index := ir.NewBinary(ir.Sub, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(3)), ir.NewBinary(ir.Mul, v("j"), ir.IntConst(5)))

	sums, sink := DetectIterMap([]ir.Expr{index}, iters, ir.True, true)
	if sums != nil {
		t.Fatalf("expected a non-ladder sum to fail detection, got %v", sums)
	}
	found := false
	for _, d := range sink.Diagnostics() {
		if d.Code == diag.FuseScaleNotFound {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a FuseScaleNotFound diagnostic, got %v", sink.Diagnostics())
	}
}

// Combining two terms over the same mark (i*3 - i*10) folds them into a
// single split whose combined scale is negative, via mergeSplit's
// EqualIgnoreScale branch rather than two separate disjoint splits.
func TestDetectIterMapNegativeScaleOnMergedTerm(t *testing.T) {
	iters := idxRanges(map[string][2]int64{"i": {0, 4}})
	index := ir.NewBinary(ir.Sub, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(3)), ir.NewBinary(ir.Mul, v("i"), ir.IntConst(10)))

	sums, sink := DetectIterMap([]ir.Expr{index}, iters, ir.True, false)
	if sums == nil {
		t.Fatalf("detect failed: %v", sink.Error())
	}
	sum := sums[0]
	if len(sum.Args) != 1 {
		t.Fatalf("expected the two i terms to merge into one split, got %v", sum)
	}
	if scale, ok := ir.IsConst(sum.Args[0].Scale); !ok || scale != -7 {
		t.Fatalf("expected a merged scale of -7, got %s", sum.Args[0].Scale)
	}
}

// Fusing the same composite (i*9+j) once for a floordiv and once for a
// floormod, through the same rewriter, must mint the synthetic mark only
// once and reuse it the second time through the fuse tables.
func TestRewriteReusesFusedMarkAcrossDivAndMod(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{
		"i": constRange(0, 4), "j": constRange(0, 9),
	})
	composite := func() *ir.BinaryExpr {
		return ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(9)), v("j"))
	}

	divExpr := ir.NewBinary(ir.FloorDiv, composite(), ir.IntConst(9))
	divCanon, ok := rw.rewriteNode(divExpr)
	if !ok {
		t.Fatalf("floordiv rewrite failed: %v", sink.Error())
	}
	divSplit, ok := divCanon.(*ir.IterSplit)
	if !ok {
		t.Fatalf("expected floordiv to canonicalise to a single split, got %v", divCanon)
	}

	modExpr := ir.NewBinary(ir.FloorMod, composite(), ir.IntConst(9))
	modCanon, ok := rw.rewriteNode(modExpr)
	if !ok {
		t.Fatalf("floormod rewrite failed: %v", sink.Error())
	}
	modSplit, ok := modCanon.(*ir.IterSplit)
	if !ok {
		t.Fatalf("expected floormod to canonicalise to a single split, got %v", modCanon)
	}

	if divSplit.Source != modSplit.Source {
		t.Fatalf("expected the floordiv and floormod to share the same composite mark, got %p and %p", divSplit.Source, modSplit.Source)
	}
}

// An extent-1 iterator canonicalises to its min alone and so never shows up
// as a split; bijective mode must not count that against coverage.
func TestDetectIterMapBijectiveWithDegenerateIterator(t *testing.T) {
	iters := idxRanges(map[string][2]int64{"i": {0, 4}, "u": {3, 1}})
	index := ir.NewBinary(ir.Add, v("i"), v("u"))

	sums, sink := DetectIterMap([]ir.Expr{index}, iters, ir.True, true)
	if sums == nil {
		t.Fatalf("detect failed: %v", sink.Error())
	}
	sum := sums[0]
	if len(sum.Args) != 1 {
		t.Fatalf("expected a single split over i, got %v", sum)
	}
	if base, ok := ir.IsConst(sum.Base); !ok || base != 3 {
		t.Fatalf("expected u's fixed value 3 to land in the base, got %s", sum.Base)
	}
}

// Non-bijective coverage with a non-trivial divisor gap: a chosen
// lower_factor of 4 after a covered [0,2) prefix is only legal outside
// bijective mode because the skipped region [2,4) divides evenly into the
// next chosen lower_factor, not just any gap.
func TestCheckCoverageNonBijectiveDivisorGapOK(t *testing.T) {
	mark := ir.NewMark(&ir.Var{Name: "i"}, ir.IntConst(16))
	sum := &ir.IterSum{Args: []*ir.IterSplit{
		splitOf(mark, 1, 2, 1),
		splitOf(mark, 4, 4, 2),
	}, Base: ir.IntConst(0)}
	iters := map[string]*ir.IterMark{"i": mark}
	sink := &diag.Sink{}
	if !checkCoverage([]*ir.IterSum{sum}, iters, false, sink) {
		t.Fatalf("expected a divisor-aligned gap to be accepted outside bijective mode, got %v", sink.Diagnostics())
	}
}
