package itermap

import (
	"testing"

	"github.com/gx-org/itermap/analyzer"
	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

func v(name string) *ir.Var { return &ir.Var{Name: name} }

func newTestRewriter(ranges map[string]IterRange) (*Rewriter, *diag.Sink) {
	aranges := make(map[string]analyzer.Range, len(ranges))
	for name, r := range ranges {
		lo, _ := ir.IsConst(r.Min)
		ext, _ := ir.IsConst(r.Extent)
		aranges[name] = analyzer.Range{Lo: lo, Hi: lo + ext}
	}
	sink := &diag.Sink{}
	return NewRewriter(ranges, analyzer.New(aranges), sink), sink
}

func constRange(min, extent int64) IterRange {
	return IterRange{Min: ir.IntConst(min), Extent: ir.IntConst(extent)}
}

func TestRewriteFusesAffineSum(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{
		"i": constRange(0, 4), "j": constRange(0, 5), "k": constRange(0, 2),
	})
	index := ir.NewBinary(ir.Add,
		ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(10)), ir.NewBinary(ir.Mul, v("j"), ir.IntConst(2))),
		v("k"))

	canon, ok := rw.Rewrite(index)
	if !ok {
		t.Fatalf("rewrite failed: %v", sink.Error())
	}
	sum, ok := canon.(*ir.IterSum)
	if !ok {
		t.Fatalf("expected an IterSum, got %T", canon)
	}
	if len(sum.Args) != 1 {
		t.Fatalf("expected the three terms to fuse into a single split, got %d args", len(sum.Args))
	}
	split := sum.Args[0]
	if !ir.IsOne(split.Scale) {
		t.Fatalf("expected scale 1, got %s", split.Scale)
	}
	if ext, ok := ir.IsConst(split.Source.Extent); !ok || ext != 40 {
		t.Fatalf("expected the fused mark to have extent 40, got %s", split.Source.Extent)
	}
	if !ir.IsZero(sum.Base) {
		t.Fatalf("expected base 0, got %s", sum.Base)
	}
}

func TestRewriteFloorDivMod(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{
		"i": constRange(0, 4), "j": constRange(0, 5),
	})
	index := ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("i"), ir.IntConst(5)), v("j"))
	canon, ok := rw.Rewrite(index)
	if !ok {
		t.Fatalf("rewrite failed: %v", sink.Error())
	}

	div, ok := rw.rewriteNode(ir.NewBinary(ir.FloorDiv, canon, ir.IntConst(5)))
	if !ok {
		t.Fatalf("floordiv failed: %v", sink.Error())
	}
	split, ok := div.(*ir.IterSplit)
	if !ok {
		t.Fatalf("expected an IterSplit, got %T", div)
	}
	if ext, ok := ir.IsConst(split.Extent); !ok || ext != 4 {
		t.Fatalf("expected floordiv(sum,5) to have extent 4 (recovering i), got %s", split.Extent)
	}

	mod, ok := rw.rewriteNode(ir.NewBinary(ir.FloorMod, canon, ir.IntConst(5)))
	if !ok {
		t.Fatalf("floormod failed: %v", sink.Error())
	}
	msplit, ok := mod.(*ir.IterSplit)
	if !ok {
		t.Fatalf("expected an IterSplit, got %T", mod)
	}
	if ext, ok := ir.IsConst(msplit.Extent); !ok || ext != 5 {
		t.Fatalf("expected floormod(sum,5) to have extent 5 (recovering j), got %s", msplit.Extent)
	}
}

func TestRewriteMulTwoIteratorsFails(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{"i": constRange(0, 4), "j": constRange(0, 5)})
	_, ok := rw.Rewrite(ir.NewBinary(ir.Mul, v("i"), v("j")))
	if ok {
		t.Fatalf("expected multiplying two iterators to fail")
	}
	if sink.Empty() {
		t.Fatalf("expected a diagnostic explaining the failure")
	}
	found := false
	for _, d := range sink.Diagnostics() {
		if d.Code == diag.MulTwoIterators {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a MulTwoIterators diagnostic, got %v", sink.Diagnostics())
	}
}

func TestRewriteDivByIteratorFails(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{"i": constRange(0, 4), "j": constRange(0, 5)})
	_, ok := rw.Rewrite(ir.NewBinary(ir.FloorDiv, v("i"), v("j")))
	if ok {
		t.Fatalf("expected dividing by an iterator to fail")
	}
	found := false
	for _, d := range sink.Diagnostics() {
		if d.Code == diag.DivModByIterator {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a DivModByIterator diagnostic, got %v", sink.Diagnostics())
	}
}

func TestRewriteOffsetIterator(t *testing.T) {
	rw, sink := newTestRewriter(map[string]IterRange{"i": constRange(2, 4)})
	canon, ok := rw.Rewrite(v("i"))
	if !ok {
		t.Fatalf("rewrite failed: %v", sink.Error())
	}
	sum, ok := canon.(*ir.IterSum)
	if !ok {
		t.Fatalf("expected an IterSum carrying the base offset, got %T", canon)
	}
	if base, ok := ir.IsConst(sum.Base); !ok || base != 2 {
		t.Fatalf("expected base 2, got %s", sum.Base)
	}
}
