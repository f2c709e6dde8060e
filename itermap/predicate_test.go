package itermap

import (
	"testing"

	"github.com/gx-org/itermap/analyzer"
	"github.com/gx-org/itermap/ir"
)

func testIterMarks(names ...string) map[string]*ir.IterMark {
	out := make(map[string]*ir.IterMark, len(names))
	for _, n := range names {
		out[n] = ir.NewMark(&ir.Var{Name: n}, ir.IntConst(100))
	}
	return out
}

func TestSplitPredicateTrueIsNoConstraints(t *testing.T) {
	cons, ok := splitPredicate(testIterMarks("i"), analyzer.New(nil), ir.True)
	if !ok || len(cons) != 0 {
		t.Fatalf("expected no constraints from the true predicate, got %v, %v", cons, ok)
	}
}

func TestSplitPredicateSingleBound(t *testing.T) {
	iters := testIterMarks("j", "k")
	pred := ir.NewBinary(ir.Lt, ir.NewBinary(ir.Add, ir.NewBinary(ir.Mul, v("j"), ir.IntConst(2)), v("k")), ir.IntConst(9))
	cons, ok := splitPredicate(iters, analyzer.New(nil), pred)
	if !ok || len(cons) != 1 {
		t.Fatalf("expected a single constraint, got %v, %v", cons, ok)
	}
	c := cons[0]
	if c.Hi == nil || c.Lo != nil {
		t.Fatalf("expected only an upper bound, got lo=%v hi=%v", c.Lo, c.Hi)
	}
	if hi, ok := ir.IsConst(c.Hi); !ok || hi != 9 {
		t.Fatalf("expected hi=9, got %v", c.Hi)
	}
}

func TestSplitPredicateConjunction(t *testing.T) {
	iters := testIterMarks("i", "j")
	pred := ir.NewBinary(ir.And,
		ir.NewBinary(ir.Lt, v("i"), ir.IntConst(4)),
		ir.NewBinary(ir.Ge, v("j"), ir.IntConst(1)))
	cons, ok := splitPredicate(iters, analyzer.New(nil), pred)
	if !ok || len(cons) != 2 {
		t.Fatalf("expected two constraints, got %v, %v", cons, ok)
	}
}

func TestSplitPredicateRejectsNonComparison(t *testing.T) {
	iters := testIterMarks("i")
	_, ok := splitPredicate(iters, analyzer.New(nil), v("i"))
	if ok {
		t.Fatalf("expected a bare iterator predicate to be rejected")
	}
}

func TestSplitPredicateRejectsConstraintsWithNoIterator(t *testing.T) {
	iters := testIterMarks("i")
	_, ok := splitPredicate(iters, analyzer.New(nil), ir.NewBinary(ir.Lt, ir.IntConst(1), ir.IntConst(2)))
	if ok {
		t.Fatalf("expected a constant-only comparison to be rejected (mentions no iterator)")
	}
}
