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

// fuser implements tryFuseIters: it tests whether a weighted sum of
// splits admits a permutation with a contiguous scale ladder, and if so
// collapses it to a single split over a synthetic (possibly memoised) mark.
type fuser struct {
	rw *Rewriter
}

// tryFuseIters attempts to fuse sum into Sum([Split(mark, s0)], sum.Base +
// extra). It fails (returning false) when no permutation of sum.Args forms
// a contiguous scale ladder, or when a scale cannot be resolved to a
// concrete integer.
func (f *fuser) tryFuseIters(sum *ir.IterSum) (*ir.IterSum, bool) {
	if len(sum.Args) == 0 {
		return nil, false
	}
	if len(sum.Args) == 1 {
		return &ir.IterSum{Args: []*ir.IterSplit{sum.Args[0]}, Base: sum.Base}, true
	}

	unused := append([]*ir.IterSplit(nil), sum.Args...)
	s0, ok := f.smallestConstScale(unused)
	if !ok {
		return nil, false
	}

	var flattened, grouped []*ir.IterSplit
	expectedScale := s0
	var extraBase int64

	for len(unused) > 0 {
		anchorIdx := f.findByScale(unused, expectedScale)
		if anchorIdx < 0 {
			return nil, false
		}
		anchor := unused[anchorIdx]

		if rec, matched, ok := f.matchLongestConstraint(unused, anchor, expectedScale); ok {
			for _, m := range matched {
				unused = removeSplit(unused, m)
				flattened = append(flattened, m)
			}
			grouped = append(grouped, &ir.IterSplit{
				Source: rec.mark, LowerFactor: ir.IntConst(1), Extent: rec.mark.Extent,
				Scale: ir.IntConst(expectedScale),
			})
			extraBase += rec.offset * expectedScale
			ext, ok := constExtent(rec.mark.Extent)
			if !ok {
				return nil, false
			}
			expectedScale *= ext
			continue
		}

		unused = removeSplit(unused, anchor)
		flattened = append(flattened, anchor)
		grouped = append(grouped, anchor)
		ext, ok := constExtent(anchor.Extent)
		if !ok {
			return nil, false
		}
		expectedScale *= ext
	}

	flatForm := &ir.IterSum{Args: reverseSplits(flattened), Base: ir.IntConst(0)}
	groupForm := &ir.IterSum{Args: reverseSplits(grouped), Base: ir.IntConst(0)}

	if rec, ok := f.rw.tables.lookupFlattened(flatForm); ok {
		if rec.offset*s0 != extraBase {
			f.rw.sink.Emitf(diag.FuseScaleNotFound, sum,
				"fused offset %d does not match memoised offset %d", extraBase, rec.offset*s0)
			return nil, false
		}
		return &ir.IterSum{
			Args: []*ir.IterSplit{{Source: rec.mark, LowerFactor: ir.IntConst(1), Extent: rec.mark.Extent, Scale: ir.IntConst(s0)}},
			Base: addExpr(sum.Base, ir.IntConst(extraBase)),
		}, true
	}

	mark := ir.NewMark(groupForm, ir.IntConst(expectedScale/s0))
	rec := &fuseRecord{flattened: flatForm, structured: groupForm, mark: mark, offset: 0}
	f.rw.tables.register(rec)

	return &ir.IterSum{
		Args: []*ir.IterSplit{{Source: mark, LowerFactor: ir.IntConst(1), Extent: mark.Extent, Scale: ir.IntConst(s0)}},
		Base: addExpr(sum.Base, ir.IntConst(extraBase)),
	}, true
}

func (f *fuser) smallestConstScale(splits []*ir.IterSplit) (int64, bool) {
	best, found := int64(0), false
	for _, s := range splits {
		v, ok := ir.IsConst(s.Scale)
		if !ok {
			continue
		}
		if !found || v < best {
			best, found = v, true
		}
	}
	return best, found
}

func (f *fuser) findByScale(splits []*ir.IterSplit, scale int64) int {
	for i, s := range splits {
		if v, ok := ir.IsConst(s.Scale); ok && v == scale {
			return i
		}
	}
	return -1
}

// matchLongestConstraint looks for the previously memoised constraint
// (registered by normaliseToIterOnBoundExpr) whose innermost split matches
// anchor, preferring the longest match when several apply.
func (f *fuser) matchLongestConstraint(unused []*ir.IterSplit, anchor *ir.IterSplit, expectedScale int64) (*fuseRecord, []*ir.IterSplit, bool) {
	var best *fuseRecord
	var bestMatched []*ir.IterSplit
	for _, rec := range f.rw.constraints {
		args := rec.flattened.Args
		if len(args) == 0 || !args[len(args)-1].EqualIgnoreScale(anchor) {
			continue
		}
		matched, ok := f.matchConstraintChain(unused, rec, expectedScale)
		if !ok {
			continue
		}
		if best == nil || len(matched) > len(bestMatched) {
			best, bestMatched = rec, matched
		}
	}
	return best, bestMatched, best != nil
}

func (f *fuser) matchConstraintChain(unused []*ir.IterSplit, rec *fuseRecord, expectedScale int64) ([]*ir.IterSplit, bool) {
	pool := append([]*ir.IterSplit(nil), unused...)
	args := rec.flattened.Args
	matched := make([]*ir.IterSplit, 0, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		cs := args[i]
		csScale, ok := ir.IsConst(cs.Scale)
		if !ok {
			return nil, false
		}
		want := expectedScale * csScale
		idx := -1
		for j, t := range pool {
			if t == nil {
				continue
			}
			if v, ok := ir.IsConst(t.Scale); ok && v == want && t.EqualIgnoreScale(cs) {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, false
		}
		matched = append(matched, pool[idx])
		pool[idx] = nil
	}
	return matched, true
}

func constExtent(e ir.Expr) (int64, bool) {
	return ir.IsConst(e)
}

func removeSplit(splits []*ir.IterSplit, target *ir.IterSplit) []*ir.IterSplit {
	out := make([]*ir.IterSplit, 0, len(splits)-1)
	removed := false
	for _, s := range splits {
		if !removed && s == target {
			removed = true
			continue
		}
		out = append(out, s)
	}
	return out
}

func reverseSplits(splits []*ir.IterSplit) []*ir.IterSplit {
	out := make([]*ir.IterSplit, len(splits))
	for i, s := range splits {
		out[len(splits)-1-i] = s
	}
	return out
}

func addExpr(a, b ir.Expr) ir.Expr {
	if a == nil || ir.IsZero(a) {
		return b
	}
	if b == nil || ir.IsZero(b) {
		return a
	}
	return ir.NewBinary(ir.Add, a, b)
}
