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
	"sort"

	"github.com/gx-org/itermap/diag"
	"github.com/gx-org/itermap/ir"
)

// checkCoverage verifies that, for every mark reachable from sums, the
// splits referencing it neither overlap nor (in bijective mode) leave a
// gap. iters are the input iterators the caller requires to all
// participate when bijective is set.
func checkCoverage(sums []*ir.IterSum, iters map[string]*ir.IterMark, bijective bool, sink *diag.Sink) bool {
	usage := map[*ir.IterMark][]*ir.IterSplit{}
	visited := map[*ir.IterMark]bool{}
	collectUsage(sums, usage, visited)

	ok := true
	for mark, splits := range usage {
		if !checkMark(mark, splits, bijective, sink) {
			ok = false
		}
	}
	if bijective {
		for name, mark := range iters {
			// An extent-1 iterator canonicalises to its min alone, so its
			// mark can never appear in a split.
			if ext, isConst := ir.IsConst(mark.Extent); isConst && ext <= 1 {
				continue
			}
			if !visited[mark] {
				sink.Emitf(diag.NotBijective, mark.Source, "input iterator %q never appears in the result", name)
				ok = false
			}
		}
	}
	return ok
}

func collectUsage(sums []*ir.IterSum, usage map[*ir.IterMark][]*ir.IterSplit, visited map[*ir.IterMark]bool) {
	for _, sum := range sums {
		for _, split := range sum.Args {
			usage[split.Source] = append(usage[split.Source], split)
			if visited[split.Source] {
				continue
			}
			visited[split.Source] = true
			if inner, ok := split.Source.Source.(*ir.IterSum); ok {
				collectUsage([]*ir.IterSum{inner}, usage, visited)
			}
		}
	}
}

func checkMark(mark *ir.IterMark, splits []*ir.IterSplit, bijective bool, sink *diag.Sink) bool {
	type entry struct{ lf, ext int64 }
	var entries []entry
	for _, s := range splits {
		lf, okLf := ir.IsConst(s.LowerFactor)
		ext, okExt := ir.IsConst(s.Extent)
		if !okLf || !okExt {
			sink.Emitf(diag.SplitsDoNotCover, mark.Source, "split over %s has a non-constant lower_factor or extent", mark)
			return false
		}
		// Two references to the same slice are as much an overlap as two
		// intersecting ones; keep duplicates so the walk below rejects them.
		entries = append(entries, entry{lf, ext})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].lf < entries[j].lf })

	markExt, ok := ir.IsConst(mark.Extent)
	if !ok {
		sink.Emitf(diag.SplitsDoNotCover, mark.Source, "mark %s has a non-constant extent", mark)
		return false
	}

	cursor := int64(1)
	for i, e := range entries {
		if bijective {
			if e.lf != cursor {
				sink.Emitf(diag.SplitsDoNotCover, mark.Source,
					"split lower_factor %d does not continue the cover at %d for mark %s", e.lf, cursor, mark)
				return false
			}
		} else if cursor != 1 || i > 0 {
			if e.lf%cursor != 0 {
				sink.Emitf(diag.SplitsDoNotCover, mark.Source,
					"split lower_factor %d is not a multiple of the previous cursor %d for mark %s", e.lf, cursor, mark)
				return false
			}
		}
		cursor = e.lf * e.ext
		if i+1 < len(entries) {
			next := entries[i+1]
			if e.lf*e.ext > next.lf {
				sink.Emitf(diag.SplitsDoNotCover, mark.Source,
					"splits (%d,%d) and (%d,%d) overlap on mark %s", e.lf, e.ext, next.lf, next.ext, mark)
				return false
			}
		}
	}

	if bijective {
		if cursor != markExt {
			sink.Emitf(diag.NotBijective, mark.Source, "splits cover [0,%d) but mark %s has extent %d", cursor, mark, markExt)
			return false
		}
		return true
	}
	if markExt%cursor != 0 {
		sink.Emitf(diag.SplitsDoNotCover, mark.Source, "splits cover a region of size %d that does not divide extent %d", cursor, markExt)
		return false
	}
	return true
}
