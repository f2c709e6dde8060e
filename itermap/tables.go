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
	"github.com/gx-org/itermap/base/ordered"
	"github.com/gx-org/itermap/ir"
)

// fuseRecord is one entry of the fuser's memoisation tables: a fused sum
// keyed by its flattened (all-input-iterator) form, alongside the mark
// minted for it and the numeric offset subtracted from that mark's source
// by the predicate constraints that tightened it (0 if none did).
type fuseRecord struct {
	flattened  *ir.IterSum
	structured *ir.IterSum
	mark       *ir.IterMark
	offset     int64
}

// hashBucket buckets records by IterSum.WeakHash, a cheap but collision-prone
// key; Equal always arbitrates within a bucket before a lookup is reported
// as a hit.
type hashBucket struct {
	buckets *ordered.Map[string, []*fuseRecord]
}

func newHashBucket() *hashBucket {
	return &hashBucket{buckets: ordered.NewMap[string, []*fuseRecord]()}
}

// find looks up a record whose key (as selected by keyOf) is structurally
// equal to key.
func (h *hashBucket) find(key *ir.IterSum, keyOf func(*fuseRecord) *ir.IterSum) (*fuseRecord, bool) {
	bucket, ok := h.buckets.Load(key.WeakHash())
	if !ok {
		return nil, false
	}
	for _, rec := range bucket {
		if keyOf(rec).Equal(key) {
			return rec, true
		}
	}
	return nil, false
}

// insert appends rec under the bucket for key. It never replaces an
// existing entry: the tables are append-only, except for the in-place
// mark tightening performed elsewhere.
func (h *hashBucket) insert(key *ir.IterSum, rec *fuseRecord) {
	hash := key.WeakHash()
	bucket, _ := h.buckets.Load(hash)
	bucket = append(bucket, rec)
	h.buckets.Store(hash, bucket)
}

// fuseTables holds the two memoisation tables the fuser and the
// normalizers share for the lifetime of one detection call: flattened sum
// of plain input-iterator splits -> (mark, offset), and structured
// (outward-facing, possibly nested) sum -> the same record.
type fuseTables struct {
	flattened  *hashBucket
	structured *hashBucket
	byMarkIdx  map[*ir.IterMark]*fuseRecord
}

func newFuseTables() *fuseTables {
	return &fuseTables{
		flattened:  newHashBucket(),
		structured: newHashBucket(),
		byMarkIdx:  make(map[*ir.IterMark]*fuseRecord),
	}
}

// byMark looks up the record that minted mark, if mark is a fused
// (synthetic) mark rather than a plain input-iterator mark.
func (t *fuseTables) byMark(mark *ir.IterMark) (*fuseRecord, bool) {
	rec, ok := t.byMarkIdx[mark]
	return rec, ok
}

func (t *fuseTables) lookupFlattened(sum *ir.IterSum) (*fuseRecord, bool) {
	return t.flattened.find(sum, func(r *fuseRecord) *ir.IterSum { return r.flattened })
}

func (t *fuseTables) lookupStructured(sum *ir.IterSum) (*fuseRecord, bool) {
	return t.structured.find(sum, func(r *fuseRecord) *ir.IterSum { return r.structured })
}

func (t *fuseTables) register(rec *fuseRecord) {
	t.flattened.insert(rec.flattened, rec)
	t.structured.insert(rec.structured, rec)
	t.byMarkIdx[rec.mark] = rec
}

// rekeyStructured re-inserts rec under its current (post-tightening)
// structured form after an in-place mark update; because the
// table is otherwise append-only, rekeying never removes the stale entry,
// it simply adds the fresh key alongside it.
func (t *fuseTables) rekeyStructured(rec *fuseRecord) {
	t.structured.insert(rec.structured, rec)
}
