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

// Package ordered provides a map with deterministic iteration order. The
// detector's memoisation buckets and iterator-variable collection depend on
// insertion order being stable: two runs over the same input must visit
// candidates in the same order so that diagnostics and fusion decisions are
// reproducible.
package ordered

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Map stores key/value pairs and iterates over them in the order the keys
// were first stored. Storing an existing key updates its value without
// moving it.
type Map[K comparable, V any] struct {
	entries []entry[K, V]
	index   map[K]int
}

// NewMap returns an empty ordered map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// Store sets the value for a key, keeping the key's original position if it
// is already present.
func (m *Map[K, V]) Store(k K, v V) {
	if i, ok := m.index[k]; ok {
		m.entries[i].value = v
		return
	}
	m.index[k] = len(m.entries)
	m.entries = append(m.entries, entry[K, V]{key: k, value: v})
}

// Load returns the value stored for a key and whether the key is present.
func (m *Map[K, V]) Load(k K) (V, bool) {
	i, ok := m.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	return m.entries[i].value, true
}

// Iter returns an iterator over the pairs in insertion order.
func (m *Map[K, V]) Iter() func(func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for _, e := range m.entries {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// Size returns the number of keys stored.
func (m *Map[K, V]) Size() int {
	return len(m.entries)
}
