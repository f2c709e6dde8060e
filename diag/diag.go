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

// Package diag provides the diagnostic sink the detector reports failures
// through. It follows the accumulate-then-format shape of a compiler error
// reporter: every non-fatal failure is appended with Emit, and the caller
// decides whether to keep going or to inspect Sink.Empty afterwards and
// bail out (the detector stops at the first index that fails to rewrite).
package diag

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gx-org/itermap/ir"
)

// Code names one of the failure kinds the detector can report. It has no
// behavior of its own; it exists so that callers that want
// to distinguish failure classes programmatically (tests, mostly) can
// switch on something more stable than a message string.
type Code string

// The failure kinds the detector can report.
const (
	NonIntegerType        Code = "non_integer_type"
	MulTwoIterators       Code = "mul_two_iterators"
	DivModByIterator      Code = "div_mod_by_iterator"
	DivisibilityUnproved  Code = "divisibility_unproved"
	FuseScaleNotFound     Code = "fuse_scale_not_found"
	BoundTighteningFailed Code = "bound_tightening_failed"
	ConstraintsNotNested  Code = "constraints_not_nested"
	SplitsDoNotCover      Code = "splits_do_not_cover"
	NotBijective          Code = "not_bijective"
	SubspaceInterleaved   Code = "subspace_interleaved"
	InversionUnsorted     Code = "inversion_unsorted"
	Internal              Code = "internal"
)

// Diagnostic is a single error record, tagged with the source span of the
// sub-expression that triggered it.
type Diagnostic struct {
	Code Code
	Span ir.Span
	Err  error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Span, d.Code, d.Err)
}

// Errorf builds a Diagnostic located at node.
func Errorf(code Code, node ir.Expr, format string, a ...any) Diagnostic {
	span := ir.Span{}
	if node != nil {
		span = node.Span()
	}
	return Diagnostic{Code: code, Span: span, Err: errors.Errorf(format, a...)}
}

// context groups the diagnostics emitted while a Sink.Push scope was open,
// so that Pop can fold them into a single wrapped diagnostic.
type context struct {
	wrap  func(error) Diagnostic
	diags []Diagnostic
}

// Sink accumulates diagnostics emitted over the lifetime of a single
// detection call. A Sink is never shared across calls: each top-level entry
// point constructs a fresh rewriter with its own sink.
type Sink struct {
	stack []context
	diags []Diagnostic
}

// Push opens a nested diagnostic scope: every diagnostic emitted before the
// matching Pop is held back and, if the scope turns out non-empty, folded by
// wrap into a single diagnostic attributed to the enclosing node instead of
// being reported individually. This lets a recursive rewrite step
// report one diagnostic for a failing sub-expression rather than one per
// failing leaf.
func (s *Sink) Push(wrap func(error) Diagnostic) {
	s.stack = append(s.stack, context{wrap: wrap})
}

// Pop closes the innermost scope opened by Push, folding any diagnostics
// emitted inside it through that scope's wrap function.
func (s *Sink) Pop() {
	last := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if len(last.diags) == 0 {
		return
	}
	var err error
	for _, d := range last.diags {
		err = multierr.Append(err, d)
	}
	s.Emit(last.wrap(err))
}

// Emit appends a diagnostic to the sink, or to the innermost open Push scope.
func (s *Sink) Emit(d Diagnostic) {
	if len(s.stack) == 0 {
		s.diags = append(s.diags, d)
		return
	}
	s.stack[len(s.stack)-1].diags = append(s.stack[len(s.stack)-1].diags, d)
}

// Emitf is a shorthand for Emit(Errorf(...)).
func (s *Sink) Emitf(code Code, node ir.Expr, format string, a ...any) {
	s.Emit(Errorf(code, node, format, a...))
}

// Empty reports whether no diagnostic has been emitted, including inside
// any still-open Push scope.
func (s *Sink) Empty() bool {
	if len(s.diags) > 0 {
		return false
	}
	for _, c := range s.stack {
		if len(c.diags) > 0 {
			return false
		}
	}
	return true
}

// Count is the number of top-level diagnostics emitted so far; IterMapSimplify
// uses this as its unresolved-count and falls back to the input when it is
// non-zero.
func (s *Sink) Count() int {
	return len(s.diags)
}

// Diagnostics returns every diagnostic emitted so far, in emission order.
func (s *Sink) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), s.diags...)
}

// Error renders every accumulated diagnostic as a single multi-line error,
// or nil if the sink is empty.
func (s *Sink) Error() error {
	if s.Empty() {
		return nil
	}
	var b strings.Builder
	for i, d := range s.diags {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.Error())
	}
	return errors.New(b.String())
}
