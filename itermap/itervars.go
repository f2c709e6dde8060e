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

// iterVars walks every binary node of e and collects the set of input-iterator
// variables it mentions, by name, in first-encountered order. It is used by
// the predicate splitter to decide which side of a comparison is the
// iterator expression.
func iterVars(iters map[string]*ir.IterMark, e ir.Expr) *ordered.Map[string, *ir.Var] {
	found := ordered.NewMap[string, *ir.Var]()
	collectIterVars(iters, found, e)
	return found
}

func collectIterVars(iters map[string]*ir.IterMark, found *ordered.Map[string, *ir.Var], e ir.Expr) {
	switch t := e.(type) {
	case *ir.Var:
		if _, ok := iters[t.Name]; ok {
			found.Store(t.Name, t)
		}
	case *ir.BinaryExpr:
		collectIterVars(iters, found, t.X)
		collectIterVars(iters, found, t.Y)
	}
}

// mentionsIter reports whether e mentions any of the given input iterators.
func mentionsIter(iters map[string]*ir.IterMark, e ir.Expr) bool {
	return iterVars(iters, e).Size() > 0
}

// mentionsNames reports whether e mentions any variable named in names. It
// backs the input sanity check: a range's min/extent must not itself
// depend on another input iterator.
func mentionsNames(names map[string]bool, e ir.Expr) bool {
	switch t := e.(type) {
	case *ir.Var:
		return names[t.Name]
	case *ir.BinaryExpr:
		return mentionsNames(names, t.X) || mentionsNames(names, t.Y)
	default:
		return false
	}
}
