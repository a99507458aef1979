// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package fieldmatch compiles field selectors into FieldMatchers and filters
// atom field values against them.
package fieldmatch

import "github.com/nodestat/telemetry-core/internal/atom"

// Node is a tree-shaped field selector, the uncompiled form a metric config
// expresses a matcher in: "field 2, then for each repeated occurrence of its
// child field 1, take field 3". A leaf Node (no Children) is where a Matcher
// is emitted.
type Node struct {
	AtomID   int32
	Field    int
	Position atom.Position
	Children []Node
}

// Matcher is one compiled (path, mask) leaf, produced by a single
// depth-first pass over a Node tree per spec.md 4.1.
type Matcher struct {
	Path atom.FieldPath
	Mask uint32
}

// HasAllPosition reports whether any depth slot of the matcher's path
// carries PositionAll. ALL-position matchers are rejected by FilterOne (a
// single-value extract can't represent "every occurrence") but are the whole
// point of FilterValues, which returns one extract per occurrence.
func (m Matcher) HasAllPosition() bool {
	for d := 0; d < int(m.Path.Depth()); d++ {
		if m.Path.PositionAt(d) == atom.PositionAll {
			return true
		}
	}
	return false
}

// maskForPosition returns the slot mask to use at one depth: ANY wildcards
// the occurrence (position bits cleared, index bits compared), anything else
// requires an exact match on both index and position.
func maskForPosition(pos atom.Position) uint32 {
	const fullSlotMask = uint32(0xFF)
	const indexOnlyMask = uint32(0x1F)
	if pos == atom.PositionAny {
		return indexOnlyMask
	}
	return fullSlotMask
}

// Compile performs the single depth-first pass spec.md 4.1 describes,
// emitting one Matcher per leaf of the tree. The returned slice preserves
// leaf encounter order, which callers rely on to build an ordered
// dimension.Key.
func Compile(root Node) []Matcher {
	var out []Matcher
	var walk func(n Node, indices []int, positions []atom.Position)
	walk = func(n Node, indices []int, positions []atom.Position) {
		indices = append(indices, n.Field)
		positions = append(positions, n.Position)
		if len(n.Children) == 0 {
			path, err := atom.NewFieldPath(n.AtomID, indices, positions)
			if err != nil {
				// A selector that can't compile into a path is a config bug,
				// not a runtime condition; skip rather than panic so a bad
				// leaf doesn't take down the whole matcher set.
				return
			}
			var mask uint32
			for d, p := range positions {
				mask |= maskForPosition(p) << (8 * uint(d))
			}
			mask |= uint32(0xFF) << tagByteShiftExported
			out = append(out, Matcher{Path: path, Mask: mask})
			return
		}
		for _, c := range n.Children {
			childIndices := append([]int(nil), indices...)
			childPositions := append([]atom.Position(nil), positions...)
			walk(c, childIndices, childPositions)
		}
	}
	walk(root, nil, nil)
	return out
}

const tagByteShiftExported = 24

// matches reports whether a single field value satisfies a compiled matcher:
// the atom id must match exactly, and every masked bit of the path word must
// be equal.
func matches(m Matcher, fv atom.FieldValue) bool {
	if m.Path.AtomID() != fv.Path.AtomID() {
		return false
	}
	return (m.Path.Word() & m.Mask) == (fv.Path.Word() & m.Mask)
}

// Matches reports whether any value in the atom's field list satisfies the
// matcher, the boolean test-mode evaluation spec.md 4.1 names.
func Matches(m Matcher, values []atom.FieldValue) bool {
	for _, fv := range values {
		if matches(m, fv) {
			return true
		}
	}
	return false
}

// FilterOne extracts the single value a non-ALL matcher identifies.
// Mirrors the original's single-matcher filterValues overload
// (FieldValue_test.cpp TestFilterWithOneMatcher_PositionALL): an ALL-position
// matcher can't be satisfied by one output value, so it is rejected outright.
func FilterOne(m Matcher, values []atom.FieldValue) (atom.FieldValue, bool) {
	if m.HasAllPosition() {
		return atom.FieldValue{}, false
	}
	for _, fv := range values {
		if matches(m, fv) {
			return fv, true
		}
	}
	return atom.FieldValue{}, false
}

// FilterValues extracts one value per matcher, in matcher order, building
// the ordered sequence a dimension key is made of. A non-ALL matcher that
// finds no match fails the whole call. An ALL matcher instead enumerates
// every occurrence it finds, in encounter order, and an ALL matcher with
// zero occurrences is a valid empty contribution rather than a failure —
// spec.md 4.1: "Returns false iff a non-ALL matcher found no match (for ALL,
// zero occurrences is a valid empty result)."
func FilterValues(matchers []Matcher, values []atom.FieldValue) ([]atom.FieldValue, bool) {
	var out []atom.FieldValue
	for _, m := range matchers {
		if m.HasAllPosition() {
			for _, fv := range values {
				if matches(m, fv) {
					out = append(out, fv)
				}
			}
			continue
		}
		fv, ok := FilterOne(m, values)
		if !ok {
			return nil, false
		}
		out = append(out, fv)
	}
	return out, true
}
