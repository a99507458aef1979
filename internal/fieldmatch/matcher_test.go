// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build unit

package fieldmatch_test

import (
	"testing"

	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/fieldmatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(field int, pos atom.Position) fieldmatch.Node {
	return fieldmatch.Node{AtomID: 10, Field: field, Position: pos}
}

func fv(t *testing.T, atomID int32, indices []int, positions []atom.Position, v atom.Value) atom.FieldValue {
	t.Helper()
	p, err := atom.NewFieldPath(atomID, indices, positions)
	require.NoError(t, err)
	return atom.FieldValue{Path: p, Value: v}
}

// Mirrors TestFilterWithOneMatcher: a plain two-level matcher extracts the
// single value at that exact path.
func TestFilterOneBasic(t *testing.T) {
	root := fieldmatch.Node{AtomID: 10, Field: 1, Position: atom.PositionFirst, Children: []fieldmatch.Node{
		leaf(1, atom.PositionFirst),
	}}
	matchers := fieldmatch.Compile(root)
	require.Len(t, matchers, 1)

	values := []atom.FieldValue{
		fv(t, 10, []int{1, 1}, []atom.Position{atom.PositionFirst, atom.PositionFirst}, atom.Int32Value(5)),
	}
	got, ok := fieldmatch.FilterOne(matchers[0], values)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(atom.Int32Value(5)))
}

// Mirrors TestFilterWithOneMatcher_PositionALL: a single-value extraction
// with an ALL-position matcher must fail outright, never silently pick one.
func TestFilterOneRejectsAllPosition(t *testing.T) {
	root := fieldmatch.Node{AtomID: 10, Field: 1, Position: atom.PositionAll, Children: []fieldmatch.Node{
		leaf(1, atom.PositionFirst),
	}}
	matchers := fieldmatch.Compile(root)
	require.Len(t, matchers, 1)
	require.True(t, matchers[0].HasAllPosition())

	values := []atom.FieldValue{
		fv(t, 10, []int{1, 1}, []atom.Position{atom.PositionAll, atom.PositionFirst}, atom.Int32Value(5)),
	}
	_, ok := fieldmatch.FilterOne(matchers[0], values)
	assert.False(t, ok, "can't filter a single value with a position ALL matcher")
}

// Mirrors TestFilterRepeated_ALL: an ALL matcher over a 3-element repeated
// field produces one extract per occurrence, in encounter order.
func TestFilterValuesAllProducesOnePerOccurrence(t *testing.T) {
	root := leaf(1, atom.PositionAll)
	matchers := fieldmatch.Compile(root)
	require.Len(t, matchers, 1)

	values := []atom.FieldValue{
		fv(t, 10, []int{1}, []atom.Position{atom.PositionAll}, atom.Int32Value(1)),
		fv(t, 10, []int{1}, []atom.Position{atom.PositionAll}, atom.Int32Value(2)),
		fv(t, 10, []int{1}, []atom.Position{atom.PositionAll}, atom.Int32Value(3)),
	}
	out, ok := fieldmatch.FilterValues(matchers, values)
	require.True(t, ok)
	require.Len(t, out, 3)
	assert.True(t, out[0].Value.Equal(atom.Int32Value(1)))
	assert.True(t, out[2].Value.Equal(atom.Int32Value(3)))
}

// An ALL matcher that finds nothing contributes a valid empty result, not a
// failure — distinct from a non-ALL matcher finding nothing.
func TestFilterValuesAllZeroOccurrencesIsNotFailure(t *testing.T) {
	root := leaf(1, atom.PositionAll)
	matchers := fieldmatch.Compile(root)
	out, ok := fieldmatch.FilterValues(matchers, nil)
	assert.True(t, ok)
	assert.Empty(t, out)
}

func TestFilterValuesNonAllMissingFails(t *testing.T) {
	root := leaf(1, atom.PositionFirst)
	matchers := fieldmatch.Compile(root)
	_, ok := fieldmatch.FilterValues(matchers, nil)
	assert.False(t, ok)
}

// Mirrors TestFilter_FIRST / TestFilterRepeated_FIRST: FIRST matches only the
// lowest-indexed occurrence, not any later one.
func TestFilterValuesFirstPositionExact(t *testing.T) {
	root := leaf(1, atom.PositionFirst)
	matchers := fieldmatch.Compile(root)

	values := []atom.FieldValue{
		fv(t, 10, []int{1}, []atom.Position{atom.PositionFirst}, atom.Int32Value(100)),
		fv(t, 10, []int{1}, []atom.Position{atom.PositionLast}, atom.Int32Value(200)),
	}
	out, ok := fieldmatch.FilterValues(matchers, values)
	require.True(t, ok)
	require.Len(t, out, 1)
	assert.True(t, out[0].Value.Equal(atom.Int32Value(100)))
}

// Mirrors the ANY-position matcher test cases: ANY wildcards the occurrence,
// matching a FIRST- or LAST- tagged value equally.
func TestFilterValuesAnyPositionWildcards(t *testing.T) {
	root := leaf(1, atom.PositionAny)
	matchers := fieldmatch.Compile(root)

	valuesFirst := []atom.FieldValue{
		fv(t, 10, []int{1}, []atom.Position{atom.PositionFirst}, atom.Int32Value(7)),
	}
	out, ok := fieldmatch.FilterValues(matchers, valuesFirst)
	require.True(t, ok)
	require.Len(t, out, 1)

	valuesLast := []atom.FieldValue{
		fv(t, 10, []int{1}, []atom.Position{atom.PositionLast}, atom.Int32Value(7)),
	}
	out, ok = fieldmatch.FilterValues(matchers, valuesLast)
	require.True(t, ok)
	require.Len(t, out, 1)
}

func TestMatchesBoolean(t *testing.T) {
	root := leaf(2, atom.PositionFirst)
	matchers := fieldmatch.Compile(root)
	require.Len(t, matchers, 1)

	present := []atom.FieldValue{
		fv(t, 10, []int{2}, []atom.Position{atom.PositionFirst}, atom.StringValue("x")),
	}
	absent := []atom.FieldValue{
		fv(t, 10, []int{3}, []atom.Position{atom.PositionFirst}, atom.StringValue("x")),
	}
	assert.True(t, fieldmatch.Matches(matchers[0], present))
	assert.False(t, fieldmatch.Matches(matchers[0], absent))
}

func TestDifferentAtomNeverMatches(t *testing.T) {
	root := leaf(1, atom.PositionFirst)
	matchers := fieldmatch.Compile(root)
	values := []atom.FieldValue{
		fv(t, 99, []int{1}, []atom.Position{atom.PositionFirst}, atom.Int32Value(1)),
	}
	assert.False(t, fieldmatch.Matches(matchers[0], values))
}
