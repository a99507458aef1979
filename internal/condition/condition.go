// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package condition implements the tri-valued condition state a metric
// producer gates its bucket aggregation on, and the sliced lookup used when
// the condition itself is dimensioned.
package condition

import (
	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/dimension"
)

// State is a tri-valued condition outcome: a condition tracker that hasn't
// seen any of its inputs yet reports Unknown rather than defaulting to
// False, since a producer treats "unevaluated" differently from "evaluated
// false": gauge's append path drops events only under a known False, so an
// Unknown condition still accumulates data.
type State int8

const (
	Unknown State = -1
	False   State = 0
	True    State = 1
)

func (s State) String() string {
	switch s {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// IsTrue reports whether the condition is known-true. Unknown and False both
// read as not-true.
func (s State) IsTrue() bool { return s == True }

// Evaluator answers a metric producer's condition question, sliced by
// dimension.Key when the condition itself carries dimensions (an empty Key
// asks for the unsliced condition). internal/condition's Tracker is the
// reference in-process implementation; a real condition wizard evaluating a
// boolean expression tree over other trackers is out of this package's
// scope (spec.md treats the evaluator as an injected collaborator).
type Evaluator interface {
	Condition(key dimension.Key) State
}

// Tracker is a single condition's current state plus the sliced states
// derived from it, mirroring MetricProducer's mCondition / mConditionSliced
// split: most metrics have one unsliced condition, but a condition that
// itself varies by dimension (mConditionSliced true) is tracked per Key.
//
// A sliced condition's own dimension fields are not necessarily the same
// set as the metric's "what" dimension fields — a metric can be sliced by
// {uid, tag} while the condition feeding it is only sliced by {uid}. byKey
// is keyed by the condition's own fields (dimensionFields), so Condition
// must project the caller's (generally wider) metric dimension.Key down to
// just those fields before looking itself up — the "links metric
// dimensions to condition dimensions" state-values-key spec.md §2 names.
type Tracker struct {
	sliced          bool
	dimensionFields []atom.FieldPath
	state           State
	byKey           map[string]State
}

// NewTracker builds a Tracker. sliced marks whether this condition's truth
// varies by dimension; an unsliced Tracker ignores the Key argument to every
// method and behaves as a single State. dimensionFields names the field
// paths this condition is itself sliced by — SetSliced's key argument is
// expected to carry exactly those fields, in any order; a Condition lookup
// projects its (possibly wider) key argument onto dimensionFields first.
func NewTracker(sliced bool, dimensionFields ...atom.FieldPath) *Tracker {
	return &Tracker{sliced: sliced, dimensionFields: dimensionFields, state: Unknown, byKey: make(map[string]State)}
}

// Sliced reports whether this condition is evaluated per-dimension.
func (t *Tracker) Sliced() bool { return t.sliced }

// Condition implements Evaluator.
func (t *Tracker) Condition(key dimension.Key) State {
	if !t.sliced {
		return t.state
	}
	sub := key.Project(t.dimensionFields)
	if len(sub.Parts()) != len(t.dimensionFields) {
		// key doesn't carry every field this condition is sliced by, so
		// there's no way to know which slice it corresponds to.
		return Unknown
	}
	if s, ok := t.byKey[sub.String()]; ok {
		return s
	}
	return Unknown
}

// SetUnsliced updates the tracker's single State and reports whether it
// changed from the previous value. Calling this on a sliced tracker is a
// programming error; it does not panic, and the value it stores is never
// read, since a sliced tracker's Condition consults only its per-key states.
func (t *Tracker) SetUnsliced(s State) (changed bool) {
	changed = t.state != s
	t.state = s
	return changed
}

// SetSliced updates one dimension's State and reports whether it changed
// (a brand-new key reported True or False counts as changed; Unknown never
// does, since an absent key already reads Unknown).
func (t *Tracker) SetSliced(key dimension.Key, s State) (changed bool) {
	k := key.Project(t.dimensionFields).String()
	prev, ok := t.byKey[k]
	if !ok {
		prev = Unknown
	}
	if s == Unknown {
		if ok {
			delete(t.byKey, k)
		}
		return prev != Unknown
	}
	t.byKey[k] = s
	return prev != s
}
