// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package dimension implements the canonical, hashable dimension key a
// gauge producer slices its buckets by, and the dimension-count guardrail
// that bounds how many distinct keys a metric may track.
package dimension

import (
	"strings"

	"github.com/nodestat/telemetry-core/internal/atom"
)

// Key is the canonical ordered sequence of (path, value) pairs that
// fieldmatch.FilterValues extracted for one atom. Two keys built from the
// same matcher list against equal field values compare Equal, and render the
// same String — the original's HashableDimensionKey role, minus a bespoke
// hash function: Go map keys do that job for free once a Key renders to a
// comparable string.
type Key struct {
	parts []atom.FieldValue
}

// NewKey wraps an ordered (path, value) sequence, typically the output of
// fieldmatch.FilterValues, as a dimension Key.
func NewKey(parts []atom.FieldValue) Key {
	return Key{parts: append([]atom.FieldValue(nil), parts...)}
}

// Empty reports whether the key carries no dimension fields at all — the
// "no dimensions configured" metric shape, a single implicit bucket.
func (k Key) Empty() bool { return len(k.parts) == 0 }

// Parts returns the key's (path, value) pairs in matcher order.
func (k Key) Parts() []atom.FieldValue { return append([]atom.FieldValue(nil), k.parts...) }

// Equal reports whether two keys carry the same paths and values, in order.
func (k Key) Equal(o Key) bool {
	if len(k.parts) != len(o.parts) {
		return false
	}
	for i := range k.parts {
		if !k.parts[i].Path.Equal(o.parts[i].Path) || !k.parts[i].Value.Equal(o.parts[i].Value) {
			return false
		}
	}
	return true
}

// Contains reports whether every (path, value) pair in sub also appears in
// k, order-independent. This is the containment test spec.md §2 names for
// linking a metric's full dimension key to a condition's (possibly
// differently ordered or narrower) dimension key.
func (k Key) Contains(sub Key) bool {
	for _, s := range sub.parts {
		found := false
		for _, p := range k.parts {
			if p.Path.Equal(s.Path) && p.Value.Equal(s.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Project returns the state-values-key for fields: a new Key holding only
// the (path, value) pairs of k whose Path matches one of fields, ordered to
// match fields rather than k. A field with no corresponding pair in k is
// omitted, so callers that need to confirm every requested field was
// present should compare len(result.Parts()) against len(fields) — the
// mechanism internal/condition's sliced Tracker uses to look itself up by a
// metric's (generally wider) dimension key.
func (k Key) Project(fields []atom.FieldPath) Key {
	out := make([]atom.FieldValue, 0, len(fields))
	for _, f := range fields {
		for _, p := range k.parts {
			if p.Path.Equal(f) {
				out = append(out, p)
				break
			}
		}
	}
	return Key{parts: out}
}

// String renders a canonical representation suitable for use as a Go map
// key, giving Key the same "equal content implies equal key" grouping
// HashableDimensionKey gives the original, without a custom hash function.
func (k Key) String() string {
	if len(k.parts) == 0 {
		return "<empty>"
	}
	var b strings.Builder
	for i, p := range k.parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(p.Path.String())
		b.WriteByte('=')
		b.WriteString(p.Value.CanonicalString())
	}
	return b.String()
}
