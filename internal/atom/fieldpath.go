// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package atom

import "fmt"

// Position marks the repeated-field occurrence a FieldPath's leaf slot
// refers to. It is the "reserved bits" mechanism spec.md 4.1 describes: two
// bits per depth slot, packed alongside the child index.
type Position uint8

const (
	// PositionFirst marks a non-repeated field, or the first occurrence of a
	// repeated one.
	PositionFirst Position = iota
	// PositionLast marks the last occurrence of a repeated field (only
	// distinct from PositionFirst when there is more than one occurrence).
	PositionLast
	// PositionAll marks an interior occurrence of a repeated field on the
	// event side, and on the matcher side requests "every occurrence" —
	// filtering with an ALL-position matcher produces one extract per
	// occurrence rather than a single value.
	PositionAll
	// PositionAny is matcher-only: it wildcards the occurrence, matching
	// whichever one is present, by clearing the position bits in the
	// compiled mask.
	PositionAny
)

func (p Position) String() string {
	switch p {
	case PositionFirst:
		return "FIRST"
	case PositionLast:
		return "LAST"
	case PositionAll:
		return "ALL"
	case PositionAny:
		return "ANY"
	default:
		return "?"
	}
}

const (
	maxDepth     = 3
	indexBits    = 5
	indexMask32  = uint32(0x1F)
	posShift     = 5
	posMaskByte  = uint32(0x3)
	tagByteShift = 24
)

// packSlot folds a 1-based child index (1..31) and a Position into a single
// byte: bits 0-4 are the index, bits 5-6 are the position, bit 7 is unused.
func packSlot(index int, pos Position) uint32 {
	return (uint32(index) & indexMask32) | ((uint32(pos) & posMaskByte) << posShift)
}

// FieldPath identifies one node in an atom's field tree: the atom id plus a
// depth-limited (<=3) sequence of 1-based child indices, each carrying a
// repeated-field Position. The whole thing packs into a uint32 "word" (three
// 8-bit depth slots) plus a separately-stored atom id, mirroring spec.md
// 4.1: "8 bits atom-tag (stored separately for large tags), plus three 8-bit
// depth slots".
type FieldPath struct {
	atomID int32
	word   uint32
	depth  uint8
}

// NewFieldPath builds a FieldPath from 1-based child indices and their
// repeated-field positions. len(indices) must equal len(positions) and be at
// most 3; each index must be in [1,31].
func NewFieldPath(atomID int32, indices []int, positions []Position) (FieldPath, error) {
	if len(indices) != len(positions) {
		return FieldPath{}, fmt.Errorf("atom: indices/positions length mismatch (%d vs %d)", len(indices), len(positions))
	}
	if len(indices) > maxDepth {
		return FieldPath{}, fmt.Errorf("atom: field path depth %d exceeds max %d", len(indices), maxDepth)
	}
	var word uint32
	for i, idx := range indices {
		if idx < 1 || idx > int(indexMask32) {
			return FieldPath{}, fmt.Errorf("atom: child index %d out of range [1,%d]", idx, indexMask32)
		}
		word |= packSlot(idx, positions[i]) << (8 * uint(i))
	}
	word |= (uint32(atomID) & 0xFF) << tagByteShift
	return FieldPath{atomID: atomID, word: word, depth: uint8(len(indices))}, nil
}

// AtomID returns the full (untruncated) atom id this path belongs to.
func (p FieldPath) AtomID() int32 { return p.atomID }

// Depth returns the number of valid child-index slots (0..3).
func (p FieldPath) Depth() uint8 { return p.depth }

// Word returns the packed 32-bit path value used for mask comparisons.
func (p FieldPath) Word() uint32 { return p.word }

// Index returns the 1-based child index at depth d (0-based depth argument),
// or 0 if d >= Depth().
func (p FieldPath) Index(d int) int {
	if d < 0 || d >= int(p.depth) {
		return 0
	}
	return int((p.word >> (8 * uint(d))) & indexMask32)
}

// PositionAt returns the Position recorded at depth d (0-based), or
// PositionFirst if d >= Depth().
func (p FieldPath) PositionAt(d int) Position {
	if d < 0 || d >= int(p.depth) {
		return PositionFirst
	}
	return Position((p.word >> (8*uint(d) + posShift)) & posMaskByte)
}

// Equal reports whether two field paths refer to the identical node
// (including the atom id and every depth slot).
func (p FieldPath) Equal(o FieldPath) bool {
	return p.atomID == o.atomID && p.word == o.word && p.depth == o.depth
}

func (p FieldPath) String() string {
	s := fmt.Sprintf("atom=%d", p.atomID)
	for d := 0; d < int(p.depth); d++ {
		s += fmt.Sprintf("/%d[%s]", p.Index(d), p.PositionAt(d))
	}
	return s
}

// FieldValue pairs a FieldPath with the Value observed at that path.
type FieldValue struct {
	Path  FieldPath
	Value Value
}

// Atom is a tagged event record: a 32-bit atom id plus an ordered sequence
// of typed field values, plus the passenger fields spec.md 6 names (uid,
// pid, elapsed timestamp) that the core never interprets but must carry.
type Atom struct {
	ID                 int32
	UID                int32
	PID                int32
	ElapsedTimestampNs int64
	Values             []FieldValue
}
