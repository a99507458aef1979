// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ingest is the thin edge that turns atoms arriving over the wire
// into engine.Dispatch calls. Its wire format is this module's own (the
// producer-facing atoms spec.md describes never leave the process in the
// original; there is no AOSP format to match, unlike internal/report),
// encoded with the same protowire primitives internal/report uses so the
// two packages read as one family rather than two unrelated techniques.
package ingest

import (
	"fmt"
	"math"

	"github.com/nodestat/telemetry-core/internal/atom"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	wireFieldAtomID    = 1
	wireFieldElapsedNs = 2
	wireFieldValue     = 3

	wireFieldPathDepth   = 1
	wireFieldPathSlot    = 2 // repeated (index, position) pairs, one varint each
	wireFieldValueType   = 3
	wireFieldValueInt    = 4
	wireFieldValueFloat  = 5
	wireFieldValueDouble = 6
	wireFieldValueString = 7
	wireFieldValueBytes  = 8
)

// EncodeAtom serializes a into this package's wire format. Exported for
// clients constructing test payloads and for any future non-gRPC transport
// sharing the same codec.
func EncodeAtom(a atom.Atom) []byte {
	var b []byte
	b = protowire.AppendTag(b, wireFieldAtomID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(a.ID)))
	b = protowire.AppendTag(b, wireFieldElapsedNs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.ElapsedTimestampNs))
	for _, fv := range a.Values {
		b = protowire.AppendTag(b, wireFieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFieldValue(fv))
	}
	return b
}

func encodeFieldValue(fv atom.FieldValue) []byte {
	var b []byte
	b = protowire.AppendTag(b, wireFieldPathDepth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(fv.Path.Depth()))
	for d := 0; d < int(fv.Path.Depth()); d++ {
		b = protowire.AppendTag(b, wireFieldPathSlot, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(fv.Path.Index(d)))
		b = protowire.AppendTag(b, wireFieldPathSlot, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(fv.Path.PositionAt(d)))
	}
	b = protowire.AppendTag(b, wireFieldValueType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(fv.Value.Type))
	switch fv.Value.Type {
	case atom.ValueInt32:
		b = protowire.AppendTag(b, wireFieldValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(fv.Value.Int32)))
	case atom.ValueInt64:
		b = protowire.AppendTag(b, wireFieldValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(fv.Value.Int64))
	case atom.ValueFloat:
		b = protowire.AppendTag(b, wireFieldValueFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(fv.Value.Float32))
	case atom.ValueDouble:
		b = protowire.AppendTag(b, wireFieldValueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(fv.Value.Float64))
	case atom.ValueString:
		b = protowire.AppendTag(b, wireFieldValueString, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(fv.Value.Str))
	case atom.ValueBytes:
		b = protowire.AppendTag(b, wireFieldValueBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, fv.Value.Bytes)
	}
	return b
}

// DecodeAtom parses one atom.Atom from this package's wire format.
func DecodeAtom(b []byte) (atom.Atom, error) {
	var a atom.Atom
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return atom.Atom{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case wireFieldAtomID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.Atom{}, protowire.ParseError(n)
			}
			a.ID = int32(uint32(v))
			b = b[n:]
		case wireFieldElapsedNs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.Atom{}, protowire.ParseError(n)
			}
			a.ElapsedTimestampNs = int64(v)
			b = b[n:]
		case wireFieldValue:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return atom.Atom{}, protowire.ParseError(n)
			}
			fv, err := decodeFieldValue(a.ID, raw)
			if err != nil {
				return atom.Atom{}, err
			}
			a.Values = append(a.Values, fv)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return atom.Atom{}, err
			}
			b = b[n:]
		}
	}
	return a, nil
}

func decodeFieldValue(atomID int32, b []byte) (atom.FieldValue, error) {
	var depth int
	var indices []int
	var positions []atom.Position
	var valType atom.ValueType
	var val atom.Value
	var pendingIndex *int

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return atom.FieldValue{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case wireFieldPathDepth:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			depth = int(v)
			b = b[n:]
		case wireFieldPathSlot:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			b = b[n:]
			if pendingIndex == nil {
				idx := int(v)
				pendingIndex = &idx
			} else {
				indices = append(indices, *pendingIndex)
				positions = append(positions, atom.Position(v))
				pendingIndex = nil
			}
		case wireFieldValueType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			valType = atom.ValueType(v)
			b = b[n:]
		case wireFieldValueInt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			signed := protowire.DecodeZigZag(v)
			if valType == atom.ValueInt32 {
				val = atom.Int32Value(int32(signed))
			} else {
				val = atom.Int64Value(signed)
			}
			b = b[n:]
		case wireFieldValueFloat:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			val = atom.FloatValue(math.Float32frombits(v))
			b = b[n:]
		case wireFieldValueDouble:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			val = atom.DoubleValue(math.Float64frombits(v))
			b = b[n:]
		case wireFieldValueString:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			val = atom.StringValue(string(raw))
			b = b[n:]
		case wireFieldValueBytes:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return atom.FieldValue{}, protowire.ParseError(n)
			}
			val = atom.BytesValue(raw)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return atom.FieldValue{}, err
			}
			b = b[n:]
		}
	}
	if len(indices) != depth {
		return atom.FieldValue{}, fmt.Errorf("ingest: field path depth mismatch: declared %d, parsed %d", depth, len(indices))
	}
	path, err := atom.NewFieldPath(atomID, indices, positions)
	if err != nil {
		return atom.FieldValue{}, err
	}
	return atom.FieldValue{Path: path, Value: val}, nil
}

func skipField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
