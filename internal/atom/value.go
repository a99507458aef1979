// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package atom defines the typed event record that flows through the
// aggregation pipeline: atoms, their field paths, and their values.
package atom

import "fmt"

// ValueType is the discriminant of Value's sum type.
type ValueType uint8

const (
	ValueInt32 ValueType = iota
	ValueInt64
	ValueFloat
	ValueDouble
	ValueString
	ValueBytes
)

func (t ValueType) String() string {
	switch t {
	case ValueInt32:
		return "int32"
	case ValueInt64:
		return "int64"
	case ValueFloat:
		return "float"
	case ValueDouble:
		return "double"
	case ValueString:
		return "string"
	case ValueBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is the sum of the field value kinds an atom field can carry.
type Value struct {
	Type    ValueType
	Int32   int32
	Int64   int64
	Float32 float32
	Float64 float64
	Str     string
	Bytes   []byte
}

func Int32Value(v int32) Value  { return Value{Type: ValueInt32, Int32: v} }
func Int64Value(v int64) Value  { return Value{Type: ValueInt64, Int64: v} }
func FloatValue(v float32) Value { return Value{Type: ValueFloat, Float32: v} }
func DoubleValue(v float64) Value { return Value{Type: ValueDouble, Float64: v} }
func StringValue(v string) Value { return Value{Type: ValueString, Str: v} }
func BytesValue(v []byte) Value  { return Value{Type: ValueBytes, Bytes: append([]byte(nil), v...)} }

// Equal reports whether two values carry the same type and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueInt32:
		return v.Int32 == o.Int32
	case ValueInt64:
		return v.Int64 == o.Int64
	case ValueFloat:
		return v.Float32 == o.Float32
	case ValueDouble:
		return v.Float64 == o.Float64
	case ValueString:
		return v.Str == o.Str
	case ValueBytes:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return false
	}
}

// IsNumeric reports whether the value is one of the integer kinds the anomaly
// hook and gauge sampling logic can project to an int64.
func (v Value) IsNumeric() bool {
	return v.Type == ValueInt32 || v.Type == ValueInt64
}

// AsInt64 projects an integer-typed value to int64. Non-integer values
// project to 0, mirroring the original's "gaugeVal = 0" default.
func (v Value) AsInt64() int64 {
	switch v.Type {
	case ValueInt32:
		return int64(v.Int32)
	case ValueInt64:
		return v.Int64
	default:
		return 0
	}
}

// CanonicalString renders the value for use inside a canonical dimension-key
// string. It is not a wire format; only Equal/hash stability matters.
func (v Value) CanonicalString() string {
	switch v.Type {
	case ValueInt32:
		return fmt.Sprintf("i32:%d", v.Int32)
	case ValueInt64:
		return fmt.Sprintf("i64:%d", v.Int64)
	case ValueFloat:
		return fmt.Sprintf("f32:%g", v.Float32)
	case ValueDouble:
		return fmt.Sprintf("f64:%g", v.Float64)
	case ValueString:
		return "s:" + v.Str
	case ValueBytes:
		return fmt.Sprintf("b:%x", v.Bytes)
	default:
		return "?"
	}
}
