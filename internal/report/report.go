// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package report serializes a gauge.Report into the length-delimited
// tag/type wire format GaugeMetricProducer::onDumpReportLocked writes
// through ProtoOutputStream, field-for-field. Every field number below is
// copied from GaugeMetricProducer.cpp's FIELD_ID_* constants; changing one
// would break bit-exact compatibility with the ecosystem's readers.
package report

import (
	"math"

	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/bucket"
	"github.com/nodestat/telemetry-core/internal/gauge"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, copied 1:1 from GaugeMetricProducer.cpp.
const (
	fieldID              = 1
	fieldIsActive        = 14
	fieldGuardrailHit    = 17
	fieldTimeBase        = 9
	fieldBucketSize      = 10
	fieldGaugeMetrics    = 8

	fieldSkipped            = 2
	fieldSkippedStartMillis = 3
	fieldSkippedEndMillis   = 4
	fieldSkippedDropEvent   = 5
	fieldDropReason         = 1
	fieldDropTime           = 2

	fieldData              = 1
	fieldDimensionLeafPath  = 4
	fieldBucketInfo         = 3
	fieldBucketNum          = 6
	fieldStartMillis        = 7
	fieldEndMillis          = 8
	fieldAggregatedAtom     = 9
	fieldAtomValue          = 1
	fieldAtomTimestamps     = 2
)

const nanosPerMilli = int64(1_000_000)

func nanoToMillis(ns int64) int64 { return ns / nanosPerMilli }

// Marshal renders a flushed gauge.Report in the length-delimited tag/type
// wire format spec.md §6 describes. It mirrors onDumpReportLocked exactly:
// the id and is_active fields are always written; everything else is
// skipped when there is no bucket or skipped-bucket data to report.
func Marshal(r gauge.Report) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.MetricID))
	b = protowire.AppendTag(b, fieldIsActive, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(r.IsActive))

	if len(r.Buckets) == 0 && len(r.Skipped) == 0 {
		return b
	}

	if r.DimensionGuardrailHit {
		b = protowire.AppendTag(b, fieldGuardrailHit, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(true))
	}

	b = protowire.AppendTag(b, fieldTimeBase, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TimeBaseNs))
	b = protowire.AppendTag(b, fieldBucketSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.BucketSizeNs))

	inner := marshalGaugeMetrics(r)
	b = protowire.AppendTag(b, fieldGaugeMetrics, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

func marshalGaugeMetrics(r gauge.Report) []byte {
	var b []byte
	for _, sk := range r.Skipped {
		b = protowire.AppendTag(b, fieldSkipped, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSkippedBucket(sk))
	}
	for key, buckets := range r.Buckets {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalData(key, buckets, r.BucketSizeNs, r.TimeBaseNs))
	}
	return b
}

func marshalSkippedBucket(sk bucket.SkippedBucket) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSkippedStartMillis, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(nanoToMillis(sk.StartNs)))
	b = protowire.AppendTag(b, fieldSkippedEndMillis, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(nanoToMillis(sk.EndNs)))
	return b
}

// marshalData writes one dimension key's worth of data: its canonical key
// rendered flat (as the "leaf" path form, mShouldUseNestedDimensions=false
// in the original) and its bucket_info entries.
func marshalData(key string, buckets []bucket.Bucket[[]gauge.GaugeAtom], bucketSizeNs, timeBaseNs int64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDimensionLeafPath, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(key))

	for _, bk := range buckets {
		b = protowire.AppendTag(b, fieldBucketInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalBucketInfo(bk, bucketSizeNs, timeBaseNs))
	}
	return b
}

func marshalBucketInfo(bk bucket.Bucket[[]gauge.GaugeAtom], bucketSizeNs, timeBaseNs int64) []byte {
	var b []byte
	if bk.IsPartial(bucketSizeNs) {
		b = protowire.AppendTag(b, fieldStartMillis, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nanoToMillis(bk.StartNs)))
		b = protowire.AppendTag(b, fieldEndMillis, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nanoToMillis(bk.EndNs)))
	} else {
		b = protowire.AppendTag(b, fieldBucketNum, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bucket.BucketNumFromEndTimeNs(bk.EndNs-timeBaseNs, bucketSizeNs)))
	}

	for _, aggregated := range groupByFields(bk.Data) {
		b = protowire.AppendTag(b, fieldAggregatedAtom, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAggregatedAtom(aggregated))
	}
	return b
}

// aggregatedAtom is one distinct gauge-field value tuple plus every elapsed
// timestamp it was observed at in the bucket — GaugeMetricProducer's
// mAggregatedAtoms map, keyed by the atom's own field values rather than the
// dimension key.
type aggregatedAtom struct {
	fields     []atom.FieldValue
	timestamps []int64
}

func groupByFields(atoms []gauge.GaugeAtom) []aggregatedAtom {
	var out []aggregatedAtom
	for _, a := range atoms {
		idx := -1
		for i, existing := range out {
			if sameFields(existing.fields, a.Fields) {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, aggregatedAtom{fields: a.Fields})
			idx = len(out) - 1
		}
		out[idx].timestamps = append(out[idx].timestamps, a.ElapsedTimestampNs)
	}
	return out
}

func sameFields(a, b []atom.FieldValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Path.Equal(b[i].Path) || !a[i].Value.Equal(b[i].Value) {
			return false
		}
	}
	return true
}

func marshalAggregatedAtom(a aggregatedAtom) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAtomValue, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalFieldValues(a.fields))
	for _, ts := range a.timestamps {
		b = protowire.AppendTag(b, fieldAtomTimestamps, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts))
	}
	return b
}

// marshalFieldValues writes each gauge field at its own path's leaf index as
// the field number, the flat encoding writeFieldValueTreeToStream produces
// for a depth-1 field tree (the common case for a gauge metric's selected
// fields).
func marshalFieldValues(fields []atom.FieldValue) []byte {
	var b []byte
	for _, fv := range fields {
		fieldNum := protowire.Number(fv.Path.Index(int(fv.Path.Depth()) - 1))
		if fieldNum <= 0 {
			continue
		}
		switch fv.Value.Type {
		case atom.ValueInt32:
			b = protowire.AppendTag(b, fieldNum, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(fv.Value.Int32)))
		case atom.ValueInt64:
			b = protowire.AppendTag(b, fieldNum, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(fv.Value.Int64))
		case atom.ValueFloat:
			b = protowire.AppendTag(b, fieldNum, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(fv.Value.Float32))
		case atom.ValueDouble:
			b = protowire.AppendTag(b, fieldNum, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(fv.Value.Float64))
		case atom.ValueString:
			b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
			b = protowire.AppendString(b, fv.Value.Str)
		case atom.ValueBytes:
			b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
			b = protowire.AppendBytes(b, fv.Value.Bytes)
		}
	}
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
