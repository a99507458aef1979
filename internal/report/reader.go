// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package report

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// View is a structural decode of a Marshal-ed report, used by tests to
// verify a round trip without needing a full dimension-key/field-path
// reconstruction (the wire format is intentionally one-way beyond this: the
// ecosystem readers it targets parse it against the original proto schema,
// not this package's Go types).
type View struct {
	ID                     int64
	IsActive               bool
	DimensionGuardrailHit  bool
	TimeBaseNs             int64
	BucketSizeNs           int64
	Data                   []DataView
	Skipped                []SkippedView
}

type DataView struct {
	DimensionKey string
	Buckets      []BucketInfoView
}

type BucketInfoView struct {
	HasBucketNum      bool
	BucketNum         int64
	StartMillis       int64
	EndMillis         int64
	AggregatedAtoms   int
}

type SkippedView struct {
	StartMillis int64
	EndMillis   int64
	DropEvents  int
}

// Unmarshal decodes a Marshal-ed report into a View, field by field,
// following the same tag numbers Marshal writes.
func Unmarshal(b []byte) (View, error) {
	var v View
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, fmt.Errorf("report: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldID:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad id varint")
			}
			v.ID = int64(val)
			b = b[n:]
		case fieldIsActive:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad is_active varint")
			}
			v.IsActive = val != 0
			b = b[n:]
		case fieldGuardrailHit:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad guardrail varint")
			}
			v.DimensionGuardrailHit = val != 0
			b = b[n:]
		case fieldTimeBase:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad time_base varint")
			}
			v.TimeBaseNs = int64(val)
			b = b[n:]
		case fieldBucketSize:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad bucket_size varint")
			}
			v.BucketSizeNs = int64(val)
			b = b[n:]
		case fieldGaugeMetrics:
			if typ != protowire.BytesType {
				return v, fmt.Errorf("report: gauge_metrics not length-delimited")
			}
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, fmt.Errorf("report: bad gauge_metrics bytes")
			}
			b = b[n:]
			if err := decodeGaugeMetrics(inner, &v); err != nil {
				return v, err
			}
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return v, err
			}
			b = b[n:]
		}
	}
	return v, nil
}

func decodeGaugeMetrics(b []byte, v *View) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("report: bad gauge_metrics tag")
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return fmt.Errorf("report: gauge_metrics field %d not length-delimited", num)
		}
		inner, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("report: bad gauge_metrics bytes field %d", num)
		}
		b = b[n:]
		switch num {
		case fieldSkipped:
			sv, err := decodeSkipped(inner)
			if err != nil {
				return err
			}
			v.Skipped = append(v.Skipped, sv)
		case fieldData:
			dv, err := decodeData(inner)
			if err != nil {
				return err
			}
			v.Data = append(v.Data, dv)
		}
	}
	return nil
}

func decodeSkipped(b []byte) (SkippedView, error) {
	var sv SkippedView
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return sv, fmt.Errorf("report: bad skipped tag")
		}
		b = b[n:]
		switch num {
		case fieldSkippedStartMillis:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return sv, fmt.Errorf("report: bad skipped start")
			}
			sv.StartMillis = int64(val)
			b = b[n:]
		case fieldSkippedEndMillis:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return sv, fmt.Errorf("report: bad skipped end")
			}
			sv.EndMillis = int64(val)
			b = b[n:]
		case fieldSkippedDropEvent:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return sv, fmt.Errorf("report: bad drop event")
			}
			sv.DropEvents++
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return sv, err
			}
			b = b[n:]
		}
	}
	return sv, nil
}

func decodeData(b []byte) (DataView, error) {
	var dv DataView
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return dv, fmt.Errorf("report: bad data tag")
		}
		b = b[n:]
		switch num {
		case fieldDimensionLeafPath:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dv, fmt.Errorf("report: bad dimension leaf path")
			}
			dv.DimensionKey = string(raw)
			b = b[n:]
		case fieldBucketInfo:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return dv, fmt.Errorf("report: bad bucket_info")
			}
			bv, err := decodeBucketInfo(raw)
			if err != nil {
				return dv, err
			}
			dv.Buckets = append(dv.Buckets, bv)
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return dv, err
			}
			b = b[n:]
		}
	}
	return dv, nil
}

func decodeBucketInfo(b []byte) (BucketInfoView, error) {
	var bv BucketInfoView
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return bv, fmt.Errorf("report: bad bucket_info tag")
		}
		b = b[n:]
		switch num {
		case fieldBucketNum:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return bv, fmt.Errorf("report: bad bucket_num")
			}
			bv.HasBucketNum = true
			bv.BucketNum = int64(val)
			b = b[n:]
		case fieldStartMillis:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return bv, fmt.Errorf("report: bad start_millis")
			}
			bv.StartMillis = int64(val)
			b = b[n:]
		case fieldEndMillis:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return bv, fmt.Errorf("report: bad end_millis")
			}
			bv.EndMillis = int64(val)
			b = b[n:]
		case fieldAggregatedAtom:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return bv, fmt.Errorf("report: bad aggregated_atom")
			}
			bv.AggregatedAtoms++
			b = b[n:]
		default:
			n, err := skipField(b, typ)
			if err != nil {
				return bv, err
			}
			b = b[n:]
		}
	}
	return bv, nil
}

func skipField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("report: cannot skip field of type %v", typ)
	}
	return n, nil
}
