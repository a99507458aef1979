// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metricconfig

import "fmt"

// InvalidConfigReason is the structured rejection spec.md §7 calls for when
// a metric's construction is rejected outright: the producer is never
// created and the reason is surfaced to the caller rather than logged and
// swallowed.
type InvalidConfigReason int

const (
	// ReasonMissingWhat means the metric defines no "what" field selector
	// at all, so there is nothing to slice by.
	ReasonMissingWhat InvalidConfigReason = iota
	// ReasonMissingGaugeFields means the metric defines no gauge field
	// selector, so every bucket would retain samples with no fields.
	ReasonMissingGaugeFields
	// ReasonBadBucketSize means bucket_size_ms is non-positive, or
	// min_bucket_size_ms exceeds it.
	ReasonBadBucketSize
	// ReasonBadDimensionLimits means the soft limit exceeds a positive hard
	// limit; a hard limit of 0 is not compared against the soft limit.
	ReasonBadDimensionLimits
	// ReasonBadFieldSelector means a what/gauge_fields node names an unknown
	// position. A leaf whose depth or child index is out of range is not
	// rejected here; fieldmatch.Compile skips it.
	ReasonBadFieldSelector
	// ReasonBadSamplingMode means sampling.mode didn't match a known value.
	ReasonBadSamplingMode
)

func (r InvalidConfigReason) String() string {
	switch r {
	case ReasonMissingWhat:
		return "missing_what"
	case ReasonMissingGaugeFields:
		return "missing_gauge_fields"
	case ReasonBadBucketSize:
		return "bad_bucket_size"
	case ReasonBadDimensionLimits:
		return "bad_dimension_limits"
	case ReasonBadFieldSelector:
		return "bad_field_selector"
	case ReasonBadSamplingMode:
		return "bad_sampling_mode"
	default:
		return "unknown"
	}
}

// ConfigError wraps an InvalidConfigReason with the underlying detail, and
// implements Unwrap so callers can errors.As into a lower-level parse
// failure (e.g. an unknown field position) when one exists.
type ConfigError struct {
	MetricID int64
	Reason   InvalidConfigReason
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metricconfig: metric %d invalid (%s): %v", e.MetricID, e.Reason, e.Err)
	}
	return fmt.Sprintf("metricconfig: metric %d invalid (%s)", e.MetricID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }
