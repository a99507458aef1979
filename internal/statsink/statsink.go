// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package statsink implements the process-wide statistics collaborator
// spec.md §9 calls for as an explicit dependency rather than a
// process-singleton: one Sink backed by OpenTelemetry instruments satisfies
// dimension.Notifier, bucket.Notifier, and gauge.Notifier. Grounded on
// internal/metrics/consumers/otel/transformer.go's lazy
// getOrCreate*Instrument pattern and metric naming style.
package statsink

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink is the reference statistics collaborator every metric producer in
// the engine shares, counting the events spec.md §7's error taxonomy names.
type Sink struct {
	meter metric.Meter

	dimensionSize      metric.Int64Gauge
	hardLimitHits      metric.Int64Counter
	bucketDropped      metric.Int64Counter
	bucketCount        metric.Int64Counter
	pullDelay          metric.Int64Histogram
	pullExceedMaxDelay metric.Int64Counter
}

// New builds a Sink backed by meter, creating every instrument eagerly
// (unlike the otel consumer's lazy per-metric-name cache, a Sink only ever
// needs a fixed, small instrument set known up front).
func New(meter metric.Meter) (*Sink, error) {
	s := &Sink{meter: meter}

	var err error
	if s.dimensionSize, err = meter.Int64Gauge("telemetry.metric.dimension_size",
		metric.WithDescription("Number of distinct dimension keys currently tracked for a metric"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if s.hardLimitHits, err = meter.Int64Counter("telemetry.metric.dimension_hard_limit_hits",
		metric.WithDescription("Times a metric's dimension hard limit rejected a new key"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if s.bucketDropped, err = meter.Int64Counter("telemetry.metric.buckets_dropped",
		metric.WithDescription("Buckets dropped for being shorter than the configured minimum"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if s.bucketCount, err = meter.Int64Counter("telemetry.metric.buckets_flushed",
		metric.WithDescription("Buckets flushed, dropped or not"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if s.pullDelay, err = meter.Int64Histogram("telemetry.metric.pull_delay",
		metric.WithDescription("Delay between a pull's original trigger time and its delivery"),
		metric.WithUnit("ns")); err != nil {
		return nil, err
	}
	if s.pullExceedMaxDelay, err = meter.Int64Counter("telemetry.metric.pull_exceeded_max_delay",
		metric.WithDescription("Pulls discarded for exceeding the configured max pull delay"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	return s, nil
}

// NoteMetricDimensionSize implements dimension.Notifier.
func (s *Sink) NoteMetricDimensionSize(metricID int64, newCount int) {
	s.dimensionSize.Record(context.Background(), int64(newCount), metric.WithAttributes(metricAttr(metricID)))
}

// NoteHardDimensionLimitReached implements dimension.Notifier.
func (s *Sink) NoteHardDimensionLimitReached(metricID int64) {
	s.hardLimitHits.Add(context.Background(), 1, metric.WithAttributes(metricAttr(metricID)))
}

// NoteBucketDropped implements bucket.Notifier.
func (s *Sink) NoteBucketDropped(metricID int64) {
	s.bucketDropped.Add(context.Background(), 1, metric.WithAttributes(metricAttr(metricID)))
}

// NoteBucketCount implements bucket.Notifier.
func (s *Sink) NoteBucketCount(metricID int64) {
	s.bucketCount.Add(context.Background(), 1, metric.WithAttributes(metricAttr(metricID)))
}

// NotePullDelay implements gauge.Notifier.
func (s *Sink) NotePullDelay(metricID int64, delayNs int64) {
	s.pullDelay.Record(context.Background(), delayNs, metric.WithAttributes(metricAttr(metricID)))
}

// NotePullExceedMaxDelay implements gauge.Notifier.
func (s *Sink) NotePullExceedMaxDelay(metricID int64) {
	s.pullExceedMaxDelay.Add(context.Background(), 1, metric.WithAttributes(metricAttr(metricID)))
}

func metricAttr(metricID int64) attribute.KeyValue {
	return attribute.Int64("metric_id", metricID)
}
