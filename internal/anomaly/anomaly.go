// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package anomaly defines the hook a bucket engine calls with each sliced
// bucket's projected numeric value, so an external anomaly detector can
// watch for threshold crossings without the producer knowing anything about
// detection policy. Grounded on
// GaugeMetricProducer::updateCurrentSlicedBucketForAnomaly and the
// AnomalyTracker collaborator MetricProducer.h references: the original
// keeps anomaly detection as an injected, independently-configured
// component, never logic the metric producer itself owns.
package anomaly

// Hook receives one dimension key's numeric projection for the currently
// open bucket. metricID and the dimension key let a single Hook
// implementation fan out across many producers it's attached to.
type Hook interface {
	NoteValue(metricID int64, dimensionKey string, value int64)
}

// Chain fans NoteValue out to every Hook in order, letting a producer be
// built with zero, one, or several anomaly hooks without special-casing the
// count at the call site.
type Chain []Hook

func (c Chain) NoteValue(metricID int64, dimensionKey string, value int64) {
	for _, h := range c {
		h.NoteValue(metricID, dimensionKey, value)
	}
}
