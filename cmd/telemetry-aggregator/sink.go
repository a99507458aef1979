// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/gauge"
	"github.com/nodestat/telemetry-core/internal/report"
)

// reportLogSink serializes every dumped gauge.Report with internal/report's
// wire encoding. Where a production deployment would ship the bytes to a
// collector, this logs their size: spec.md §1 puts the real report
// transport out of scope, so this is the thinnest thing that still
// exercises the serializer on every dump tick.
type reportLogSink struct {
	log logr.Logger
}

func newReportLogSink(log logr.Logger) *reportLogSink {
	return &reportLogSink{log: log.WithName("report")}
}

func (s *reportLogSink) Publish(r gauge.Report) {
	b := report.Marshal(r)
	s.log.V(1).Info("dumped gauge report",
		"metricID", r.MetricID,
		"dimensions", len(r.Buckets),
		"skippedBuckets", len(r.Skipped),
		"bytes", len(b))
}
