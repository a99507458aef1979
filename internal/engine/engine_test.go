// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build unit

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/engine"
	"github.com/nodestat/telemetry-core/internal/fieldmatch"
	"github.com/nodestat/telemetry-core/internal/gauge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAtomID int32 = 42

func whatMatchers() []fieldmatch.Matcher {
	return fieldmatch.Compile(fieldmatch.Node{AtomID: testAtomID, Field: 1, Position: atom.PositionFirst})
}

func gaugeMatchers() []fieldmatch.Matcher {
	return fieldmatch.Compile(fieldmatch.Node{AtomID: testAtomID, Field: 2, Position: atom.PositionFirst})
}

func mkAtom(t *testing.T, dim, val int64, elapsedNs int64) atom.Atom {
	t.Helper()
	uidPath, err := atom.NewFieldPath(testAtomID, []int{1}, []atom.Position{atom.PositionFirst})
	require.NoError(t, err)
	valPath, err := atom.NewFieldPath(testAtomID, []int{2}, []atom.Position{atom.PositionFirst})
	require.NoError(t, err)
	return atom.Atom{
		ID:                 testAtomID,
		ElapsedTimestampNs: elapsedNs,
		Values: []atom.FieldValue{
			{Path: uidPath, Value: atom.Int64Value(dim)},
			{Path: valPath, Value: atom.Int64Value(val)},
		},
	}
}

func newProducer(t *testing.T, metricID int64) *gauge.Producer {
	t.Helper()
	cfg := gauge.Config{
		MetricID:             metricID,
		SamplingMode:         gauge.FirstNSamples,
		MaxAtomsPerDimension: 10,
		PullAtomID:           -1,
		TriggerAtomID:        -1,
		WhatMatchers:         whatMatchers(),
		GaugeFieldMatchers:   gaugeMatchers(),
		BucketSizeNs:         int64(time.Minute),
		StartTimeNs:          0,
		DimensionSoftLimit:   100,
		DimensionHardLimit:   200,
	}
	return gauge.New(cfg, nil, nil, nil, nil, nil, logr.Discard())
}

type recordingSink struct {
	reports []gauge.Report
}

func (s *recordingSink) Publish(r gauge.Report) { s.reports = append(s.reports, r) }

func TestDispatchRoutesAtomsByAtomID(t *testing.T) {
	sink := &recordingSink{}
	e := engine.New(logr.Discard(), sink)
	p := newProducer(t, 1)
	e.Register(1, []int32{testAtomID}, p)

	require.NoError(t, e.Dispatch(context.Background(), mkAtom(t, 7, 100, 1000)))
	require.NoError(t, e.Dispatch(context.Background(), atom.Atom{ID: 999}))

	e.DumpAll(int64(time.Minute), true, true)
	require.Len(t, sink.reports, 1)
	assert.Equal(t, int64(1), sink.reports[0].MetricID)
	assert.Len(t, sink.reports[0].Buckets, 1)
}

func TestDispatchFansOutToMultipleRegisteredProducers(t *testing.T) {
	sink := &recordingSink{}
	e := engine.New(logr.Discard(), sink)
	e.Register(1, []int32{testAtomID}, newProducer(t, 1))
	e.Register(2, []int32{testAtomID}, newProducer(t, 2))

	require.NoError(t, e.Dispatch(context.Background(), mkAtom(t, 7, 100, 1000)))

	e.DumpAll(int64(time.Minute), true, true)
	require.Len(t, sink.reports, 2)
	ids := []int64{sink.reports[0].MetricID, sink.reports[1].MetricID}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestUnregisterStopsDispatch(t *testing.T) {
	sink := &recordingSink{}
	e := engine.New(logr.Discard(), sink)
	e.Register(1, []int32{testAtomID}, newProducer(t, 1))
	e.Unregister(1)

	require.NoError(t, e.Dispatch(context.Background(), mkAtom(t, 7, 100, 1000)))

	e.DumpAll(int64(time.Minute), true, true)
	assert.Empty(t, sink.reports)
}

func TestStartDumpsOnTickAndOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	e := engine.New(logr.Discard(), sink, engine.WithDumpPeriod(10*time.Millisecond))
	e.Register(1, []int32{testAtomID}, newProducer(t, 1))
	require.NoError(t, e.Dispatch(context.Background(), mkAtom(t, 7, 100, 1000)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.NotEmpty(t, sink.reports)
}
