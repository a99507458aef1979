// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build unit

package gauge_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/activation"
	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/condition"
	"github.com/nodestat/telemetry-core/internal/dimension"
	"github.com/nodestat/telemetry-core/internal/fieldmatch"
	"github.com/nodestat/telemetry-core/internal/gauge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAtomID int32 = 10

var ctx = context.Background()

func whatMatchers() []fieldmatch.Matcher {
	return fieldmatch.Compile(fieldmatch.Node{AtomID: testAtomID, Field: 1, Position: atom.PositionFirst})
}

func gaugeMatchers() []fieldmatch.Matcher {
	return fieldmatch.Compile(fieldmatch.Node{AtomID: testAtomID, Field: 2, Position: atom.PositionFirst})
}

func mkAtom(t *testing.T, dim, val int32, elapsedNs int64) atom.Atom {
	t.Helper()
	p1, err := atom.NewFieldPath(testAtomID, []int{1}, []atom.Position{atom.PositionFirst})
	require.NoError(t, err)
	p2, err := atom.NewFieldPath(testAtomID, []int{2}, []atom.Position{atom.PositionFirst})
	require.NoError(t, err)
	return atom.Atom{
		ID:                 testAtomID,
		ElapsedTimestampNs: elapsedNs,
		Values: []atom.FieldValue{
			{Path: p1, Value: atom.Int32Value(dim)},
			{Path: p2, Value: atom.Int64Value(int64(val))},
		},
	}
}

func baseConfig() gauge.Config {
	return gauge.Config{
		MetricID:              1,
		SamplingMode:          gauge.FirstNSamples,
		MaxAtomsPerDimension:  10,
		WhatMatchers:          whatMatchers(),
		GaugeFieldMatchers:    gaugeMatchers(),
		BucketSizeNs:          1000,
		MinBucketSizeNs:       0,
		StartTimeNs:           0,
		DimensionSoftLimit:    100,
		DimensionHardLimit:    200,
		PullAtomID:            -1,
		TriggerAtomID:         -1,
	}
}

func TestPushAppendsAndDumps(t *testing.T) {
	p := gauge.New(baseConfig(), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 42, 10)))

	r := p.DumpAndReset(1000, true, true)
	require.Len(t, r.Buckets, 1)
	for _, bl := range r.Buckets {
		require.Len(t, bl, 1)
		require.Len(t, bl[0].Data, 1)
		assert.True(t, bl[0].Data[0].Fields[0].Value.Equal(atom.Int64Value(42)))
	}
}

func TestConditionFalseGatesAppend(t *testing.T) {
	tr := condition.NewTracker(false)
	p := gauge.New(baseConfig(), tr, nil, nil, nil, nil, logr.Discard())

	tr.SetUnsliced(condition.False)
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 10)))
	r := p.DumpAndReset(1000, true, true)
	assert.Empty(t, r.Buckets)
}

func TestConditionUnknownStillAccumulates(t *testing.T) {
	tr := condition.NewTracker(false)
	p := gauge.New(baseConfig(), tr, nil, nil, nil, nil, logr.Discard())

	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 10)))
	r := p.DumpAndReset(1000, true, true)
	assert.NotEmpty(t, r.Buckets, "unknown condition is not literal false, so step 1 lets it through")
}

func TestLateEventDropped(t *testing.T) {
	p := gauge.New(baseConfig(), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 2000)))
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 2, 500)))

	r := p.DumpAndReset(3000, true, true)
	for _, bl := range r.Buckets {
		for _, b := range bl {
			for _, ga := range b.Data {
				assert.NotEqual(t, int64(500), ga.ElapsedTimestampNs)
			}
		}
	}
}

func TestFirstNSamplesCapsPerDimension(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxAtomsPerDimension = 2
	p := gauge.New(cfg, nil, nil, nil, nil, nil, logr.Discard())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, int32(i), 10)))
	}
	r := p.DumpAndReset(1000, true, true)
	for _, bl := range r.Buckets {
		assert.Len(t, bl[0].Data, 2)
		assert.Equal(t, int64(0), bl[0].Data[0].Fields[0].Value.AsInt64(), "first-arrived kept")
		assert.Equal(t, int64(1), bl[0].Data[1].Fields[0].Value.AsInt64())
	}
}

func TestRandomOneSampleKeepsFirstOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.SamplingMode = gauge.RandomOneSample
	p := gauge.New(cfg, nil, nil, nil, nil, nil, logr.Discard())

	for i := 0; i < 20; i++ {
		require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, int32(i), 10)))
	}
	r := p.DumpAndReset(1000, true, true)
	for _, bl := range r.Buckets {
		require.Len(t, bl[0].Data, 1)
		assert.Equal(t, int64(0), bl[0].Data[0].Fields[0].Value.AsInt64())
	}
}

func TestDimensionsTrackedSeparately(t *testing.T) {
	p := gauge.New(baseConfig(), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 10)))
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 2, 2, 10)))
	r := p.DumpAndReset(1000, true, true)
	assert.Len(t, r.Buckets, 2)
}

type fakePuller struct {
	atoms []atom.Atom
	err   error
	calls int
}

func (f *fakePuller) Pull(ctx context.Context, atomID int32) ([]atom.Atom, error) {
	f.calls++
	return f.atoms, f.err
}

func pullConfig(t *testing.T) gauge.Config {
	t.Helper()
	cfg := baseConfig()
	cfg.PullAtomID = testAtomID
	return cfg
}

func TestPullWithTriggerOnlyPullsOnTriggerAtom(t *testing.T) {
	puller := &fakePuller{atoms: []atom.Atom{mkAtom(t, 1, 7, 10)}}
	cfg := pullConfig(t)
	cfg.TriggerAtomID = 55
	p := gauge.New(cfg, nil, nil, puller, nil, nil, logr.Discard())

	assert.Equal(t, 0, puller.calls)

	trigger := mkAtom(t, 1, 7, 10)
	trigger.ID = 55
	require.NoError(t, p.OnMatchedAtom(ctx, trigger))
	assert.Equal(t, 1, puller.calls)

	r := p.DumpAndReset(1000, true, true)
	require.Len(t, r.Buckets, 1, "the pulled atom is the sample, not the trigger atom itself")
}

func TestConditionChangeToTrueFiresOnEdgeOnly(t *testing.T) {
	puller := &fakePuller{atoms: []atom.Atom{mkAtom(t, 1, 7, 10)}}
	cfg := pullConfig(t)
	cfg.SamplingMode = gauge.ConditionChangeToTrue
	p := gauge.New(cfg, nil, nil, puller, nil, nil, logr.Discard())
	k := dimension.NewKey(nil)

	require.NoError(t, p.OnConditionChanged(ctx, k, condition.False, 10))
	assert.Equal(t, 0, puller.calls)

	require.NoError(t, p.OnConditionChanged(ctx, k, condition.True, 20))
	assert.Equal(t, 1, puller.calls, "false -> true edge pulls")

	require.NoError(t, p.OnConditionChanged(ctx, k, condition.True, 30))
	assert.Equal(t, 1, puller.calls, "staying true does not re-pull")
}

// Pins the documented open-question behavior: a configured TriggerAtomID
// suppresses sliced-condition-driven pulling entirely.
func TestTriggerAtomIDSuppressesSlicedConditionPull(t *testing.T) {
	puller := &fakePuller{atoms: []atom.Atom{mkAtom(t, 1, 7, 10)}}
	cfg := pullConfig(t)
	cfg.SamplingMode = gauge.ConditionChangeToTrue
	cfg.TriggerAtomID = 55
	p := gauge.New(cfg, nil, nil, puller, nil, nil, logr.Discard())

	require.NoError(t, p.OnSlicedConditionMayChange(ctx, true, 20))
	assert.Equal(t, 0, puller.calls, "an explicit trigger atom takes over as the sole pull signal")
}

func TestRandomOneSamplePullSkippedWhenBucketNonEmpty(t *testing.T) {
	puller := &fakePuller{atoms: []atom.Atom{mkAtom(t, 1, 7, 10)}}
	cfg := pullConfig(t)
	cfg.SamplingMode = gauge.RandomOneSample
	p := gauge.New(cfg, nil, nil, puller, nil, nil, logr.Discard())

	require.NoError(t, p.OnSlicedConditionMayChange(ctx, true, 10))
	assert.Equal(t, 1, puller.calls)
	require.NoError(t, p.OnSlicedConditionMayChange(ctx, true, 20))
	assert.Equal(t, 1, puller.calls, "bucket already has data, pull skipped")
}

func TestOnActiveStateChangedFlushesWhenInactive(t *testing.T) {
	p := gauge.New(baseConfig(), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 10)))
	require.NoError(t, p.OnActiveStateChanged(ctx, 500, false))

	r := p.DumpAndReset(500, true, true)
	assert.False(t, r.IsActive)
	assert.NotEmpty(t, r.Buckets, "deactivation flushed the partial bucket")
}

func TestOnActiveStateChangedPullsOnReactivation(t *testing.T) {
	puller := &fakePuller{atoms: []atom.Atom{mkAtom(t, 1, 7, 10)}}
	cfg := pullConfig(t)
	cfg.SamplingMode = gauge.RandomOneSample
	p := gauge.New(cfg, nil, nil, puller, nil, nil, logr.Discard())

	require.NoError(t, p.OnActiveStateChanged(ctx, 10, true))
	assert.Equal(t, 1, puller.calls)
}

func TestGuardrailDropsBeyondHardLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.DimensionSoftLimit = 1
	cfg.DimensionHardLimit = 2
	p := gauge.New(cfg, nil, nil, nil, nil, nil, logr.Discard())

	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 1, 1, 10)))
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 2, 2, 10)))
	require.NoError(t, p.OnMatchedAtom(ctx, mkAtom(t, 3, 3, 10)))

	r := p.DumpAndReset(1000, true, true)
	assert.LessOrEqual(t, len(r.Buckets), 2, "hard limit caps tracked dimensions")
	assert.True(t, r.DimensionGuardrailHit)
}

func TestOnDataPulledDiscardsOnFailureOrEmpty(t *testing.T) {
	p := gauge.New(pullConfig(t), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnDataPulled(ctx, []atom.Atom{mkAtom(t, 1, 1, 10)}, false, 0, 5))
	require.NoError(t, p.OnDataPulled(ctx, nil, true, 0, 5))
	r := p.DumpAndReset(1000, true, true)
	assert.Empty(t, r.Buckets)
}

func TestOnDataPulledAppendsAtOriginalTime(t *testing.T) {
	p := gauge.New(pullConfig(t), nil, nil, nil, nil, nil, logr.Discard())
	require.NoError(t, p.OnDataPulled(ctx, []atom.Atom{mkAtom(t, 1, 9, 999999)}, true, 10, 15))
	r := p.DumpAndReset(1000, true, true)
	require.NotEmpty(t, r.Buckets)
	for _, bl := range r.Buckets {
		assert.Equal(t, int64(10), bl[0].Data[0].ElapsedTimestampNs, "stamped at the original pull time, not the atom's own timestamp")
	}
}

type recordingSink struct {
	delays   []int64
	exceeded int
}

func (r *recordingSink) NotePullDelay(metricID int64, delayNs int64) { r.delays = append(r.delays, delayNs) }
func (r *recordingSink) NotePullExceedMaxDelay(int64)                { r.exceeded++ }

func TestPullExceedsMaxDelayDiscardsResults(t *testing.T) {
	sink := &recordingSink{}
	cfg := pullConfig(t)
	cfg.MaxPullDelayNs = 50
	p := gauge.New(cfg, nil, nil, nil, sink, nil, logr.Discard())

	require.NoError(t, p.OnDataPulled(ctx, []atom.Atom{mkAtom(t, 1, 1, 10)}, true, 0, 70))
	assert.Equal(t, 1, sink.exceeded)
	r := p.DumpAndReset(1000, true, true)
	assert.Empty(t, r.Buckets)
}

func TestNoActivationConfiguredAlwaysActive(t *testing.T) {
	p := gauge.New(baseConfig(), nil, nil, nil, nil, nil, logr.Discard())
	r := p.DumpAndReset(0, true, true)
	assert.True(t, r.IsActive)
}

func TestActivationMachineGatesReportedState(t *testing.T) {
	act := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(testAtomID, activation.KindImmediate, 100),
	})
	p := gauge.New(baseConfig(), nil, act, nil, nil, nil, logr.Discard())

	require.NoError(t, p.OnActiveStateChanged(ctx, 0, act.IsActive(0)))
	r := p.DumpAndReset(0, true, true)
	assert.False(t, r.IsActive, "activation not yet triggered")

	act.Trigger(testAtomID, 10)
	require.NoError(t, p.OnActiveStateChanged(ctx, 10, act.IsActive(10)))
	r = p.DumpAndReset(10, true, true)
	assert.True(t, r.IsActive)
}
