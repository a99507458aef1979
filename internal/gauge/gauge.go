// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package gauge implements the gauge metric producer: it slices atoms by a
// "what" dimension, carries a sampled snapshot of the configured gauge
// fields per dimension per bucket, and supports push, pull, and
// pull-with-trigger acquisition. Grounded line-for-line on
// GaugeMetricProducer.cpp, with the locked-delegate concurrency shape
// MetricProducer.h establishes: every exported method takes the mutex and
// calls an internal *Locked method that assumes it.
package gauge

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/activation"
	"github.com/nodestat/telemetry-core/internal/anomaly"
	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/bucket"
	"github.com/nodestat/telemetry-core/internal/condition"
	"github.com/nodestat/telemetry-core/internal/dimension"
	"github.com/nodestat/telemetry-core/internal/fieldmatch"
)

// SamplingMode is one of the three sampling strategies fixed at producer
// creation.
type SamplingMode uint8

const (
	// RandomOneSample keeps only the first gauge atom observed per
	// dimension per bucket; for pull-mode producers, a pull is skipped
	// entirely once the current bucket already holds any data.
	RandomOneSample SamplingMode = iota
	// FirstNSamples appends every matched event for the bucket, up to the
	// per-dimension atom cap.
	FirstNSamples
	// ConditionChangeToTrue pulls on every observed false-to-true condition
	// edge, in addition to the usual push/trigger path.
	ConditionChangeToTrue
)

// GaugeAtom is one retained sample: the gauge fields extracted from a
// matched atom (excluding any field that also participates in the
// dimension), plus its truncated elapsed timestamp.
type GaugeAtom struct {
	ElapsedTimestampNs int64
	Fields             []atom.FieldValue
}

// Puller pulls a batch of atoms for a tag id on demand.
type Puller interface {
	Pull(ctx context.Context, atomID int32) ([]atom.Atom, error)
}

// Notifier receives the pull-latency statistics spec names.
type Notifier interface {
	NotePullDelay(metricID int64, delayNs int64)
	NotePullExceedMaxDelay(metricID int64)
}

type noopNotifier struct{}

func (noopNotifier) NotePullDelay(int64, int64)   {}
func (noopNotifier) NotePullExceedMaxDelay(int64) {}

// Config is the fixed configuration a Producer is built from.
type Config struct {
	MetricID int64

	SamplingMode SamplingMode
	// SamplingPercentage gates push-mode events probabilistically; 100 (or
	// 0, treated as "unset") keeps every event.
	SamplingPercentage int
	// MaxAtomsPerDimension is the per-dimension atom cap (step 8 of the
	// append path); FirstNSamples relies on it, RandomOneSample never
	// reaches it since step 6 already stops at one.
	MaxAtomsPerDimension int
	// TimestampTruncationNs truncates an appended atom's elapsed timestamp
	// to the metric's resolution; 0 disables truncation.
	TimestampTruncationNs int64

	// PullAtomID is the tag id fetched from Puller. -1 means this producer
	// is push-only.
	PullAtomID int32
	// TriggerAtomID, when >= 0, marks this a pull-with-trigger producer:
	// atoms with this id act only as a pull signal and are never
	// themselves appended.
	TriggerAtomID int32
	// MaxPullDelayNs bounds how long a pull may take before its results are
	// discarded as stale.
	MaxPullDelayNs int64

	WhatMatchers       []fieldmatch.Matcher
	GaugeFieldMatchers []fieldmatch.Matcher

	BucketSizeNs    int64
	MinBucketSizeNs int64
	StartTimeNs     int64

	DimensionSoftLimit int
	DimensionHardLimit int
}

func (c Config) isPull() bool { return c.PullAtomID >= 0 }

// Producer is a single configured gauge metric.
type Producer struct {
	mu sync.Mutex

	cfg Config
	log logr.Logger

	cond condition.Evaluator
	// lastCondTrue tracks whether the last known condition state was True,
	// per dimension key, so condition-edge pulls fire on the false/unknown
	// -> true transition only, not on every call.
	lastCondTrue map[string]bool

	act *activation.Machine

	guard *dimension.Guardrail
	bkt   *bucket.Engine[[]GaugeAtom]

	puller Puller
	sink   Notifier
	hook   anomaly.Hook

	isActive bool
}

// New builds a Producer. cond, act, puller, sink, and hook may be nil; a nil
// cond always reads True (no gate), a nil act is always-active, a nil puller
// makes any pull attempt return an error, and nil sink/hook are no-ops.
func New(cfg Config, cond condition.Evaluator, act *activation.Machine, puller Puller, sink Notifier, hook anomaly.Hook, log logr.Logger) *Producer {
	if act == nil {
		act = activation.NewMachine(nil)
	}
	if sink == nil {
		sink = noopNotifier{}
	}
	if hook == nil {
		hook = anomaly.Chain(nil)
	}
	guard := dimension.NewGuardrail(cfg.MetricID, cfg.DimensionSoftLimit, cfg.DimensionHardLimit, nil, log)
	return &Producer{
		cfg:          cfg,
		log:          log,
		cond:         cond,
		lastCondTrue: make(map[string]bool),
		act:          act,
		guard:        guard,
		bkt:          bucket.NewEngine[[]GaugeAtom](cfg.MetricID, cfg.BucketSizeNs, cfg.MinBucketSizeNs, cfg.StartTimeNs, nil, log),
		puller:       puller,
		sink:         sink,
		hook:         hook,
		isActive:     true,
	}
}

// conditionState reads the condition for a dimension key, defaulting to
// True when no Evaluator was supplied (an unconditioned gauge metric).
func (p *Producer) conditionState(key dimension.Key) condition.State {
	if p.cond == nil {
		return condition.True
	}
	return p.cond.Condition(key)
}

func (p *Producer) overallConditionState() condition.State {
	return p.conditionState(dimension.NewKey(nil))
}

// samplingHash deterministically folds one atom's identity into [0,100), so
// the same event always resolves to the same keep/drop decision regardless
// of how many times it is replayed.
func samplingHash(a atom.Atom) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%d|%d|%d", a.ID, a.UID, a.PID, a.ElapsedTimestampNs)
	return int(h.Sum32() % 100)
}

func (p *Producer) passesSamplingPercentage(a atom.Atom) bool {
	pct := p.cfg.SamplingPercentage
	if pct <= 0 || pct >= 100 {
		return true
	}
	return samplingHash(a) < pct
}

func truncateTimestamp(ts, resolutionNs int64) int64 {
	if resolutionNs <= 0 {
		return ts
	}
	return (ts / resolutionNs) * resolutionNs
}

// OnMatchedAtom is the entry point for every atom the config's matcher
// already determined is relevant to this metric, whether it will be
// appended as a sample (push mode) or only acts as a pull signal
// (pull-with-trigger mode, when its id equals TriggerAtomID).
func (p *Producer) OnMatchedAtom(ctx context.Context, a atom.Atom) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onMatchedAtomInternalLocked(ctx, a, a.ElapsedTimestampNs)
}

// onMatchedAtomInternalLocked is the append path, grounded verbatim on
// GaugeMetricProducer::onMatchedLogEventInternalLocked's ten numbered
// steps (spec.md 4.4).
func (p *Producer) onMatchedAtomInternalLocked(ctx context.Context, a atom.Atom, eventTimeNs int64) error {
	dimParts, ok := fieldmatch.FilterValues(p.cfg.WhatMatchers, a.Values)
	if !ok {
		return nil
	}
	key := dimension.NewKey(dimParts)
	keyStr := key.String()

	// Step 1: only a literal False condition gates the append; Unknown
	// still accumulates (the bucket-level "condition-unknown" skip reason
	// is a closing-time concern, not a per-event one).
	if p.conditionState(key) == condition.False {
		return nil
	}

	// Step 2: push-mode probabilistic sampling. Pull-with-trigger atoms
	// never reach this as themselves-as-samples (they return at step 5),
	// so this only ever filters genuine push events.
	if !p.cfg.isPull() {
		if !p.passesSamplingPercentage(a) {
			return nil
		}
	}

	// Step 3: late events are dropped against the bucket's current
	// (pre-flush) start time.
	if eventTimeNs < p.bkt.CurrentBucketStartNs() {
		return nil
	}

	// Step 4.
	p.bkt.FlushIfNeeded(eventTimeNs)

	// Step 5: a configured trigger atom is a pull signal only, never a
	// sample itself.
	if p.cfg.TriggerAtomID >= 0 && a.ID == p.cfg.TriggerAtomID {
		return p.pullAndMatchLocked(ctx, eventTimeNs)
	}

	// Step 6.
	if p.cfg.SamplingMode == RandomOneSample && p.bkt.Contains(keyStr) {
		return nil
	}

	// Step 7.
	alreadyTracked := p.bkt.Contains(keyStr)
	if p.guard.Hit(alreadyTracked, p.bkt.Size()) {
		return nil
	}

	// Step 8.
	if p.cfg.MaxAtomsPerDimension > 0 {
		var count int
		p.bkt.Update(keyStr, func(cur []GaugeAtom) []GaugeAtom { count = len(cur); return cur })
		if count >= p.cfg.MaxAtomsPerDimension {
			return nil
		}
	}

	// Step 9: project the gauge fields, excluding any that already
	// participate in the dimension.
	fields, ok := fieldmatch.FilterValues(p.cfg.GaugeFieldMatchers, a.Values)
	if !ok {
		return nil
	}
	fields = excludeDimensionFields(fields, dimParts)
	truncated := truncateTimestamp(eventTimeNs, p.cfg.TimestampTruncationNs)
	ga := GaugeAtom{ElapsedTimestampNs: truncated, Fields: fields}
	p.bkt.Update(keyStr, func(cur []GaugeAtom) []GaugeAtom { return append(cur, ga) })

	// Step 10: a single numeric field is forwarded to the anomaly hook.
	if len(fields) == 1 && fields[0].Value.IsNumeric() {
		p.hook.NoteValue(p.cfg.MetricID, keyStr, fields[0].Value.AsInt64())
	}
	return nil
}

func excludeDimensionFields(fields, dimParts []atom.FieldValue) []atom.FieldValue {
	if len(dimParts) == 0 {
		return fields
	}
	out := make([]atom.FieldValue, 0, len(fields))
	for _, f := range fields {
		dup := false
		for _, d := range dimParts {
			if f.Path.Equal(d.Path) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}

// pullAndMatchLocked performs one pull, gated by activation, condition, and
// sampling mode, measures its latency against MaxPullDelayNs, and runs every
// returned atom through the same append path with eventTimeNs stamped
// uniformly across the batch. Grounded on
// GaugeMetricProducer::pullAndMatchLocked.
func (p *Producer) pullAndMatchLocked(ctx context.Context, timeNs int64) error {
	if !p.isActive {
		return nil
	}
	if p.overallConditionState() != condition.True {
		return nil
	}
	if p.cfg.SamplingMode == RandomOneSample && p.bkt.Size() > 0 {
		return nil
	}
	if p.puller == nil {
		return fmt.Errorf("gauge: metric %d configured for pull but has no puller", p.cfg.MetricID)
	}

	pullStart := time.Now()
	atoms, err := p.puller.Pull(ctx, p.cfg.PullAtomID)
	if err != nil {
		return fmt.Errorf("gauge: pull atom %d for metric %d: %w", p.cfg.PullAtomID, p.cfg.MetricID, err)
	}
	return p.deliverPulledLocked(ctx, atoms, timeNs, time.Since(pullStart).Nanoseconds())
}

// deliverPulledLocked applies the max-pull-delay rule and, if the batch
// survives it, runs every atom through the append path stamped at
// originalTimeNs.
func (p *Producer) deliverPulledLocked(ctx context.Context, atoms []atom.Atom, originalTimeNs int64, delayNs int64) error {
	p.sink.NotePullDelay(p.cfg.MetricID, delayNs)
	if p.cfg.MaxPullDelayNs > 0 && delayNs > p.cfg.MaxPullDelayNs {
		p.sink.NotePullExceedMaxDelay(p.cfg.MetricID)
		return nil
	}
	for _, a := range atoms {
		if err := p.onMatchedAtomInternalLocked(ctx, a, originalTimeNs); err != nil {
			return err
		}
	}
	return nil
}

// OnDataPulled is the asynchronous pull-completion entry point: discards on
// failure or an empty batch, else runs matching/appending at the original
// pull time, enforcing the same max-pull-delay rule as a synchronous pull.
func (p *Producer) OnDataPulled(ctx context.Context, batch []atom.Atom, success bool, originalTimeNs, deliveredAtNs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !success || len(batch) == 0 {
		return nil
	}
	return p.deliverPulledLocked(ctx, batch, originalTimeNs, deliveredAtNs-originalTimeNs)
}

// OnConditionChanged updates the edge-detection state for key and, if the
// producer is active and pull-configured, pulls when the sampling mode is
// RandomOneSample (every condition update re-pulls, gated as always by the
// bucket-empty rule) or the condition just edged false/unknown -> true under
// ConditionChangeToTrue.
func (p *Producer) OnConditionChanged(ctx context.Context, key dimension.Key, newState condition.State, nowNs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keyStr := key.String()
	wasTrue := p.lastCondTrue[keyStr]
	isTrue := newState == condition.True
	p.lastCondTrue[keyStr] = isTrue

	if !p.isActive {
		return nil
	}
	p.bkt.FlushIfNeeded(nowNs)

	if !p.cfg.isPull() {
		return nil
	}
	if p.cfg.SamplingMode == RandomOneSample || (p.cfg.SamplingMode == ConditionChangeToTrue && isTrue && !wasTrue) {
		return p.pullAndMatchLocked(ctx, nowNs)
	}
	return nil
}

// OnSlicedConditionMayChange handles a sliced condition's overall-state
// broadcast. A configured TriggerAtomID suppresses condition-driven pulling
// entirely here: this mirrors
// GaugeMetricProducer::onSlicedConditionMayChangeLocked's decision to
// decline a condition-driven pull whenever a trigger atom id is configured
// — preserved as-is rather than "corrected", since spec.md leaves the
// interaction between these two signals as an open question.
func (p *Producer) OnSlicedConditionMayChange(ctx context.Context, overall bool, nowNs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isActive {
		return nil
	}
	p.bkt.FlushIfNeeded(nowNs)

	if p.cfg.TriggerAtomID >= 0 {
		return nil
	}
	if p.cfg.isPull() && overall && (p.cfg.SamplingMode == RandomOneSample || p.cfg.SamplingMode == ConditionChangeToTrue) {
		return p.pullAndMatchLocked(ctx, nowNs)
	}
	return nil
}

// OnActiveStateChanged flushes when the producer becomes inactive, and when
// it becomes active pulls immediately if it is pull-configured,
// RandomOneSample, and its condition already holds.
func (p *Producer) OnActiveStateChanged(ctx context.Context, nowNs int64, isActive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isActive = isActive

	if !isActive {
		p.bkt.FlushCurrent(nowNs, nowNs)
		return nil
	}
	if p.cfg.isPull() && p.cfg.SamplingMode == RandomOneSample && p.overallConditionState() == condition.True {
		return p.pullAndMatchLocked(ctx, nowNs)
	}
	return nil
}

// Report is the flushed, report-ready state of one dump: every completed
// bucket plus every skipped-bucket span since the last dump, the producer's
// active flag, and the latched dimension-guardrail-hit flag.
type Report struct {
	MetricID              int64
	BucketSizeNs          int64
	TimeBaseNs            int64
	IsActive              bool
	DimensionGuardrailHit bool
	Buckets               map[string][]bucket.Bucket[[]GaugeAtom]
	Skipped               []bucket.SkippedBucket
}

// DumpAndReset returns the current report, honoring the dump's two
// independent parameters exactly as onDumpReportLocked does:
// includeCurrentPartialBucket forces the current bucket to flush as a
// partial span at dumpTimeNs (onDumpReportLocked's "if (include_current
// ...)" branch) rather than only flushing it if dumpTimeNs has already
// crossed the bucket's nominal end (the "else flushIfNeeded(now)" branch);
// eraseData drains the accumulated past/skipped buckets and clears the
// guardrail-hit latch instead of merely peeking at them.
func (p *Producer) DumpAndReset(dumpTimeNs int64, includeCurrentPartialBucket, eraseData bool) Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	if includeCurrentPartialBucket {
		p.bkt.FlushCurrent(dumpTimeNs, dumpTimeNs)
	} else {
		p.bkt.FlushIfNeeded(dumpTimeNs)
	}

	var buckets map[string][]bucket.Bucket[[]GaugeAtom]
	var skipped []bucket.SkippedBucket
	if eraseData {
		buckets = p.bkt.TakePastBuckets()
		skipped = p.bkt.TakeSkippedBuckets()
	} else {
		buckets = p.bkt.PastBuckets()
		skipped = p.bkt.SkippedBuckets()
	}

	r := Report{
		MetricID:              p.cfg.MetricID,
		BucketSizeNs:          p.cfg.BucketSizeNs,
		TimeBaseNs:            p.cfg.StartTimeNs,
		IsActive:              p.isActive,
		DimensionGuardrailHit: p.guard.HasHit(),
		Buckets:               buckets,
		Skipped:               skipped,
	}
	if eraseData {
		p.guard.Reset()
	}
	return r
}
