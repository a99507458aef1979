// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bucket implements the fixed-size wall-clock bucket engine every
// metric producer flushes its sliced, per-dimension data through. It is
// generic over the per-dimension payload type so a push metric (counts), a
// gauge metric (sampled atoms), and a value metric (running sums) can all
// reuse the same flush/skip/forward-advance machinery.
package bucket

import "github.com/go-logr/logr"

// Bucket is one completed (or flushed-early) bucket's data for a single
// dimension key.
type Bucket[T any] struct {
	StartNs int64
	EndNs   int64
	Data    T
}

// IsPartial reports whether the bucket's span is shorter than a full
// configured bucket — the exact predicate the report serializer uses to
// decide between emitting a bucket_num field or explicit start/end millis
// fields (spec.md 9's open question: preserved verbatim rather than
// "fixed", since the original also ties bucket_num derivation to end time
// being a clean multiple of the bucket size).
func (b Bucket[T]) IsPartial(bucketSizeNs int64) bool {
	return b.EndNs-b.StartNs != bucketSizeNs
}

// SkippedBucket records a bucket span that was skipped entirely — no atoms
// arrived to flush into it — rather than producing an empty Bucket entry.
type SkippedBucket struct {
	StartNs int64
	EndNs   int64
}

// Notifier receives the statistics FlushCurrent reports.
type Notifier interface {
	NoteBucketDropped(metricID int64)
	NoteBucketCount(metricID int64)
}

type noopNotifier struct{}

func (noopNotifier) NoteBucketDropped(int64) {}
func (noopNotifier) NoteBucketCount(int64)   {}

// BucketNumFromEndTimeNs converts a bucket's end time, measured from the
// metric's time base, into a 0-based bucket index. This only means anything
// for a full (non-partial) bucket; the report serializer only calls it when
// IsPartial is false, passing the bucket's end minus the report's time base.
func BucketNumFromEndTimeNs(endNs, bucketSizeNs int64) int64 {
	return endNs/bucketSizeNs - 1
}

// Engine owns one metric's current accumulating bucket plus its flushed
// history, keyed by the dimension.Key.String() of each slice. Grounded
// line-for-line on GaugeMetricProducer::flushIfNeededLocked /
// flushCurrentBucketLocked: a bucket below MinBucketSizeNs is dropped
// entirely (reported, never retained), the current slice map is always
// replaced on flush, and a gap of more than one bucket width records
// SkippedBucket entries for the buckets nothing arrived to close.
type Engine[T any] struct {
	MetricID        int64
	BucketSizeNs    int64
	MinBucketSizeNs int64

	currentStartNs int64
	currentNum     int64
	current        map[string]T

	past    map[string][]Bucket[T]
	skipped []SkippedBucket

	notifier Notifier
	log      logr.Logger
}

// NewEngine builds an Engine whose first bucket starts at startNs.
func NewEngine[T any](metricID, bucketSizeNs, minBucketSizeNs, startNs int64, notifier Notifier, log logr.Logger) *Engine[T] {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine[T]{
		MetricID:        metricID,
		BucketSizeNs:    bucketSizeNs,
		MinBucketSizeNs: minBucketSizeNs,
		currentStartNs:  startNs,
		current:         make(map[string]T),
		past:            make(map[string][]Bucket[T]),
		notifier:        notifier,
		log:             log,
	}
}

// CurrentBucketStartNs returns the current (not yet flushed) bucket's start.
func (e *Engine[T]) CurrentBucketStartNs() int64 { return e.currentStartNs }

// CurrentBucketEndNs returns the current bucket's nominal end, i.e. the
// point at which FlushIfNeeded will trigger a flush.
func (e *Engine[T]) CurrentBucketEndNs() int64 { return e.currentStartNs + e.BucketSizeNs }

// CurrentBucketNum returns the 0-based index of the current bucket.
func (e *Engine[T]) CurrentBucketNum() int64 { return e.currentNum }

// Update applies fn to the current bucket's slice for key, creating a zero
// value if the key isn't present yet. This is how callers append data (e.g.
// a gauge producer appending a GaugeAtom) into the currently-open bucket.
func (e *Engine[T]) Update(key string, fn func(cur T) T) {
	e.current[key] = fn(e.current[key])
}

// Keys returns the dimension keys with data in the currently-open bucket.
func (e *Engine[T]) Keys() []string {
	out := make([]string, 0, len(e.current))
	for k := range e.current {
		out = append(out, k)
	}
	return out
}

// Size reports how many distinct dimension keys the currently-open bucket
// holds data for — the count a dimension.Guardrail is evaluated against.
func (e *Engine[T]) Size() int { return len(e.current) }

// Contains reports whether key already has data in the currently-open
// bucket.
func (e *Engine[T]) Contains(key string) bool {
	_, ok := e.current[key]
	return ok
}

// FlushIfNeeded closes and advances the current bucket if eventTimeNs has
// crossed its end, advancing to the next full-grid boundary eventTimeNs
// falls into.
func (e *Engine[T]) FlushIfNeeded(eventTimeNs int64) {
	if eventTimeNs < e.CurrentBucketEndNs() {
		return
	}
	forward := calcBucketsForward(eventTimeNs, e.currentStartNs, e.BucketSizeNs)
	e.FlushCurrent(eventTimeNs, e.currentStartNs+forward*e.BucketSizeNs)
}

// FlushCurrent closes the current bucket, ending it at min(eventTimeNs,
// nominal end) so a flush forced by config changes or process exit reports a
// truthful partial span rather than over-running into the future. The new
// current bucket then starts at nextStartNs: FlushIfNeeded passes the next
// full-grid boundary, while a forced/partial flush (dump, deactivation,
// config reload) passes eventTimeNs itself, so the new bucket starts
// unaligned at the flush time rather than jumping ahead to the next grid
// line — matching flushCurrentBucketLocked(eventTimeNs, eventTimeNs) in the
// original, which is called from exactly those forced paths. A
// SkippedBucket is recorded for any whole bucket widths jumped over
// entirely.
func (e *Engine[T]) FlushCurrent(eventTimeNs, nextStartNs int64) {
	fullEnd := e.CurrentBucketEndNs()
	bucketEnd := eventTimeNs
	if fullEnd < bucketEnd {
		bucketEnd = fullEnd
	}

	if bucketEnd-e.currentStartNs < e.MinBucketSizeNs {
		e.notifier.NoteBucketDropped(e.MetricID)
	} else {
		for key, data := range e.current {
			e.past[key] = append(e.past[key], Bucket[T]{StartNs: e.currentStartNs, EndNs: bucketEnd, Data: data})
		}
	}
	e.notifier.NoteBucketCount(e.MetricID)
	e.current = make(map[string]T)

	gap := nextStartNs - e.currentStartNs
	forward := gap / e.BucketSizeNs
	if forward < 1 {
		forward = 1
	}
	if forward > 1 {
		e.skipped = append(e.skipped, SkippedBucket{
			StartNs: e.currentStartNs + e.BucketSizeNs,
			EndNs:   e.currentStartNs + forward*e.BucketSizeNs,
		})
	}
	e.currentNum += forward
	e.currentStartNs = nextStartNs
}

// calcBucketsForward returns how many whole bucket widths to advance past
// currentStartNs so the new current bucket covers eventTimeNs, always at
// least 1 (a flush always advances, even if eventTimeNs is still within
// what was the current bucket's span — e.g. a forced end-of-config flush).
func calcBucketsForward(eventTimeNs, currentStartNs, bucketSizeNs int64) int64 {
	elapsed := eventTimeNs - currentStartNs
	if elapsed <= bucketSizeNs {
		return 1
	}
	return elapsed / bucketSizeNs
}

// TakePastBuckets drains and returns every completed bucket accumulated
// since the last call, keyed by dimension key string.
func (e *Engine[T]) TakePastBuckets() map[string][]Bucket[T] {
	out := e.past
	e.past = make(map[string][]Bucket[T])
	return out
}

// TakeSkippedBuckets drains and returns every skipped-bucket span recorded
// since the last call.
func (e *Engine[T]) TakeSkippedBuckets() []SkippedBucket {
	out := e.skipped
	e.skipped = nil
	return out
}

// PastBuckets returns every completed bucket accumulated since the last
// Take, without draining it — the erase_data=false dump path's view.
func (e *Engine[T]) PastBuckets() map[string][]Bucket[T] {
	out := make(map[string][]Bucket[T], len(e.past))
	for k, v := range e.past {
		out[k] = v
	}
	return out
}

// SkippedBuckets returns every skipped-bucket span recorded since the last
// Take, without draining it — the erase_data=false dump path's view.
func (e *Engine[T]) SkippedBuckets() []SkippedBucket {
	out := make([]SkippedBucket, len(e.skipped))
	copy(out, e.skipped)
	return out
}
