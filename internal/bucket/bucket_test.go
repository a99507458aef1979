// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build unit

package bucket_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/bucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	dropped int
	counted int
}

func (r *recordingNotifier) NoteBucketDropped(int64) { r.dropped++ }
func (r *recordingNotifier) NoteBucketCount(int64)   { r.counted++ }

func TestFlushIfNeededNoop(t *testing.T) {
	e := bucket.NewEngine[[]int](1, 1000, 0, 0, nil, logr.Discard())
	e.Update("k", func(cur []int) []int { return append(cur, 1) })
	e.FlushIfNeeded(500)
	assert.Equal(t, int64(0), e.CurrentBucketStartNs(), "still inside the first bucket")
	assert.Empty(t, e.TakePastBuckets())
}

func TestFlushIfNeededClosesFullBucket(t *testing.T) {
	n := &recordingNotifier{}
	e := bucket.NewEngine[[]int](1, 1000, 0, 0, n, logr.Discard())
	e.Update("k", func(cur []int) []int { return append(cur, 42) })
	e.FlushIfNeeded(1000)

	past := e.TakePastBuckets()
	require.Contains(t, past, "k")
	require.Len(t, past["k"], 1)
	assert.Equal(t, int64(0), past["k"][0].StartNs)
	assert.Equal(t, int64(1000), past["k"][0].EndNs)
	assert.Equal(t, []int{42}, past["k"][0].Data)
	assert.Equal(t, int64(1000), e.CurrentBucketStartNs())
	assert.Equal(t, int64(1), e.CurrentBucketNum())
	assert.Equal(t, 1, n.counted)
}

func TestFlushDropsBelowMinBucketSize(t *testing.T) {
	n := &recordingNotifier{}
	e := bucket.NewEngine[[]int](1, 1000, 500, 0, n, logr.Discard())
	e.Update("k", func(cur []int) []int { return append(cur, 1) })
	// Force an early flush (e.g. a config reload) well inside the bucket.
	e.FlushCurrent(200, 200)

	assert.Empty(t, e.TakePastBuckets())
	assert.Equal(t, 1, n.dropped)
}

// TestForcedFlushStartsNextBucketAtFlushTime pins the forced/partial-flush
// contract a direct FlushCurrent call must honor: the next current bucket
// starts at the flush time itself (unaligned), not at the next full-grid
// boundary — otherwise a legitimate event arriving shortly after the forced
// flush but still before the next grid line would be wrongly treated as
// belonging to a bucket that hasn't started yet.
func TestForcedFlushStartsNextBucketAtFlushTime(t *testing.T) {
	e := bucket.NewEngine[[]int](1, 1000, 0, 0, nil, logr.Discard())
	e.Update("k", func(cur []int) []int { return append(cur, 1) })
	e.FlushCurrent(500, 500)

	assert.Equal(t, int64(500), e.CurrentBucketStartNs())
	assert.Equal(t, int64(1), e.CurrentBucketNum())

	past := e.TakePastBuckets()
	require.Contains(t, past, "k")
	assert.Equal(t, int64(0), past["k"][0].StartNs)
	assert.Equal(t, int64(500), past["k"][0].EndNs)
}

func TestFlushRecordsSkippedBuckets(t *testing.T) {
	e := bucket.NewEngine[[]int](1, 1000, 0, 0, nil, logr.Discard())
	e.Update("k", func(cur []int) []int { return append(cur, 1) })
	// Event arrives 3 bucket-widths later: bucket 0 closes, buckets 1-2 are
	// skipped entirely, bucket 3 becomes current.
	e.FlushIfNeeded(3500)

	skipped := e.TakeSkippedBuckets()
	require.Len(t, skipped, 1)
	assert.Equal(t, int64(1000), skipped[0].StartNs)
	assert.Equal(t, int64(3000), skipped[0].EndNs)
	assert.Equal(t, int64(3000), e.CurrentBucketStartNs())
}

func TestIsPartial(t *testing.T) {
	full := bucket.Bucket[int]{StartNs: 0, EndNs: 1000}
	partial := bucket.Bucket[int]{StartNs: 0, EndNs: 700}
	assert.False(t, full.IsPartial(1000))
	assert.True(t, partial.IsPartial(1000))
}

func TestBucketNumFromEndTimeNs(t *testing.T) {
	assert.Equal(t, int64(0), bucket.BucketNumFromEndTimeNs(1000, 1000))
	assert.Equal(t, int64(2), bucket.BucketNumFromEndTimeNs(3000, 1000))
}

func TestSizeAndContains(t *testing.T) {
	e := bucket.NewEngine[[]int](1, 1000, 0, 0, nil, logr.Discard())
	assert.Equal(t, 0, e.Size())
	e.Update("a", func(cur []int) []int { return append(cur, 1) })
	assert.Equal(t, 1, e.Size())
	assert.True(t, e.Contains("a"))
	assert.False(t, e.Contains("b"))
}
