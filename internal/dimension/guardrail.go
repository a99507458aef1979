// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dimension

import "github.com/go-logr/logr"

// Notifier receives the statistics a Guardrail reports as dimension counts
// cross its limits. internal/statsink implements this.
type Notifier interface {
	NoteMetricDimensionSize(metricID int64, newCount int)
	NoteHardDimensionLimitReached(metricID int64)
}

// noopNotifier discards every call; used when a Guardrail is built without a
// Notifier so callers never need a nil check.
type noopNotifier struct{}

func (noopNotifier) NoteMetricDimensionSize(int64, int)    {}
func (noopNotifier) NoteHardDimensionLimitReached(int64)   {}

// Guardrail bounds how many distinct dimension keys one metric may track in
// a single bucket, grounded line-for-line on
// MetricProducer::hitGuardRailLocked: once the key count including a new key
// exceeds the soft limit that count is reported, and once it would exceed
// the hard limit the new key is refused outright (existing keys already
// being tracked are always allowed through, since dropping them mid-bucket
// would corrupt the running aggregate). A HardLimit of zero or less sets no
// hard limit.
type Guardrail struct {
	MetricID  int64
	SoftLimit int
	HardLimit int

	notifier Notifier
	log      logr.Logger
	// loggedOnce is the idempotent "log the hard-limit hit once" latch; it
	// is never reset, to avoid log spam for the life of the producer.
	loggedOnce bool
	// dumpFlagHit is the persistent dimension_guardrail_hit report flag;
	// Reset clears it after a dump erases its data.
	dumpFlagHit bool
}

// NewGuardrail builds a Guardrail for one metric. A zero Notifier or Logger
// is replaced with a no-op so callers can omit either.
func NewGuardrail(metricID int64, softLimit, hardLimit int, notifier Notifier, log logr.Logger) *Guardrail {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Guardrail{
		MetricID:  metricID,
		SoftLimit: softLimit,
		HardLimit: hardLimit,
		notifier:  notifier,
		log:       log,
	}
}

// HasHit reports the persistent dimension_guardrail_hit report flag: whether
// this guardrail has rejected a key since the last Reset.
func (g *Guardrail) HasHit() bool { return g.dumpFlagHit }

// Reset clears the persistent dump flag, called after a report dump erases
// its data. The idempotent log-once latch is untouched.
func (g *Guardrail) Reset() { g.dumpFlagHit = false }

// Hit reports whether adding a new dimension key should be refused, given
// the current tracked-key count (before adding) and whether the key is
// already tracked. Keys already present never hit the guardrail — only new
// keys can push the tracked set past a limit.
func (g *Guardrail) Hit(alreadyTracked bool, currentSize int) bool {
	if alreadyTracked {
		return false
	}
	newCount := currentSize + 1
	if newCount > g.SoftLimit {
		g.notifier.NoteMetricDimensionSize(g.MetricID, newCount)
	}
	if g.HardLimit > 0 && newCount > g.HardLimit {
		if !g.loggedOnce {
			g.log.Error(nil, "metric hit dimension hard limit, dropping new dimensions", "metricID", g.MetricID, "hardLimit", g.HardLimit)
			g.loggedOnce = true
		}
		g.dumpFlagHit = true
		g.notifier.NoteHardDimensionLimitReached(g.MetricID)
		return true
	}
	return false
}
