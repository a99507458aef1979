// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build unit

package activation_test

import (
	"testing"

	"github.com/nodestat/telemetry-core/internal/activation"
	"github.com/stretchr/testify/assert"
)

func TestNoActivationsAlwaysActive(t *testing.T) {
	m := activation.NewMachine(nil)
	assert.True(t, m.IsActive(0))
	assert.True(t, m.IsActive(1_000_000_000))
}

func TestImmediateActivationWindow(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(1, activation.KindImmediate, 100),
	})
	assert.False(t, m.IsActive(0), "not triggered yet")
	assert.True(t, m.Trigger(1, 50))
	assert.True(t, m.IsActive(50))
	assert.True(t, m.IsActive(149))
	assert.False(t, m.IsActive(150), "ttl window closed")
}

func TestUnknownTriggerAtomIgnored(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(1, activation.KindImmediate, 100),
	})
	assert.False(t, m.Trigger(999, 0))
}

func TestZeroTTLNeverExpires(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(1, activation.KindImmediate, 0),
	})
	m.Trigger(1, 0)
	assert.True(t, m.IsActive(1_000_000_000_000))
}

func TestBootDeferredWaitsForBoot(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(2, activation.KindBootDeferred, 100),
	})
	m.Trigger(2, 10)
	assert.False(t, m.IsActive(10), "armed but boot hasn't completed")
	m.OnBootComplete(20)
	assert.True(t, m.IsActive(20))
	assert.True(t, m.IsActive(119))
	assert.False(t, m.IsActive(120))
}

func TestBootDeferredTriggeredAfterBootStartsImmediately(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(2, activation.KindBootDeferred, 100),
	})
	m.OnBootComplete(5)
	m.Trigger(2, 30)
	assert.True(t, m.IsActive(30))
	assert.False(t, m.IsActive(200))
}

func TestDisjunctionOfMultipleActivations(t *testing.T) {
	m := activation.NewMachine([]*activation.Activation{
		activation.NewActivation(1, activation.KindImmediate, 10),
		activation.NewActivation(2, activation.KindImmediate, 10),
	})
	m.Trigger(1, 0)
	assert.True(t, m.IsActive(5))
	assert.False(t, m.IsActive(50), "both windows closed")
	m.Trigger(2, 40)
	assert.True(t, m.IsActive(45), "second activation keeps the metric alive")
}
