// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package activation implements the per-metric activation state machine: a
// metric with no activations configured is always active; one with
// activations configured is active while any of them is, a disjunction of
// independent TTL windows that start either immediately on trigger or
// deferred until boot completes.
package activation

// State is one activation's current lifecycle position, mirroring
// MetricProducer.h's ActivationState enum.
type State uint8

const (
	// NotActive is the initial state: the activation's trigger atom hasn't
	// been seen yet.
	NotActive State = iota
	// Active means the TTL window is running from StartNs.
	Active
	// ActiveOnBoot means the trigger atom was seen but the activation is
	// boot-deferred and boot hasn't completed yet; the TTL window has not
	// started.
	ActiveOnBoot
)

// Kind distinguishes an activation whose TTL window starts the instant its
// trigger atom arrives from one that waits for the device to finish booting.
type Kind uint8

const (
	KindImmediate Kind = iota
	KindBootDeferred
)

// Activation is one trigger-atom-gated TTL window.
type Activation struct {
	AtomID int32
	Kind   Kind
	// TTLNs is the window length in nanoseconds; zero or negative means the
	// activation never expires once started.
	TTLNs int64

	state   State
	startNs int64
}

// NewActivation builds an Activation in its initial NotActive state.
func NewActivation(atomID int32, kind Kind, ttlNs int64) *Activation {
	return &Activation{AtomID: atomID, Kind: kind, TTLNs: ttlNs, state: NotActive}
}

// State returns the activation's current lifecycle position.
func (a *Activation) State() State { return a.state }

// IsActive reports whether the activation's TTL window covers nowNs.
func (a *Activation) IsActive(nowNs int64) bool {
	if a.state != Active {
		return false
	}
	if a.TTLNs <= 0 {
		return true
	}
	return nowNs-a.startNs < a.TTLNs
}

// Machine is the disjunction of a metric's configured activations. A Machine
// with zero activations reports always active, matching a metric with no
// activation config at all.
type Machine struct {
	activations   map[int32]*Activation
	bootCompleted bool
	bootNs        int64
}

// NewMachine builds a Machine for the given activation set, keyed by the
// trigger atom id each activation responds to.
func NewMachine(activations []*Activation) *Machine {
	m := &Machine{activations: make(map[int32]*Activation, len(activations))}
	for _, a := range activations {
		m.activations[a.AtomID] = a
	}
	return m
}

// Trigger records that the given trigger atom id fired at nowNs. An
// immediate-kind activation starts its TTL window right away; a
// boot-deferred one starts immediately if boot has already completed,
// otherwise arms itself (ActiveOnBoot) to start when OnBootComplete runs.
// Reports false if no activation is registered for atomID.
func (m *Machine) Trigger(atomID int32, nowNs int64) bool {
	a, ok := m.activations[atomID]
	if !ok {
		return false
	}
	switch a.Kind {
	case KindImmediate:
		a.state = Active
		a.startNs = nowNs
	case KindBootDeferred:
		if m.bootCompleted {
			a.state = Active
			a.startNs = nowNs
		} else {
			a.state = ActiveOnBoot
		}
	}
	return true
}

// OnBootComplete starts the TTL window for every armed (ActiveOnBoot)
// activation and records boot as complete so future boot-deferred triggers
// start immediately.
func (m *Machine) OnBootComplete(nowNs int64) {
	m.bootCompleted = true
	m.bootNs = nowNs
	for _, a := range m.activations {
		if a.state == ActiveOnBoot {
			a.state = Active
			a.startNs = nowNs
		}
	}
}

// IsActive reports whether the metric should currently accumulate data: true
// if no activations are configured, or if any configured activation's TTL
// window covers nowNs.
func (m *Machine) IsActive(nowNs int64) bool {
	if len(m.activations) == 0 {
		return true
	}
	for _, a := range m.activations {
		if a.IsActive(nowNs) {
			return true
		}
	}
	return false
}

// Activations exposes the configured activations for inspection (metrics,
// diagnostics); callers must not mutate the returned map.
func (m *Machine) Activations() map[int32]*Activation { return m.activations }
