// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package pull implements the tag-id-keyed puller registry every pull or
// pull-with-trigger gauge.Producer draws from, grounded on the
// PointCollector registration shape pkg/performance/collector.go establishes
// (one named collaborator per metric surface, registered once, invoked by
// id) and on StatsPullerManager's single-puller-per-atom-id contract.
package pull

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/gauge"
)

// Source is a named gauge.Puller, the unit of registration.
type Source interface {
	gauge.Puller
	// AtomID is the tag id this source answers Pull calls for.
	AtomID() int32
	// Name identifies the source for logging and diagnostics.
	Name() string
}

// Manager is the reference Puller implementation: a registry of one Source
// per atom id. It does not retry: a failed Pull call returns its error
// immediately (retrying a single pull would violate the max-pull-delay
// invariant gauge.Producer enforces). Exponential-backoff retry is offered
// separately by ConnectWithRetry, for the upstream connection a Source
// needs; the Manager does not call it.
type Manager struct {
	mu      sync.RWMutex
	sources map[int32]Source
	log     logr.Logger
}

// NewManager builds an empty Manager.
func NewManager(log logr.Logger) *Manager {
	return &Manager{sources: make(map[int32]Source), log: log.WithName("pull-manager")}
}

// Register adds a Source, keyed by its AtomID. Registering a second Source
// for the same atom id replaces the first.
func (m *Manager) Register(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.AtomID()] = s
	m.log.Info("registered puller", "atomID", s.AtomID(), "source", s.Name())
}

// Unregister removes the Source registered for atomID, if any.
func (m *Manager) Unregister(atomID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, atomID)
}

// Pull implements gauge.Puller by dispatching to the registered Source for
// atomID. It returns an error immediately if no Source is registered, or if
// the Source's Pull call fails — callers (gauge.Producer) are responsible
// for treating that as a dropped, not retried, pull.
func (m *Manager) Pull(ctx context.Context, atomID int32) ([]atom.Atom, error) {
	m.mu.RLock()
	s, ok := m.sources[atomID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pull: no source registered for atom %d", atomID)
	}
	return s.Pull(ctx, atomID)
}

// ConnectWithRetry establishes a Source's upstream connection with
// exponential backoff, for sources whose Pull implementation depends on a
// live connection (e.g. a gRPC-backed remote puller) rather than a local
// syscall. Grounded on internal/config/ams.go's runStream reconnect loop.
func ConnectWithRetry(ctx context.Context, log logr.Logger, connect func(ctx context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (bool, error) {
		if err := connect(ctx); err != nil {
			log.Error(err, "puller connection attempt failed, retrying")
			return false, err
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}
