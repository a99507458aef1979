// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package procpull is one illustrative pull.Source: it turns
// /proc/loadavg's three load averages into one two-field atom each (window
// tag and scaled average), the on-demand counterpart to a log-event-driven push atom. Grounded on
// pkg/performance/collectors/load.go's /proc/loadavg parse (shape, not
// content — this package answers gauge pull requests, not a continuous
// collector).
package procpull

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nodestat/telemetry-core/internal/atom"
)

// LoadAtomID is the tag id this source answers Pull calls for. Field 1 of
// the atom carries a tag identifying which of the three averages it is (1,
// 5, or 15 minutes); field 2 carries the load average scaled by 100 and
// truncated to an integer, since atom.Value carries no native fixed-point
// type.
const LoadAtomID int32 = 1

// Source reads /proc/loadavg on every Pull call.
type Source struct {
	loadavgPath string
}

// New builds a Source reading loadavg from procRoot (e.g. "/proc" or a
// container's bind-mounted host proc).
func New(procRoot string) *Source {
	return &Source{loadavgPath: filepath.Join(procRoot, "loadavg")}
}

func (s *Source) AtomID() int32 { return LoadAtomID }
func (s *Source) Name() string  { return "proc-loadavg" }

// Pull reads and parses /proc/loadavg, emitting one atom per average.
// atomID is ignored beyond an assertion that it matches LoadAtomID, since
// this Source is only ever registered under that id.
func (s *Source) Pull(ctx context.Context, atomID int32) ([]atom.Atom, error) {
	if atomID != LoadAtomID {
		return nil, fmt.Errorf("procpull: unexpected atom id %d", atomID)
	}

	raw, err := os.ReadFile(s.loadavgPath)
	if err != nil {
		return nil, fmt.Errorf("procpull: read %s: %w", s.loadavgPath, err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return nil, fmt.Errorf("procpull: %s has %d fields, want at least 3", s.loadavgPath, len(fields))
	}

	windows := []int32{1, 5, 15}
	atoms := make([]atom.Atom, 0, len(windows))
	for i, window := range windows {
		avg, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("procpull: parse %q: %w", fields[i], err)
		}
		windowPath, err := atom.NewFieldPath(LoadAtomID, []int{1}, []atom.Position{atom.PositionFirst})
		if err != nil {
			return nil, err
		}
		avgPath, err := atom.NewFieldPath(LoadAtomID, []int{2}, []atom.Position{atom.PositionFirst})
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, atom.Atom{
			ID: LoadAtomID,
			Values: []atom.FieldValue{
				{Path: windowPath, Value: atom.Int32Value(window)},
				{Path: avgPath, Value: atom.Int64Value(int64(avg * 100))},
			},
		})
	}
	return atoms, nil
}
