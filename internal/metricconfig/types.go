// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package metricconfig loads the YAML documents that describe gauge metrics
// and turns each into a gauge.Config, the declarative surface spec.md §1
// leaves to "whatever configuration mechanism a real deployment uses".
// Grounded on internal/config/fs.go's FSLoader: same fsnotify watch +
// initial directory scan shape, generalized from "one typed proto Instance
// per file" to "one metrics document per file, each holding many metric
// definitions".
package metricconfig

import (
	"fmt"

	"github.com/nodestat/telemetry-core/internal/atom"
	"github.com/nodestat/telemetry-core/internal/fieldmatch"
	"github.com/nodestat/telemetry-core/internal/gauge"
)

// Document is the top-level shape of one YAML config file.
type Document struct {
	Metrics []MetricDef `yaml:"metrics"`
}

// MetricDef is one gauge metric's declarative configuration.
type MetricDef struct {
	ID                    int64       `yaml:"id"`
	BucketSizeMs          int64       `yaml:"bucket_size_ms"`
	MinBucketSizeMs       int64       `yaml:"min_bucket_size_ms"`
	TimestampTruncationMs int64       `yaml:"timestamp_truncation_ms"`
	Sampling              SamplingDef `yaml:"sampling"`
	Pull                  *PullDef    `yaml:"pull"`
	TriggerAtomID         *int32      `yaml:"trigger_atom_id"`
	DimensionLimits       LimitsDef   `yaml:"dimension_limits"`
	What                  []NodeDef   `yaml:"what"`
	GaugeFields           []NodeDef   `yaml:"gauge_fields"`
}

// SamplingDef configures a metric's SamplingMode and its parameters.
type SamplingDef struct {
	Mode                 string `yaml:"mode"`
	Percentage           int    `yaml:"percentage"`
	MaxAtomsPerDimension int    `yaml:"max_atoms_per_dimension"`
}

// PullDef marks a metric pull-mode and configures its pull parameters.
type PullDef struct {
	AtomID     int32 `yaml:"atom_id"`
	MaxDelayMs int64 `yaml:"max_delay_ms"`
}

// LimitsDef configures a metric's dimension guardrail thresholds.
type LimitsDef struct {
	Soft int `yaml:"soft"`
	Hard int `yaml:"hard"`
}

// NodeDef is the YAML mirror of fieldmatch.Node: a field selector tree.
type NodeDef struct {
	AtomID   int32     `yaml:"atom_id"`
	Field    int       `yaml:"field"`
	Position string    `yaml:"position"`
	Children []NodeDef `yaml:"children"`
}

func parsePosition(s string) (atom.Position, error) {
	switch s {
	case "", "first":
		return atom.PositionFirst, nil
	case "last":
		return atom.PositionLast, nil
	case "all":
		return atom.PositionAll, nil
	case "any":
		return atom.PositionAny, nil
	default:
		return 0, fmt.Errorf("metricconfig: unknown field position %q", s)
	}
}

func (n NodeDef) toNode() (fieldmatch.Node, error) {
	pos, err := parsePosition(n.Position)
	if err != nil {
		return fieldmatch.Node{}, err
	}
	children := make([]fieldmatch.Node, 0, len(n.Children))
	for _, c := range n.Children {
		child, err := c.toNode()
		if err != nil {
			return fieldmatch.Node{}, err
		}
		children = append(children, child)
	}
	return fieldmatch.Node{AtomID: n.AtomID, Field: n.Field, Position: pos, Children: children}, nil
}

func parseSamplingMode(s string) (gauge.SamplingMode, error) {
	switch s {
	case "", "random_one_sample":
		return gauge.RandomOneSample, nil
	case "first_n_samples":
		return gauge.FirstNSamples, nil
	case "condition_change_to_true":
		return gauge.ConditionChangeToTrue, nil
	default:
		return 0, fmt.Errorf("metricconfig: unknown sampling mode %q", s)
	}
}

// atomIDsForConfig derives the full set of atom ids an engine registration
// should dispatch to this producer: every atom id appearing in WhatMatchers,
// plus the pull and trigger atom ids when configured.
func atomIDsForConfig(cfg gauge.Config) []int32 {
	seen := make(map[int32]bool)
	for _, m := range cfg.WhatMatchers {
		seen[m.Path.AtomID()] = true
	}
	if cfg.PullAtomID >= 0 {
		seen[cfg.PullAtomID] = true
	}
	if cfg.TriggerAtomID >= 0 {
		seen[cfg.TriggerAtomID] = true
	}
	ids := make([]int32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
