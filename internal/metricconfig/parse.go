// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metricconfig

import (
	"time"

	"github.com/nodestat/telemetry-core/internal/fieldmatch"
	"github.com/nodestat/telemetry-core/internal/gauge"
	"gopkg.in/yaml.v3"
)

// ParseDocument parses a YAML metrics document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// BuildConfig validates and converts one MetricDef into a gauge.Config,
// returning a *ConfigError (spec.md §7's InvalidConfigReason) on any
// rejection. startTimeNs seeds the producer's first bucket boundary.
func BuildConfig(m MetricDef, startTimeNs int64) (gauge.Config, error) {
	if len(m.What) == 0 {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonMissingWhat}
	}
	if len(m.GaugeFields) == 0 {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonMissingGaugeFields}
	}
	if m.BucketSizeMs <= 0 || m.MinBucketSizeMs > m.BucketSizeMs {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonBadBucketSize}
	}
	if m.DimensionLimits.Soft > m.DimensionLimits.Hard && m.DimensionLimits.Hard > 0 {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonBadDimensionLimits}
	}

	mode, err := parseSamplingMode(m.Sampling.Mode)
	if err != nil {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonBadSamplingMode, Err: err}
	}

	whatMatchers, err := compileAll(m.What)
	if err != nil {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonBadFieldSelector, Err: err}
	}
	gaugeMatchers, err := compileAll(m.GaugeFields)
	if err != nil {
		return gauge.Config{}, &ConfigError{MetricID: m.ID, Reason: ReasonBadFieldSelector, Err: err}
	}

	cfg := gauge.Config{
		MetricID:              m.ID,
		SamplingMode:          mode,
		SamplingPercentage:    m.Sampling.Percentage,
		MaxAtomsPerDimension:  m.Sampling.MaxAtomsPerDimension,
		TimestampTruncationNs: m.TimestampTruncationMs * int64(time.Millisecond),
		PullAtomID:            -1,
		TriggerAtomID:         -1,
		MaxPullDelayNs:        0,
		WhatMatchers:          whatMatchers,
		GaugeFieldMatchers:    gaugeMatchers,
		BucketSizeNs:          m.BucketSizeMs * int64(time.Millisecond),
		MinBucketSizeNs:       m.MinBucketSizeMs * int64(time.Millisecond),
		StartTimeNs:           startTimeNs,
		DimensionSoftLimit:    m.DimensionLimits.Soft,
		DimensionHardLimit:    m.DimensionLimits.Hard,
	}
	if m.Pull != nil {
		cfg.PullAtomID = m.Pull.AtomID
		cfg.MaxPullDelayNs = m.Pull.MaxDelayMs * int64(time.Millisecond)
	}
	if m.TriggerAtomID != nil {
		cfg.TriggerAtomID = *m.TriggerAtomID
	}
	return cfg, nil
}

// AtomIDs returns the full set of atom ids engine.Engine should dispatch to
// a producer built from cfg.
func AtomIDs(cfg gauge.Config) []int32 { return atomIDsForConfig(cfg) }

func compileAll(defs []NodeDef) ([]fieldmatch.Matcher, error) {
	var matchers []fieldmatch.Matcher
	for _, d := range defs {
		node, err := d.toNode()
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, fieldmatch.Compile(node)...)
	}
	return matchers, nil
}
