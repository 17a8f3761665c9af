// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/gpu-memtrace/metrics"

import (
	"encoding/json"
	"fmt"
)

// Create ids.go from metrics.json
//go:generate go run genids/main.go metrics.json ids.go

// MetricID is the type for metric IDs.
type MetricID uint16

// MetricValue is the type for metric values.
type MetricValue int64

// Metric is the type for a metric id/value pair.
type Metric struct {
	ID    MetricID
	Value MetricValue
}

// Summary maps metric ids to their current values.
type Summary map[MetricID]MetricValue

// MetricType is the kind of an OTel instrument a metric is reported with.
type MetricType uint8

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
)

func (t *MetricType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "counter":
		*t = MetricTypeCounter
	case "gauge":
		*t = MetricTypeGauge
	default:
		return fmt.Errorf("unknown metric type '%s'", s)
	}
	return nil
}

// MetricDefinition is one entry of metrics.json.
type MetricDefinition struct {
	ID          MetricID   `json:"id"`
	Name        string     `json:"name"`
	Field       string     `json:"field"`
	Description string     `json:"description"`
	Type        MetricType `json:"type"`
	Unit        string     `json:"unit"`
	Obsolete    bool       `json:"obsolete"`
}
