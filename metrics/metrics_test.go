// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	provider := Start()
	require.NotNil(t, provider)
	assert.Same(t, provider, Start())

	before, err := Snapshot(ctx)
	require.NoError(t, err)

	AddSlice([]Metric{
		{IDRecordsDecoded, 10},
		{IDArtifactsWritten, 1},
		{IDBufferCapacity, 4096},
	})
	Add(IDRecordsDecoded, 5)
	Add(IDArtifactsFailed, 0)  // zero counters are dropped
	Add(IDBufferCapacity, 200) // gauges keep the last value
	Add(IDInvalid, 1)          // out of range
	Add(IDMax, 1)              // out of range

	after, err := Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before[IDRecordsDecoded]+15, after[IDRecordsDecoded])
	assert.Equal(t, before[IDArtifactsWritten]+1, after[IDArtifactsWritten])
	assert.Equal(t, before[IDArtifactsFailed], after[IDArtifactsFailed])
	assert.Equal(t, MetricValue(200), after[IDBufferCapacity])
}

func TestGetDefinitions(t *testing.T) {
	defs, err := GetDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, IDMax-1)

	seen := make(map[MetricID]bool)
	for _, d := range defs {
		assert.False(t, seen[d.ID], "duplicate id %d", d.ID)
		seen[d.ID] = true
		assert.NotEmpty(t, d.Field)
		assert.NotEmpty(t, d.Unit)
	}
	assert.Equal(t, MetricTypeGauge, metricTypes[IDBufferCapacity])
}
