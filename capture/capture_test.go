// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/gpu-memtrace/internal/testkernel"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

func TestKernelDispatches(t *testing.T) {
	ck, err := NewKernel(testkernel.Scenario(), 200)
	require.NoError(t, err)
	defer ck.Close()

	require.True(t, ck.Enabled())
	assert.Equal(t, uint32(112), ck.Buffer().MaxRecordSize())
	assert.Equal(t, "scenario", ck.Name())
	assert.Equal(t, testkernel.Scenario().ExtendedName(), ck.Identity())

	// First dispatch: one record fits, the second is rejected.
	assert.Equal(t, uint32(0), ck.OnRun())
	r := ck.Buffer().Reserve(112)
	h := record.Header{RegionID: 0, StateReg: 7}
	require.True(t, r.Store(h.Bytes()))
	ck.Buffer().Reserve(112)
	first, err := ck.OnComplete(kernel.ExecDescriptor{NumThreads: 2})
	require.NoError(t, err)

	// Second dispatch writes nothing, its only record is larger than any region's.
	assert.Equal(t, uint32(1), ck.OnRun())
	ck.Buffer().Reserve(113)
	second, err := ck.OnComplete(kernel.ExecDescriptor{NumThreads: 1, Ordinal: 1})
	require.NoError(t, err)

	assert.True(t, first.Truncated())
	assert.Equal(t, 112, first.Size())
	assert.False(t, first.IsEmpty())
	assert.Equal(t, uint32(2), first.Descriptor().NumThreads)

	assert.Zero(t, first.Oversized())

	assert.False(t, second.Truncated())
	assert.True(t, second.IsEmpty())
	assert.Equal(t, uint64(1), second.Oversized())

	assert.Equal(t, []*Instance{first, second}, ck.Collection().Instances())

	// The first instance owns its bytes, resetting the buffer must not affect it.
	ck.OnRun()
	got, ok := record.ParseHeader(first.Bytes(), 0)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.StateReg)
}

func TestKernelWithoutTracedRegions(t *testing.T) {
	k, err := kernel.New(2, "alu", "skl", testkernel.Model(), 16, []*kernel.Region{
		{ID: 0, IsEntry: true, Instructions: []*kernel.Instruction{testkernel.ALU(1)}},
	})
	require.NoError(t, err)

	ck, err := NewKernel(k, 1024)
	require.NoError(t, err)
	assert.False(t, ck.Enabled())
	assert.Nil(t, ck.Buffer())
	_, err = ck.OnComplete(kernel.ExecDescriptor{})
	assert.Error(t, err)
	assert.NoError(t, ck.Close())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	scenario, err := NewKernel(testkernel.Scenario(), 4096)
	require.NoError(t, err)
	require.True(t, reg.Add(scenario))
	assert.False(t, reg.Add(scenario))

	k, err := kernel.New(0, "first", "skl", testkernel.Model(), 8, []*kernel.Region{
		{ID: 0, Instructions: []*kernel.Instruction{testkernel.SLMRead(1, true)}},
	})
	require.NoError(t, err)
	first, err := NewKernel(k, 4096)
	require.NoError(t, err)
	require.True(t, reg.Add(first))

	got, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, scenario, got)
	_, ok = reg.Get(42)
	assert.False(t, ok)

	assert.Equal(t, []*Kernel{first, scenario}, reg.Kernels())
	assert.NoError(t, reg.Close())
}
