// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/gpu-memtrace/internal/testkernel"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

func TestBuildRegionRecordSize(t *testing.T) {
	model := testkernel.Model()
	region := &kernel.Region{ID: 7, Instructions: []*kernel.Instruction{
		testkernel.SLMRead(1, false),
		testkernel.ALU(2),
		testkernel.SLMWrite(3, true, 1),
	}}

	info := BuildRegion(model, region)
	require.Len(t, info.Instructions, 2)
	assert.Equal(t, kernel.InsID(1), info.Instructions[0].ID)
	assert.Equal(t, kernel.InsID(3), info.Instructions[1].ID)
	// 16 byte header + (2 + 1) registers of 32 bytes
	assert.Equal(t, uint32(112), info.RecordSize)
}

func TestBuildRegionQualification(t *testing.T) {
	model := testkernel.Model()
	tests := map[string]struct {
		instructions []*kernel.Instruction
		traced       int
		recordSize   uint32
	}{
		"no instructions": {},
		"alu only": {
			instructions: []*kernel.Instruction{testkernel.ALU(1)},
		},
		"global memory only": {
			instructions: []*kernel.Instruction{testkernel.GlobalRead(1)},
		},
		"end of thread": {
			instructions: []*kernel.Instruction{testkernel.EOT(1)},
			traced:       1,
			recordSize:   16,
		},
		"slm and global": {
			instructions: []*kernel.Instruction{
				testkernel.GlobalRead(1), testkernel.SLMRead(2, true)},
			traced:     1,
			recordSize: 16 + 32,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			info := BuildRegion(model, &kernel.Region{ID: 1, Instructions: tc.instructions})
			assert.Len(t, info.Instructions, tc.traced)
			assert.Equal(t, tc.traced == 0, info.IsEmpty())
			assert.Equal(t, tc.recordSize, info.RecordSize)
		})
	}
}

func TestBuild(t *testing.T) {
	k := testkernel.Scenario()
	info := Build(k)

	assert.Equal(t, 2, info.NumRegions())
	assert.Equal(t, []kernel.RegionID{0, 2}, info.RegionIDs())
	assert.Equal(t, uint32(112), info.MaxRecordSize())
	assert.Equal(t, uint32(16), info.AlignedHeaderSize())

	_, ok := info.Region(1)
	assert.False(t, ok, "regions without traced instructions are not part of the map")

	r2, ok := info.Region(2)
	require.True(t, ok)
	assert.Equal(t, uint32(80), r2.RecordSize)

	// The record size of every region is the header plus its address payload.
	for _, id := range info.RegionIDs() {
		r, _ := info.Region(id)
		sum := uint32(0)
		for _, mi := range r.Instructions {
			sum += uint32(mi.Msg.AddrPayloadLength()) * k.Model.GRFRegSize
		}
		assert.Equal(t, record.AlignedHeaderSize(k.Model)+sum, r.RecordSize)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := Build(testkernel.Scenario())
	b := Build(testkernel.Scenario())
	assert.Equal(t, a, b)
}

func TestDescriptor(t *testing.T) {
	info := Build(testkernel.Scenario())
	r, ok := info.Region(0)
	require.True(t, ok)

	d := r.Instructions[0].Descriptor()
	assert.Equal(t, uint32(16), d.Offset)
	assert.True(t, d.IsSLM)
	assert.True(t, d.IsScatter)
	assert.False(t, d.IsWrite)
	assert.Equal(t, uint8(16), d.SIMDWidth)
	assert.Equal(t, uint8(32), d.AddressWidth)
	assert.Equal(t, uint8(kernel.BTISLM), d.SurfaceIndex)
	assert.Equal(t, uint8(2), d.AddrPayloadLength)

	d = r.Instructions[1].Descriptor()
	assert.True(t, d.IsWrite)
	assert.Equal(t, uint8(8), d.SIMDWidth)
	assert.Equal(t, uint8(1), d.AddrPayloadLength)

	packed := r.Instructions[1].Descriptor().Pack()
	got, ok := record.UnpackDescriptor(packed[:])
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestWeightCache(t *testing.T) {
	k := testkernel.Scenario()
	cache, err := NewWeightCache(16)
	require.NoError(t, err)

	hash := k.Hash()
	for range 3 {
		assert.Equal(t, uint32(112), cache.RegionWeight(k.Model, hash, k.Regions[0]))
		assert.Equal(t, uint32(0), cache.RegionWeight(k.Model, hash, k.Regions[1]))
	}
	hits, misses := cache.Stats()
	assert.Equal(t, uint64(4), hits)
	assert.Equal(t, uint64(2), misses)
}
