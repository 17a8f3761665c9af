// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gpusim

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/capture"
	"go.opentelemetry.io/gpu-memtrace/decoder"
	"go.opentelemetry.io/gpu-memtrace/instrument"
	"go.opentelemetry.io/gpu-memtrace/internal/testkernel"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

func dispatch(gws uint32, paths ...[]kernel.RegionID) Dispatch {
	return Dispatch{
		Desc:  kernel.ExecDescriptor{GlobalWorkSize: [3]uint32{gws, 1, 1}},
		Paths: paths,
	}
}

func TestThreadShape(t *testing.T) {
	k := testkernel.Scenario()
	tests := map[string]struct {
		desc    kernel.ExecDescriptor
		threads uint64
		lanes   uint16
	}{
		"full":     {desc: kernel.ExecDescriptor{GlobalWorkSize: [3]uint32{64, 1, 1}}, threads: 4, lanes: 16},
		"partial":  {desc: kernel.ExecDescriptor{GlobalWorkSize: [3]uint32{20, 1, 1}}, threads: 2, lanes: 4},
		"2d":       {desc: kernel.ExecDescriptor{GlobalWorkSize: [3]uint32{16, 4, 0}}, threads: 4, lanes: 16},
		"explicit": {desc: kernel.ExecDescriptor{GlobalWorkSize: [3]uint32{20, 1, 1}, NumThreads: 5}, threads: 5, lanes: 16},
		"empty":    {desc: kernel.ExecDescriptor{}, threads: 0, lanes: 16},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			threads, lanes := threadShape(k, &tc.desc)
			assert.Equal(t, tc.threads, threads)
			assert.Equal(t, tc.lanes, lanes)
		})
	}
}

func TestMeasure(t *testing.T) {
	dev := New(4)
	p, err := dev.Load(testkernel.Scenario(), nil)
	require.NoError(t, err)

	counts, err := dev.Measure(context.Background(), p,
		dispatch(64, []kernel.RegionID{0, 1, 2}, []kernel.RegionID{0}))
	require.NoError(t, err)
	assert.Equal(t, map[kernel.RegionID]uint64{0: 4, 1: 2, 2: 2}, counts)
}

func TestMeasureRepeated(t *testing.T) {
	dev := New(2)
	p, err := dev.Load(testkernel.Scenario(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		counts, err := dev.Measure(ctx, p, dispatch(16, []kernel.RegionID{0}))
		require.NoError(t, err)
		assert.Equal(t, map[kernel.RegionID]uint64{0: 1}, counts)
	}
	require.NoError(t, ctx.Err())
}

func TestInstrumentBefore(t *testing.T) {
	dev := New(1)
	p, err := dev.Load(testkernel.Scenario(), nil)
	require.NoError(t, err)

	require.NoError(t, p.InstrumentBefore(1, instrument.Procedure{instrument.StoreRegs{Reg: 4, Count: 1}}))
	require.NoError(t, p.InstrumentBefore(1, instrument.Procedure{instrument.StoreRegs{Reg: 5, Count: 1}}))
	require.Error(t, p.InstrumentBefore(99, nil))
	assert.Equal(t, 1, p.Instrumented())
	assert.Equal(t, instrument.Procedure{
		instrument.StoreRegs{Reg: 4, Count: 1},
		instrument.StoreRegs{Reg: 5, Count: 1},
	}, p.procedures()[1])

	p.Uninstrument()
	assert.Zero(t, p.Instrumented())
}

func TestLoadRejectsUnknownPattern(t *testing.T) {
	_, err := New(1).Load(testkernel.Scenario(), map[kernel.InsID]AddressPattern{42: {}})
	require.Error(t, err)
}

func instrumented(t *testing.T, dev *Device, patterns map[kernel.InsID]AddressPattern) (
	*Program, *capture.Kernel) {
	t.Helper()
	k := testkernel.Scenario()
	ck, err := capture.NewKernel(k, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ck.Close() })
	p, err := dev.Load(k, patterns)
	require.NoError(t, err)
	require.NoError(t, instrument.InstrumentKernel(p, k, ck.AccessInfo()))
	return p, ck
}

func TestExecute(t *testing.T) {
	dev := New(2)
	p, ck := instrumented(t, dev, map[kernel.InsID]AddressPattern{
		1: {Base: 0x100, LaneStride: 4, ThreadStride: 0x40},
		6: {LaneStride: 8, Wrap: 64},
	})
	assert.Equal(t, 3, p.Instrumented())

	ck.OnRun()
	disp := dispatch(20, []kernel.RegionID{0, 1, 2})
	require.NoError(t, dev.Execute(context.Background(), p, disp, ck.Buffer()))
	assert.Equal(t, uint64(2*(112+80)), ck.Buffer().Size())
	assert.False(t, ck.Buffer().Truncated())

	inst, err := ck.OnComplete(disp.Desc)
	require.NoError(t, err)
	trace, err := decoder.Demux(inst, ck.AccessInfo(), ck.Model())
	require.NoError(t, err)
	require.Len(t, trace.Threads, 2)
	assert.Equal(t, 4, trace.NumRecords)

	for tid, tt := range trace.Threads {
		assert.Equal(t, uint32(tid), tt.TID)
		require.Len(t, tt.Records, 2)
		read, slm := tt.Records[0], tt.Records[1]
		assert.Equal(t, kernel.RegionID(0), read.RegionID)
		assert.Equal(t, kernel.RegionID(2), slm.RegionID)

		lane3 := binary.LittleEndian.Uint32(read.Payload[12:])
		assert.Equal(t, uint32(0x100+12+0x40*tid), lane3)
		// The SIMD8 write follows the two read registers and uses the default pattern.
		assert.Equal(t, uint32(4*5), binary.LittleEndian.Uint32(read.Payload[64+20:]))
		// Lane 9 wraps around.
		assert.Equal(t, uint32(72%64), binary.LittleEndian.Uint32(slm.Payload[36:]))
	}
	assert.Equal(t, uint32(0xFFFF), trace.Threads[0].Records[0].ExecMask)
	assert.Equal(t, uint32(0x000F), trace.Threads[1].Records[0].ExecMask)
}

func TestExecuteControlRegister(t *testing.T) {
	dev := New(1)
	p, ck := instrumented(t, dev, nil)
	disp := dispatch(16, []kernel.RegionID{0, 2})
	disp.Control = 0x0A0B

	ck.OnRun()
	require.NoError(t, dev.Execute(context.Background(), p, disp, ck.Buffer()))
	data := ck.Buffer().Bytes()

	entry, ok := record.ParseHeader(data, 0)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0A0B), entry.Control)
	other, ok := record.ParseHeader(data, 112)
	require.True(t, ok)
	assert.Equal(t, kernel.RegionID(2), other.RegionID)
	assert.Zero(t, other.Control)
}

func TestExecuteOverflow(t *testing.T) {
	dev := New(4)
	k := testkernel.Scenario()
	info := analyzer.Build(k)
	buf, err := tracebuf.New(200, info.MaxRecordSize())
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	p, err := dev.Load(k, nil)
	require.NoError(t, err)
	require.NoError(t, instrument.InstrumentKernel(p, k, info))

	require.NoError(t, dev.Execute(context.Background(), p, dispatch(32, []kernel.RegionID{0}), buf))
	assert.True(t, buf.Truncated())
	assert.Equal(t, uint64(112), buf.Size())
}

func TestExecuteErrors(t *testing.T) {
	dev := New(1)
	p, ck := instrumented(t, dev, nil)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := map[string]struct {
		ctx  context.Context
		disp Dispatch
		buf  *tracebuf.Buffer
	}{
		"no paths":       {ctx: context.Background(), disp: dispatch(16), buf: ck.Buffer()},
		"unknown region": {ctx: context.Background(), disp: dispatch(16, []kernel.RegionID{9}), buf: ck.Buffer()},
		"no buffer":      {ctx: context.Background(), disp: dispatch(16, []kernel.RegionID{0})},
		"cancelled":      {ctx: cancelled, disp: dispatch(16, []kernel.RegionID{0}), buf: ck.Buffer()},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Error(t, dev.Execute(tc.ctx, p, tc.disp, tc.buf))
		})
	}
}
