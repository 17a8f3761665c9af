// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/internal/testkernel"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

type fakeEngine struct {
	procs map[kernel.InsID]Procedure
	fail  kernel.InsID
}

func (e *fakeEngine) InstrumentBefore(ins kernel.InsID, proc Procedure) error {
	if ins == e.fail {
		return errors.New("no room")
	}
	if e.procs == nil {
		e.procs = make(map[kernel.InsID]Procedure)
	}
	e.procs[ins] = append(e.procs[ins], proc...)
	return nil
}

func TestAlignPow2Down(t *testing.T) {
	for n, expected := range map[uint32]uint32{0: 0, 1: 1, 2: 2, 3: 2, 4: 4, 7: 4, 9: 8} {
		assert.Equal(t, expected, alignPow2Down(n), "n=%d", n)
	}
}

func TestStoreRegRangeChunks(t *testing.T) {
	tests := map[string]struct {
		n        uint32
		expected Procedure
	}{
		"empty":  {n: 0},
		"single": {n: 1, expected: Procedure{StoreRegs{Reg: 10, Count: 1}}},
		"seven": {n: 7, expected: Procedure{
			StoreRegs{Reg: 10, Count: 4},
			StoreRegs{Reg: 14, Count: 2},
			StoreRegs{Reg: 16, Count: 1},
		}},
		"nine": {n: 9, expected: Procedure{
			StoreRegs{Reg: 10, Count: 4},
			StoreRegs{Reg: 14, Count: 4},
			StoreRegs{Reg: 18, Count: 1},
		}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, storeRegRange(nil, 10, tc.n))
		})
	}
}

func TestPayloadSplitAcrossSources(t *testing.T) {
	m := testkernel.Model()
	ins := testkernel.SLMWrite(7, false, 1)
	region := &kernel.Region{ID: 3, Instructions: []*kernel.Instruction{ins}}
	info := analyzer.BuildRegion(m, region)
	require.Len(t, info.Instructions, 1)

	proc := PayloadProcedure(&info.Instructions[0])
	assert.Equal(t, Procedure{
		StoreRegs{Reg: ins.Src0, Count: 1},
		StoreRegs{Reg: ins.Src1, Count: 1},
	}, proc)
}

func TestInstrumentKernel(t *testing.T) {
	k := testkernel.Scenario()
	info := analyzer.Build(k)
	engine := &fakeEngine{}
	require.NoError(t, InstrumentKernel(engine, k, info))

	assert.Equal(t, map[kernel.InsID]Procedure{
		1: {
			AllocRecord{RegionID: 0, RecordSize: 112, HeaderSize: 16, CaptureControl: true},
			StoreRegs{Reg: 4, Count: 2},
		},
		3: {StoreRegs{Reg: 12, Count: 1}},
		6: {
			AllocRecord{RegionID: 2, RecordSize: 80, HeaderSize: 16},
			StoreRegs{Reg: 24, Count: 2},
		},
	}, engine.procs)
}

func TestInstrumentKernelEngineError(t *testing.T) {
	k := testkernel.Scenario()
	err := InstrumentKernel(&fakeEngine{fail: 3}, k, analyzer.Build(k))
	assert.ErrorContains(t, err, "instruction 3 of region 0")
}

type fakeThread struct {
	sr0  uint32
	regs map[kernel.RegNum][]byte
}

func (t *fakeThread) StateReg() uint32      { return t.sr0 }
func (t *fakeThread) ChannelEnable() uint16 { return 0xFFFF }
func (t *fakeThread) DispatchMask() uint16  { return 0x00FF }
func (t *fakeThread) Flag(n int) uint16     { return uint16(0x10 + n) }
func (t *fakeThread) ControlReg() uint16    { return 0xC0 }

func (t *fakeThread) Register(r kernel.RegNum) []byte {
	if reg, ok := t.regs[r]; ok {
		return reg
	}
	return bytes.Repeat([]byte{byte(r)}, 32)
}

func TestRecorder(t *testing.T) {
	k := testkernel.Scenario()
	m := k.Model
	engine := &fakeEngine{}
	require.NoError(t, InstrumentKernel(engine, k, analyzer.Build(k)))

	buf, err := tracebuf.New(200, 112)
	require.NoError(t, err)
	defer buf.Close()

	runRegion0 := func(th *fakeThread) {
		rec := NewRecorder(buf, m)
		rec.Run(engine.procs[1], th)
		rec.Run(engine.procs[3], th)
	}
	runRegion0(&fakeThread{sr0: 0x1234})
	runRegion0(&fakeThread{sr0: 0x5678})

	require.True(t, buf.Truncated())
	data := buf.Bytes()
	require.Len(t, data, 112)

	h, ok := record.ParseHeader(data, 0)
	require.True(t, ok)
	assert.Equal(t, record.Header{
		RegionID:      0,
		Flag0:         0x10,
		StateReg:      0x1234,
		ChannelEnable: 0xFFFF,
		DispatchMask:  0x00FF,
		Flag1:         0x11,
		Control:       0xC0,
	}, h)
	assert.Equal(t, bytes.Repeat([]byte{4}, 32), data[16:48])
	assert.Equal(t, bytes.Repeat([]byte{5}, 32), data[48:80])
	assert.Equal(t, bytes.Repeat([]byte{12}, 32), data[80:112])
}

func TestRecorderNonEntryRegionSkipsControl(t *testing.T) {
	k := testkernel.Scenario()
	engine := &fakeEngine{}
	require.NoError(t, InstrumentKernel(engine, k, analyzer.Build(k)))

	buf, err := tracebuf.New(1024, 112)
	require.NoError(t, err)
	defer buf.Close()

	NewRecorder(buf, k.Model).Run(engine.procs[6], &fakeThread{sr0: 1})
	h, ok := record.ParseHeader(buf.Bytes(), 0)
	require.True(t, ok)
	assert.Equal(t, kernel.RegionID(2), h.RegionID)
	assert.Equal(t, uint16(0), h.Control)
	assert.Len(t, buf.Bytes(), 80)
}
