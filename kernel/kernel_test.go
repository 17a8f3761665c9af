// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalTID(t *testing.T) {
	for _, id := range []GenID{Gen9, Gen12, XeHPC} {
		m, err := Model(id)
		require.NoError(t, err)
		sra := m.StateRegAccessor()
		for _, tid := range []uint32{0, 1, 7, 8, 100, m.MaxThreads() - 1} {
			sr0 := sra.SetGlobalTID(0, tid)
			assert.Equal(t, tid, sra.GlobalTID(sr0), "%s tid %d", m, tid)
		}
	}
}

func TestGlobalTIDIgnoresUnrelatedBits(t *testing.T) {
	m, err := Model(Gen9)
	require.NoError(t, err)
	sra := m.StateRegAccessor()

	// Bits [7:3] are not part of any Gen9 location field.
	sr0 := sra.SetGlobalTID(0xF8, 42)
	assert.Equal(t, uint32(42), sra.GlobalTID(sr0))
	assert.Equal(t, uint32(0xF8), sr0&0xF8)
}

func TestParseGenID(t *testing.T) {
	id, err := ParseGenID("GEN12")
	require.NoError(t, err)
	assert.Equal(t, Gen12, id)

	_, err = ParseGenID("gen3")
	assert.Error(t, err)
}

func sendIns(id InsID, msgType MsgType, bti uint8, simd8 bool, src0Len uint8) *Instruction {
	desc, exDesc := EncodeDesc(SFIDDataPort0, msgType, bti, simd8, 2, 1, src0Len, 0, 1, false)
	return &Instruction{
		ID:       id,
		Offset:   uint32(id) * 16,
		Opcode:   OpSend,
		Desc:     desc,
		ExDesc:   exDesc,
		Src0:     RegNum(10 + id),
		Src1:     InvalidReg,
		ExecSize: 16,
	}
}

func TestDecodeSendMsg(t *testing.T) {
	tests := map[string]struct {
		ins         *Instruction
		valid       bool
		slm         bool
		write       bool
		payloadRegs uint8
	}{
		"simd16 slm read": {
			ins:         sendIns(1, MsgUntypedSurfaceRead, BTISLM, false, 2),
			valid:       true,
			slm:         true,
			payloadRegs: 2,
		},
		"simd8 slm write": {
			ins:         sendIns(2, MsgUntypedSurfaceWrite, BTISLM, true, 2),
			valid:       true,
			slm:         true,
			write:       true,
			payloadRegs: 1,
		},
		"a64 stateless": {
			ins:         sendIns(3, MsgA64ScatteredRead, BTIStateless, false, 4),
			valid:       true,
			payloadRegs: 4,
		},
		"payload longer than operands": {
			ins: sendIns(4, MsgA64ScatteredRead, BTIStateless, false, 2),
		},
		"unknown message type": {
			ins: sendIns(5, MsgType(0x1E), BTISLM, false, 2),
			slm: true,
		},
		"not a send": {
			ins: &Instruction{ID: 6, Opcode: OpOther, Src0: 1, Src1: InvalidReg},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			msg := DecodeSendMsg(tc.ins, 32)
			assert.Equal(t, tc.valid, msg.IsValid())
			if tc.ins.IsSend() {
				assert.Equal(t, tc.slm, msg.IsSLM())
			}
			if tc.valid {
				assert.Equal(t, tc.write, msg.IsWrite())
				assert.Equal(t, tc.payloadRegs, msg.AddrPayloadLength())
			}
		})
	}
}

func TestDecodeSendMsgWideRegisters(t *testing.T) {
	ins := sendIns(1, MsgA64UntypedRead, BTIStateless, false, 4)
	msg := DecodeSendMsg(ins, 64)
	require.True(t, msg.IsValid())
	assert.Equal(t, uint8(2), msg.AddrPayloadLength())
	assert.True(t, msg.IsA64())
}

func TestNewKernelRejectsDuplicates(t *testing.T) {
	m, err := Model(Gen9)
	require.NoError(t, err)

	ins := sendIns(1, MsgUntypedSurfaceRead, BTISLM, false, 2)
	_, err = New(1, "k", "tgl", m, 16, []*Region{
		{ID: 0, Instructions: []*Instruction{ins}},
		{ID: 1, Instructions: []*Instruction{ins}},
	})
	assert.Error(t, err)

	_, err = New(1, "k", "tgl", m, 16, []*Region{{ID: 0}, {ID: 0}})
	assert.Error(t, err)
}

func TestExtendedName(t *testing.T) {
	m, err := Model(Gen9)
	require.NoError(t, err)
	regions := func() []*Region {
		return []*Region{{ID: 0, IsEntry: true, Instructions: []*Instruction{
			sendIns(1, MsgUntypedSurfaceRead, BTISLM, false, 2)}}}
	}

	k16, err := New(1, "reduce", "tgl", m, 16, regions())
	require.NoError(t, err)
	k8, err := New(2, "reduce", "tgl", m, 8, regions())
	require.NoError(t, err)
	k16b, err := New(3, "reduce", "tgl", m, 16, regions())
	require.NoError(t, err)

	assert.NotEqual(t, k16.ExtendedName(), k8.ExtendedName())
	assert.Equal(t, k16.ExtendedName(), k16b.ExtendedName())
	assert.Contains(t, k16.ExtendedName(), "reduce")
}

func TestExecDescriptorString(t *testing.T) {
	d := ExecDescriptor{
		GlobalWorkSize: [3]uint32{1024, 1, 1},
		LocalWorkSize:  [3]uint32{64, 1, 1},
		Ordinal:        3,
	}
	assert.Equal(t, "tgl_gws_1024_1_1_lws_64_1_1_enqueue_3", d.String("tgl"))

	d.GlobalOffset = [3]uint32{8, 0, 0}
	assert.Equal(t, "tgl_gws_1024_1_1_lws_64_1_1_gwo_8_0_0_enqueue_3", d.String("tgl"))

	shape := func() ExecDescriptor { return ExecDescriptor{Ordinal: 1} }
	assert.Equal(t, "tgl_gws_0_0_0_lws_0_0_0_enqueue_1", shape().String("tgl"))
}

func TestNormalizeFilename(t *testing.T) {
	assert.Equal(t, "my_kernel_int_.x", NormalizeFilename("my kernel<int>.x"))
}
