// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package workload // import "go.opentelemetry.io/gpu-memtrace/workload"

import (
	"fmt"

	"go.opentelemetry.io/gpu-memtrace/gpusim"
	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// Instruction kinds.
const (
	KindALU          = "alu"
	KindSLMRead      = "slm-read"
	KindSLMWrite     = "slm-write"
	KindSLMAtomic    = "slm-atomic"
	KindSLMBlockRead = "slm-block-read"
	KindGlobalRead   = "global-read"
	KindGlobalWrite  = "global-write"
	KindEOT          = "eot"
)

// insSize is the size of an instruction in the program.
const insSize = 16

// First and last register handed out for message payloads. r0 and r1 hold the thread
// payload.
const (
	firstPayloadReg = 2
	lastPayloadReg  = 120
)

type messageKind struct {
	sfid    uint8
	msgType kernel.MsgType
	bti     uint8
	a64     bool
	block   bool
	write   bool
}

var messageKinds = map[string]messageKind{
	KindSLMRead: {sfid: kernel.SFIDDataPort0, msgType: kernel.MsgUntypedSurfaceRead,
		bti: kernel.BTISLM},
	KindSLMWrite: {sfid: kernel.SFIDDataPort0, msgType: kernel.MsgUntypedSurfaceWrite,
		bti: kernel.BTISLM, write: true},
	KindSLMAtomic: {sfid: kernel.SFIDDataPort0, msgType: kernel.MsgUntypedAtomic,
		bti: kernel.BTISLM, write: true},
	KindSLMBlockRead: {sfid: kernel.SFIDDataPort0, msgType: kernel.MsgOWordBlockRead,
		bti: kernel.BTISLM, block: true},
	KindGlobalRead: {sfid: kernel.SFIDDataPort1, msgType: kernel.MsgA64ScatteredRead,
		bti: kernel.BTIStateless, a64: true},
	KindGlobalWrite: {sfid: kernel.SFIDDataPort1, msgType: kernel.MsgA64ScatteredWrite,
		bti: kernel.BTIStateless, a64: true, write: true},
}

// builder assigns ids, offsets and registers to the instructions of one kernel.
type builder struct {
	model    *kernel.GenModel
	simd     uint8
	nextID   kernel.InsID
	nextReg  kernel.RegNum
	patterns map[kernel.InsID]gpusim.AddressPattern
}

func newBuilder(model *kernel.GenModel, simd uint8) *builder {
	return &builder{
		model:    model,
		simd:     simd,
		nextID:   1,
		nextReg:  firstPayloadReg,
		patterns: make(map[kernel.InsID]gpusim.AddressPattern),
	}
}

// allocRegs returns the first of n consecutive registers.
func (b *builder) allocRegs(n uint8) kernel.RegNum {
	if b.nextReg+kernel.RegNum(n) > lastPayloadReg {
		b.nextReg = firstPayloadReg
	}
	r := b.nextReg
	b.nextReg += kernel.RegNum(n)
	return r
}

// payloadRegs returns the number of address payload registers of a message.
func (b *builder) payloadRegs(mk *messageKind, simd uint8, header bool) uint8 {
	if mk.block {
		return 1
	}
	addrBytes := uint32(4)
	if mk.a64 {
		addrBytes = 8
	}
	grf := b.model.GRFRegSize
	n := uint8((uint32(simd)*addrBytes + grf - 1) / grf)
	if header {
		n++
	}
	return n
}

func (b *builder) instruction(d *InstructionDesc) (*kernel.Instruction, error) {
	ins := &kernel.Instruction{
		ID:       b.nextID,
		Offset:   uint32(b.nextID-1) * insSize,
		Src0:     kernel.InvalidReg,
		Src1:     kernel.InvalidReg,
		ExecSize: b.simd,
	}
	b.nextID++

	simd := d.SIMD
	if simd == 0 {
		simd = b.simd
	}
	if simd != 8 && simd != 16 {
		return nil, fmt.Errorf("unsupported SIMD width %d", simd)
	}

	switch d.Kind {
	case KindALU:
		ins.Opcode = kernel.OpOther
		ins.Src0 = b.allocRegs(1)
		ins.Asm = fmt.Sprintf("add (%d) r%d r%d 0x1", ins.ExecSize, ins.Src0, ins.Src0)
		return ins, nil
	case KindEOT:
		ins.Opcode = kernel.OpSend
		ins.EOT = true
		ins.Src0 = 127
		ins.Desc, ins.ExDesc = kernel.EncodeDesc(kernel.SFIDThreadSpawner,
			kernel.MsgOWordBlockRead, kernel.BTISLM, false, 0, 0, 1, 0, 0, false)
		ins.Asm = fmt.Sprintf("send (%d) null r127 0x27 %#x {EOT}", ins.ExecSize, ins.Desc)
		return ins, nil
	}

	mk, ok := messageKinds[d.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown instruction kind '%s'", d.Kind)
	}
	payload := b.payloadRegs(&mk, simd, d.Header)
	src0Len := payload
	if d.Src0Len != 0 && d.Src0Len < payload {
		src0Len = d.Src0Len
	}
	// Data of writes follows the addresses in src1.
	dataLen := uint8(0)
	if mk.write {
		dataLen = simd / 8
	}
	src1Len := payload - src0Len + dataLen
	respLen := uint8(0)
	if !mk.write {
		respLen = simd / 8
	}

	ins.Opcode = kernel.OpSend
	ins.ExecSize = simd
	ins.Src0 = b.allocRegs(src0Len)
	if src1Len > 0 {
		ins.Src1 = b.allocRegs(src1Len)
	}
	ins.Desc, ins.ExDesc = kernel.EncodeDesc(mk.sfid, mk.msgType, mk.bti, simd == 8, 2, 1,
		src0Len, src1Len, respLen, d.Header)
	ins.Asm = fmt.Sprintf("send (%d) r%d:%d r%d:%d %#x %#x // %s", simd, ins.Src0, src0Len,
		ins.Src1, src1Len, ins.ExDesc, ins.Desc, d.Kind)

	if d.Address != nil {
		b.patterns[ins.ID] = gpusim.AddressPattern{
			Base:         d.Address.Base,
			LaneStride:   d.Address.LaneStride,
			ThreadStride: d.Address.ThreadStride,
			Wrap:         d.Address.Wrap,
		}
	}
	return ins, nil
}
