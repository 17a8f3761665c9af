// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testkernel builds small kernels for tests.
package testkernel // import "go.opentelemetry.io/gpu-memtrace/internal/testkernel"

import (
	"fmt"

	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// Model returns a Gen9 like model: 32 byte registers and 16 byte header alignment.
func Model() *kernel.GenModel {
	m, err := kernel.Model(kernel.Gen9)
	if err != nil {
		panic(err)
	}
	return m
}

func send(id kernel.InsID, sfid uint8, msgType kernel.MsgType, bti uint8, simd8 bool,
	src0Len, src1Len uint8) *kernel.Instruction {
	desc, exDesc := kernel.EncodeDesc(sfid, msgType, bti, simd8, 2, 1, src0Len, src1Len, 1,
		false)
	execSize := uint8(16)
	if simd8 {
		execSize = 8
	}
	src1 := kernel.InvalidReg
	if src1Len > 0 {
		src1 = kernel.RegNum(64 + 4*int(id))
	}
	return &kernel.Instruction{
		ID:       id,
		Offset:   uint32(id) * 16,
		Opcode:   kernel.OpSend,
		Desc:     desc,
		ExDesc:   exDesc,
		Src0:     kernel.RegNum(4 * int(id)),
		Src1:     src1,
		ExecSize: execSize,
		Asm:      fmt.Sprintf("send (%d) slm msg %#x", execSize, desc),
	}
}

// SLMRead returns a scattered SLM read. SIMD16 reads carry two address registers, SIMD8
// reads one.
func SLMRead(id kernel.InsID, simd8 bool) *kernel.Instruction {
	n := uint8(2)
	if simd8 {
		n = 1
	}
	return send(id, kernel.SFIDDataPort0, kernel.MsgUntypedSurfaceRead, kernel.BTISLM, simd8,
		n, 0)
}

// SLMWrite returns a scattered SLM write whose address payload starts in src0 and
// continues in src1 if src0Len is shorter than the payload.
func SLMWrite(id kernel.InsID, simd8 bool, src0Len uint8) *kernel.Instruction {
	return send(id, kernel.SFIDDataPort0, kernel.MsgUntypedSurfaceWrite, kernel.BTISLM, simd8,
		src0Len, 4)
}

// GlobalRead returns a stateless A64 read, which is not traced.
func GlobalRead(id kernel.InsID) *kernel.Instruction {
	return send(id, kernel.SFIDDataPort1, kernel.MsgA64ScatteredRead, kernel.BTIStateless,
		false, 4, 0)
}

// EOT returns an end-of-thread send addressed at SLM.
func EOT(id kernel.InsID) *kernel.Instruction {
	ins := send(id, kernel.SFIDThreadSpawner, kernel.MsgOWordBlockRead, kernel.BTISLM, false,
		1, 0)
	ins.EOT = true
	return ins
}

// ALU returns a non-send instruction.
func ALU(id kernel.InsID) *kernel.Instruction {
	return &kernel.Instruction{
		ID:       id,
		Offset:   uint32(id) * 16,
		Opcode:   kernel.OpOther,
		Src0:     kernel.RegNum(id),
		Src1:     kernel.InvalidReg,
		ExecSize: 16,
		Asm:      "add (16) r1 r2 r3",
	}
}

// Scenario returns a kernel with three regions:
//
//	region 0 (entry): SIMD16 SLM read (2 regs), ALU, SIMD8 SLM write (1 reg) -> 112 bytes
//	region 1: ALU and a global read, not traced
//	region 2: SIMD16 SLM read (2 regs) -> 80 bytes
func Scenario() *kernel.Kernel {
	k, err := kernel.New(1, "scenario", "skl", Model(), 16, []*kernel.Region{
		{ID: 0, IsEntry: true, Instructions: []*kernel.Instruction{
			SLMRead(1, false), ALU(2), SLMWrite(3, true, 1)}},
		{ID: 1, Instructions: []*kernel.Instruction{ALU(4), GlobalRead(5)}},
		{ID: 2, Instructions: []*kernel.Instruction{SLMRead(6, false)}},
	})
	if err != nil {
		panic(err)
	}
	return k
}
