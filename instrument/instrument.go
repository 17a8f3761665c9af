// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrument generates the procedures that append trace records and hands them to
// the instrumentation engine of the device.
package instrument // import "go.opentelemetry.io/gpu-memtrace/instrument"

import (
	"fmt"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

// maxBlockRegs is the largest number of registers written by a single block store.
const maxBlockRegs = 4

// Op is a single operation of a Procedure.
type Op interface {
	isOp()
}

// AllocRecord reserves a record in the trace buffer and stores its header.
type AllocRecord struct {
	RegionID   kernel.RegionID
	RecordSize uint32
	// HeaderSize is the aligned header size, the header is zero padded up to it.
	HeaderSize uint32
	// CaptureControl stores the control register into the header. Only entry regions
	// capture it.
	CaptureControl bool
}

// StoreRegs appends Count consecutive registers starting at Reg to the current record.
type StoreRegs struct {
	Reg   kernel.RegNum
	Count uint32
}

func (AllocRecord) isOp() {}
func (StoreRegs) isOp()   {}

// Procedure is a sequence of operations executed by a hardware thread before an
// instruction.
type Procedure []Op

// Engine inserts procedures into a kernel build.
type Engine interface {
	// InstrumentBefore inserts proc so that it runs right before the instruction executes.
	InstrumentBefore(ins kernel.InsID, proc Procedure) error
}

// alignPow2Down returns the largest power of two not greater than n.
func alignPow2Down(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	p := uint32(1)
	for p<<1 <= n && p<<1 != 0 {
		p <<= 1
	}
	return p
}

// storeRegRange splits a register range into block stores.
func storeRegRange(proc Procedure, first kernel.RegNum, n uint32) Procedure {
	for n != 0 {
		blk := min(alignPow2Down(n), maxBlockRegs)
		proc = append(proc, StoreRegs{Reg: first, Count: blk})
		n -= blk
		first += kernel.RegNum(blk)
	}
	return proc
}

// PayloadProcedure returns the stores of the address payload of one memory instruction.
// The payload is taken from src0 if it is long enough, otherwise it continues in src1.
func PayloadProcedure(mi *analyzer.MemInstruction) Procedure {
	msg := &mi.Msg
	payload := uint32(msg.AddrPayloadLength())
	src0Len := uint32(msg.Src0Length())

	var proc Procedure
	if src0Len >= payload {
		return storeRegRange(proc, msg.Src0(), payload)
	}
	proc = storeRegRange(proc, msg.Src0(), src0Len)
	if msg.Src1().IsValid() {
		proc = storeRegRange(proc, msg.Src1(), payload-src0Len)
	}
	return proc
}

// InstrumentRegion instruments one region. The record is allocated before the first traced
// instruction, and every traced instruction stores its address payload right before it
// executes. Regions without traced instructions are left alone.
func InstrumentRegion(engine Engine, model *kernel.GenModel, region *kernel.Region,
	info *analyzer.RegionAccessInfo) error {
	if info == nil || info.IsEmpty() {
		return nil
	}
	for i := range info.Instructions {
		mi := &info.Instructions[i]
		var proc Procedure
		if i == 0 {
			proc = append(proc, AllocRecord{
				RegionID:       region.ID,
				RecordSize:     info.RecordSize,
				HeaderSize:     record.AlignedHeaderSize(model),
				CaptureControl: region.IsEntry,
			})
		}
		proc = append(proc, PayloadProcedure(mi)...)
		if err := engine.InstrumentBefore(mi.ID, proc); err != nil {
			return fmt.Errorf("failed to instrument instruction %d of region %d: %w",
				mi.ID, region.ID, err)
		}
	}
	return nil
}

// InstrumentKernel instruments all regions of a kernel build that have traced
// instructions.
func InstrumentKernel(engine Engine, k *kernel.Kernel, info *analyzer.ProgramAccessInfo) error {
	for _, region := range k.Regions {
		ri, ok := info.Region(region.ID)
		if !ok {
			continue
		}
		if err := InstrumentRegion(engine, k.Model, region, ri); err != nil {
			return fmt.Errorf("kernel %s: %w", k.Name, err)
		}
	}
	return nil
}
