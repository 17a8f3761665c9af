// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package analyzer computes, for every region of a kernel build, the size of the trace
// record a single execution of the region appends to the trace buffer.
package analyzer // import "go.opentelemetry.io/gpu-memtrace/analyzer"

import (
	"slices"

	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

// MemInstruction is a traced memory instruction together with its decoded message.
type MemInstruction struct {
	ID     kernel.InsID
	Offset uint32
	Msg    kernel.SendMsg
}

// Descriptor returns the static descriptor stored in trace artifacts.
func (mi *MemInstruction) Descriptor() record.InstructionDescriptor {
	msg := &mi.Msg
	d := record.InstructionDescriptor{
		Offset:            mi.Offset,
		IsWrite:           msg.IsWrite(),
		IsScatter:         msg.IsScatter(),
		IsBTS:             msg.IsBTS(),
		IsSLM:             msg.IsSLM(),
		IsScratch:         msg.IsScratch(),
		IsAtomic:          msg.IsAtomic(),
		AddressWidth:      32,
		SIMDWidth:         msg.SimdWidth(),
		SurfaceIndex:      msg.BTI(),
		ElementSize:       msg.ElementSize(),
		NumElements:       msg.NumElements(),
		AddrPayloadLength: msg.AddrPayloadLength(),
		Port:              record.PortDataPort0,
		IsEOT:             msg.IsEOT(),
		IsMedia:           msg.IsMedia(),
		ExecSize:          msg.ExecSize(),
		ChannelOffset:     msg.ChannelOffset(),
	}
	if msg.IsA64() {
		d.AddressWidth = 64
	}
	if msg.IsDP1() {
		d.Port = record.PortDataPort1
	}
	return d
}

// RegionAccessInfo holds the traced memory instructions of one region and the size of the
// record every execution of the region writes.
type RegionAccessInfo struct {
	RegionID     kernel.RegionID
	Instructions []MemInstruction
	// RecordSize is the aligned header size plus the address payload of all instructions.
	// It is zero for regions without traced instructions.
	RecordSize uint32
}

// IsEmpty returns true if the region has no traced instructions.
func (r *RegionAccessInfo) IsEmpty() bool {
	return len(r.Instructions) == 0
}

// qualifies decides whether an instruction is traced: an SLM message that decodes to a
// valid memory message, or the end-of-thread send.
func qualifies(ins *kernel.Instruction, msg *kernel.SendMsg) bool {
	if !ins.IsSend() {
		return false
	}
	return (msg.IsValid() || ins.EOT) && msg.IsSLM()
}

// BuildRegion scans the instructions of a region in program order.
func BuildRegion(model *kernel.GenModel, region *kernel.Region) RegionAccessInfo {
	info := RegionAccessInfo{RegionID: region.ID}

	addrPayloadSize := uint32(0)
	for _, ins := range region.Instructions {
		msg := kernel.DecodeSendMsg(ins, model.GRFRegSize)
		if !qualifies(ins, &msg) {
			continue
		}
		addrPayloadSize += uint32(msg.AddrPayloadLength()) * model.GRFRegSize
		info.Instructions = append(info.Instructions, MemInstruction{
			ID:     ins.ID,
			Offset: ins.Offset,
			Msg:    msg,
		})
	}
	if !info.IsEmpty() {
		info.RecordSize = record.AlignedHeaderSize(model) + addrPayloadSize
	}
	return info
}

// ProgramAccessInfo is the static access information of a kernel build. It is read-only
// once built.
type ProgramAccessInfo struct {
	regions           map[kernel.RegionID]*RegionAccessInfo
	maxRecordSize     uint32
	alignedHeaderSize uint32
}

// Build analyses all regions of a kernel build. Regions without traced instructions are
// not part of the result.
func Build(k *kernel.Kernel) *ProgramAccessInfo {
	p := &ProgramAccessInfo{
		regions:           make(map[kernel.RegionID]*RegionAccessInfo),
		alignedHeaderSize: record.AlignedHeaderSize(k.Model),
	}
	for _, region := range k.Regions {
		info := BuildRegion(k.Model, region)
		if info.IsEmpty() {
			continue
		}
		p.maxRecordSize = max(p.maxRecordSize, info.RecordSize)
		p.regions[region.ID] = &info
	}
	return p
}

// Region returns the access information of a region, or false if the region has no traced
// instructions.
func (p *ProgramAccessInfo) Region(id kernel.RegionID) (*RegionAccessInfo, bool) {
	info, ok := p.regions[id]
	return info, ok
}

// RegionIDs returns the ids of all traced regions in ascending order.
func (p *ProgramAccessInfo) RegionIDs() []kernel.RegionID {
	ids := make([]kernel.RegionID, 0, len(p.regions))
	for id := range p.regions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NumRegions returns the number of traced regions.
func (p *ProgramAccessInfo) NumRegions() int {
	return len(p.regions)
}

// MaxRecordSize returns the largest record size of all regions.
func (p *ProgramAccessInfo) MaxRecordSize() uint32 {
	return p.maxRecordSize
}

// AlignedHeaderSize returns the header size records of this build start with.
func (p *ProgramAccessInfo) AlignedHeaderSize() uint32 {
	return p.alignedHeaderSize
}
