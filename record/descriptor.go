// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package record // import "go.opentelemetry.io/gpu-memtrace/record"

import (
	"encoding/binary"

	npsr "go.opentelemetry.io/gpu-memtrace/nopanicslicereader"
)

// DescriptorSize is the packed size of an InstructionDescriptor.
const DescriptorSize = 12

// Port kinds of a memory message.
const (
	PortDataPort0 = 0
	PortDataPort1 = 1
)

// InstructionDescriptor is the static description of one traced memory instruction.
//
// Packed layout, three little-endian u32 words:
//
//	word0        program offset
//	word1 bit 0  is write
//	word1 bit 1  is scatter
//	word1 bit 2  is binding table surface
//	word1 bit 3  is shared local memory
//	word1 bit 4  is scratch
//	word1 bit 5  is atomic
//	word1 bit 6  address width (0 = 32 bit, 1 = 64 bit)
//	word1 bit 7  SIMD width (0 = 8, 1 = 16)
//	word1 15:8   surface index
//	word1 23:16  element size
//	word1 31:24  number of elements
//	word2 4:0    address payload length in registers
//	word2 bit 5  port kind
//	word2 bit 6  is end of thread
//	word2 bit 7  is media message
//	word2 15:8   reserved, zero
//	word2 23:16  execution size
//	word2 31:24  channel offset
type InstructionDescriptor struct {
	Offset            uint32
	IsWrite           bool
	IsScatter         bool
	IsBTS             bool
	IsSLM             bool
	IsScratch         bool
	IsAtomic          bool
	AddressWidth      uint8 // 32 or 64
	SIMDWidth         uint8 // 8 or 16
	SurfaceIndex      uint8
	ElementSize       uint8
	NumElements       uint8
	AddrPayloadLength uint8
	Port              uint8
	IsEOT             bool
	IsMedia           bool
	ExecSize          uint8
	ChannelOffset     uint8
}

func bit(v bool, pos uint) uint32 {
	if v {
		return 1 << pos
	}
	return 0
}

// Pack returns the packed form of the descriptor.
func (d InstructionDescriptor) Pack() [DescriptorSize]byte {
	var out [DescriptorSize]byte

	w1 := bit(d.IsWrite, 0) | bit(d.IsScatter, 1) | bit(d.IsBTS, 2) | bit(d.IsSLM, 3) |
		bit(d.IsScratch, 4) | bit(d.IsAtomic, 5) | bit(d.AddressWidth == 64, 6) |
		bit(d.SIMDWidth == 16, 7)
	w1 |= uint32(d.SurfaceIndex) << 8
	w1 |= uint32(d.ElementSize) << 16
	w1 |= uint32(d.NumElements) << 24

	w2 := uint32(d.AddrPayloadLength & 0x1F)
	w2 |= bit(d.Port == PortDataPort1, 5) | bit(d.IsEOT, 6) | bit(d.IsMedia, 7)
	w2 |= uint32(d.ExecSize) << 16
	w2 |= uint32(d.ChannelOffset) << 24

	binary.LittleEndian.PutUint32(out[0:], d.Offset)
	binary.LittleEndian.PutUint32(out[4:], w1)
	binary.LittleEndian.PutUint32(out[8:], w2)
	return out
}

// UnpackDescriptor is the inverse of Pack.
func UnpackDescriptor(b []byte) (InstructionDescriptor, bool) {
	if len(b) < DescriptorSize {
		return InstructionDescriptor{}, false
	}
	w1 := npsr.Uint32(b, 4)
	w2 := npsr.Uint32(b, 8)
	d := InstructionDescriptor{
		Offset:            npsr.Uint32(b, 0),
		IsWrite:           w1&(1<<0) != 0,
		IsScatter:         w1&(1<<1) != 0,
		IsBTS:             w1&(1<<2) != 0,
		IsSLM:             w1&(1<<3) != 0,
		IsScratch:         w1&(1<<4) != 0,
		IsAtomic:          w1&(1<<5) != 0,
		AddressWidth:      32,
		SIMDWidth:         8,
		SurfaceIndex:      uint8(w1 >> 8),
		ElementSize:       uint8(w1 >> 16),
		NumElements:       uint8(w1 >> 24),
		AddrPayloadLength: uint8(w2 & 0x1F),
		Port:              PortDataPort0,
		IsEOT:             w2&(1<<6) != 0,
		IsMedia:           w2&(1<<7) != 0,
		ExecSize:          uint8(w2 >> 16),
		ChannelOffset:     uint8(w2 >> 24),
	}
	if w1&(1<<6) != 0 {
		d.AddressWidth = 64
	}
	if w1&(1<<7) != 0 {
		d.SIMDWidth = 16
	}
	if w2&(1<<5) != 0 {
		d.Port = PortDataPort1
	}
	return d, true
}
