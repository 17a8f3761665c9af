// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the binary shapes written into trace buffers and trace artifacts.
package record // import "go.opentelemetry.io/gpu-memtrace/record"

import (
	"encoding/binary"

	"go.opentelemetry.io/gpu-memtrace/kernel"
	npsr "go.opentelemetry.io/gpu-memtrace/nopanicslicereader"
)

// HeaderSize is the raw size of a Header in bytes.
//
// Layout (little-endian):
//
//	0  u16 region id
//	2  u16 flag0
//	4  u32 sr0 state register
//	8  u16 channel enable mask
//	10 u16 dispatch mask
//	12 u16 flag1
//	14 u16 control register (entry regions only)
const HeaderSize = 16

// Header starts every trace record. The record size is not part of the header, it is
// derived from the region id through the static access information of the kernel build.
type Header struct {
	RegionID      kernel.RegionID
	Flag0         uint16
	StateReg      uint32
	ChannelEnable uint16
	DispatchMask  uint16
	Flag1         uint16
	Control       uint16
}

// AlignedHeaderSize returns the number of bytes a header occupies in a trace record.
func AlignedHeaderSize(m *kernel.GenModel) uint32 {
	return AlignUp(HeaderSize, m.HeaderAlign)
}

// AlignUp rounds v up to a multiple of align. An alignment of 0 or 1 leaves v unchanged.
func AlignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// ExecMask returns the channels that were both enabled and dispatched.
func (h *Header) ExecMask() uint32 {
	return uint32(h.ChannelEnable & h.DispatchMask)
}

// Put serializes the header into b, which must hold at least HeaderSize bytes.
func (h *Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:], uint16(h.RegionID))
	binary.LittleEndian.PutUint16(b[2:], h.Flag0)
	binary.LittleEndian.PutUint32(b[4:], h.StateReg)
	binary.LittleEndian.PutUint16(b[8:], h.ChannelEnable)
	binary.LittleEndian.PutUint16(b[10:], h.DispatchMask)
	binary.LittleEndian.PutUint16(b[12:], h.Flag1)
	binary.LittleEndian.PutUint16(b[14:], h.Control)
}

// Bytes returns the serialized header.
func (h *Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// ParseHeader reads a header at offset offs of b. It returns false if b does not hold a
// complete header at that offset.
func ParseHeader(b []byte, offs uint64) (Header, bool) {
	if offs+HeaderSize > uint64(len(b)) {
		return Header{}, false
	}
	return Header{
		RegionID:      kernel.RegionID(npsr.Uint16(b, offs)),
		Flag0:         npsr.Uint16(b, offs+2),
		StateReg:      npsr.Uint32(b, offs+4),
		ChannelEnable: npsr.Uint16(b, offs+8),
		DispatchMask:  npsr.Uint16(b, offs+10),
		Flag1:         npsr.Uint16(b, offs+12),
		Control:       npsr.Uint16(b, offs+14),
	}, true
}
