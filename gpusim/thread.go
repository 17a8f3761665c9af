// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gpusim // import "go.opentelemetry.io/gpu-memtrace/gpusim"

import (
	"encoding/binary"

	"go.opentelemetry.io/gpu-memtrace/instrument"
	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// numGRFRegs is the size of the general register file of a hardware thread.
const numGRFRegs = 128

// hwThread is the architectural state of a simulated hardware thread.
type hwThread struct {
	index      uint64
	stateReg   uint32
	ce, dm     uint16
	flags      [2]uint16
	control    uint16
	grfRegSize uint32
	grf        []byte
	zero       []byte
}

var _ instrument.Thread = (*hwThread)(nil)

func newHWThread(model *kernel.GenModel, index uint64, lanes uint16, control uint16) *hwThread {
	sra := model.StateRegAccessor()
	mask := uint16(0xFFFF)
	if lanes < 16 {
		mask = uint16(1)<<lanes - 1
	}
	return &hwThread{
		index:      index,
		stateReg:   sra.SetGlobalTID(0, uint32(index%uint64(sra.MaxThreads()))),
		ce:         mask,
		dm:         mask,
		control:    control,
		grfRegSize: model.GRFRegSize,
		grf:        make([]byte, numGRFRegs*model.GRFRegSize),
		zero:       make([]byte, model.GRFRegSize),
	}
}

func (t *hwThread) StateReg() uint32      { return t.stateReg }
func (t *hwThread) ChannelEnable() uint16 { return t.ce }
func (t *hwThread) DispatchMask() uint16  { return t.dm }
func (t *hwThread) ControlReg() uint16    { return t.control }

func (t *hwThread) Flag(n int) uint16 {
	if n < 0 || n >= len(t.flags) {
		return 0
	}
	return t.flags[n]
}

func (t *hwThread) Register(r kernel.RegNum) []byte {
	if !r.IsValid() || int(r) >= numGRFRegs {
		return t.zero
	}
	off := uint32(r) * t.grfRegSize
	return t.grf[off : off+t.grfRegSize]
}

// loadPayload writes the address payload of msg into the source registers, the way the
// kernel would have computed it right before the send executes.
func (t *hwThread) loadPayload(msg *kernel.SendMsg, pattern *AddressPattern) {
	payload := make([]byte, int(msg.AddrPayloadLength())*int(t.grfRegSize))
	addrs := payload
	if msg.IsScatter() {
		// A header, if present, occupies the first register and is left zero.
		hdr := len(payload) - int(t.addrRegs(msg))*int(t.grfRegSize)
		if hdr > 0 {
			addrs = payload[hdr:]
		}
		for lane := uint64(0); lane < uint64(msg.SimdWidth()); lane++ {
			addr := pattern.Address(t.index, lane)
			if msg.IsA64() {
				binary.LittleEndian.PutUint64(addrs[lane*8:], addr)
			} else {
				binary.LittleEndian.PutUint32(addrs[lane*4:], uint32(addr))
			}
		}
	} else {
		// Block messages carry their offset in the second dword of the header.
		binary.LittleEndian.PutUint32(addrs[8:], uint32(pattern.Address(t.index, 0)))
	}

	regs := uint32(len(payload)) / t.grfRegSize
	src0Len := min(uint32(msg.Src0Length()), regs)
	t.copyRegs(msg.Src0(), payload[:src0Len*t.grfRegSize])
	if src0Len < regs {
		t.copyRegs(msg.Src1(), payload[src0Len*t.grfRegSize:])
	}
}

func (t *hwThread) addrRegs(msg *kernel.SendMsg) uint32 {
	addrBytes := uint32(4)
	if msg.IsA64() {
		addrBytes = 8
	}
	return (uint32(msg.SimdWidth())*addrBytes + t.grfRegSize - 1) / t.grfRegSize
}

func (t *hwThread) copyRegs(first kernel.RegNum, data []byte) {
	if !first.IsValid() {
		return
	}
	for len(data) > 0 && int(first) < numGRFRegs {
		n := copy(t.Register(first), data)
		data = data[n:]
		first++
	}
}
