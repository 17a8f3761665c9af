// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "go.opentelemetry.io/gpu-memtrace/kernel"

// Shared function identifiers carried in ExDesc[3:0].
const (
	SFIDNull          = 0x0
	SFIDSampler       = 0x2
	SFIDGateway       = 0x3
	SFIDThreadSpawner = 0x7
	SFIDDataPortRO    = 0x9
	SFIDDataPort0     = 0xA
	SFIDDataPort1     = 0xC
)

// Surface indices with special meaning.
const (
	BTISLM             = 0xFE
	BTIStateless       = 0xFF
	BTIStatelessNonCoh = 0xFD
	// Indices below this value address binding table surfaces.
	BTIMaxSurface = 0xF0
)

// MsgType is the data port message type carried in Desc[18:14].
type MsgType uint8

const (
	MsgOWordBlockRead      MsgType = 0x00
	MsgUntypedSurfaceRead  MsgType = 0x01
	MsgUntypedAtomic       MsgType = 0x02
	MsgByteScatteredRead   MsgType = 0x03
	MsgDWordScatteredRead  MsgType = 0x04
	MsgOWordBlockWrite     MsgType = 0x08
	MsgUntypedSurfaceWrite MsgType = 0x09
	MsgByteScatteredWrite  MsgType = 0x0B
	MsgDWordScatteredWrite MsgType = 0x0C
	MsgA64ScatteredRead    MsgType = 0x10
	MsgA64ScatteredWrite   MsgType = 0x11
	MsgA64UntypedRead      MsgType = 0x12
	MsgA64UntypedWrite     MsgType = 0x13
	MsgA64UntypedAtomic    MsgType = 0x14
	MsgScratchRead         MsgType = 0x18
	MsgScratchWrite        MsgType = 0x19
	MsgMediaBlockRead      MsgType = 0x1C
	MsgMediaBlockWrite     MsgType = 0x1D
)

type msgTypeInfo struct {
	write, scatter, atomic, a64, scratch, media, block bool
}

var msgTypes = map[MsgType]msgTypeInfo{
	MsgOWordBlockRead:      {block: true},
	MsgUntypedSurfaceRead:  {scatter: true},
	MsgUntypedAtomic:       {scatter: true, atomic: true},
	MsgByteScatteredRead:   {scatter: true},
	MsgDWordScatteredRead:  {scatter: true},
	MsgOWordBlockWrite:     {block: true, write: true},
	MsgUntypedSurfaceWrite: {scatter: true, write: true},
	MsgByteScatteredWrite:  {scatter: true, write: true},
	MsgDWordScatteredWrite: {scatter: true, write: true},
	MsgA64ScatteredRead:    {scatter: true, a64: true},
	MsgA64ScatteredWrite:   {scatter: true, a64: true, write: true},
	MsgA64UntypedRead:      {scatter: true, a64: true},
	MsgA64UntypedWrite:     {scatter: true, a64: true, write: true},
	MsgA64UntypedAtomic:    {scatter: true, a64: true, atomic: true},
	MsgScratchRead:         {block: true, scratch: true},
	MsgScratchWrite:        {block: true, scratch: true, write: true},
	MsgMediaBlockRead:      {block: true, media: true},
	MsgMediaBlockWrite:     {block: true, media: true, write: true},
}

// SendMsg is the decoded form of a send instruction's message descriptor.
//
// Descriptor layout:
//
//	Desc[7:0]    surface index (BTI)
//	Desc[9:8]    SIMD mode: 0 = SIMD16, 1 = SIMD8
//	Desc[11:10]  log2 of element size in bytes
//	Desc[13:12]  number of elements - 1
//	Desc[18:14]  message type
//	Desc[19]     header present
//	Desc[24:20]  response length
//	Desc[28:25]  message length (src0 registers)
//	ExDesc[3:0]  shared function id
//	ExDesc[10:6] extended message length (src1 registers)
type SendMsg struct {
	valid bool

	sfid        uint8
	msgType     MsgType
	bti         uint8
	simdWidth   uint8
	elementSize uint8
	numElements uint8
	header      bool
	src0Length  uint8
	src1Length  uint8
	execSize    uint8
	chanOffset  uint8
	eot         bool

	src0 RegNum
	src1 RegNum

	addrPayloadLength uint8
	info              msgTypeInfo
}

// DecodeSendMsg decodes the message of a send instruction. Instructions that are no
// sends, or whose descriptor does not describe a data port memory message, yield a message
// with IsValid() == false. The surface index and register operands are decoded regardless,
// so that end-of-thread sends can still be classified.
func DecodeSendMsg(ins *Instruction, grfRegSize uint32) SendMsg {
	desc, exDesc := ins.Desc, ins.ExDesc
	msg := SendMsg{
		sfid:        uint8(exDesc & 0xF),
		msgType:     MsgType((desc >> 14) & 0x1F),
		bti:         uint8(desc & 0xFF),
		simdWidth:   16,
		elementSize: uint8(1) << ((desc >> 10) & 0x3),
		numElements: uint8((desc>>12)&0x3) + 1,
		header:      desc&(1<<19) != 0,
		src0Length:  uint8((desc >> 25) & 0xF),
		src1Length:  uint8((exDesc >> 6) & 0x1F),
		execSize:    ins.ExecSize,
		chanOffset:  ins.ChannelOffset,
		eot:         ins.EOT,
		src0:        ins.Src0,
		src1:        ins.Src1,
	}
	if (desc>>8)&0x3 == 1 {
		msg.simdWidth = 8
	}
	if !ins.IsSend() {
		return msg
	}
	switch msg.sfid {
	case SFIDDataPort0, SFIDDataPort1, SFIDDataPortRO:
	default:
		return msg
	}
	info, ok := msgTypes[msg.msgType]
	if !ok {
		return msg
	}
	msg.info = info
	msg.addrPayloadLength = msg.computeAddrPayloadLength(grfRegSize)
	if msg.addrPayloadLength == 0 ||
		uint32(msg.addrPayloadLength) > uint32(msg.src0Length)+uint32(msg.src1Length) {
		return msg
	}
	msg.valid = true
	return msg
}

func (m *SendMsg) computeAddrPayloadLength(grfRegSize uint32) uint8 {
	if m.info.block {
		// Block messages carry their offset in a single header register.
		return 1
	}
	addrBytes := uint32(4)
	if m.info.a64 {
		addrBytes = 8
	}
	if grfRegSize == 0 {
		return 0
	}
	n := (uint32(m.simdWidth)*addrBytes + grfRegSize - 1) / grfRegSize
	if m.header {
		n++
	}
	return uint8(n)
}

// IsValid returns true if the descriptor decoded to a data port memory message.
func (m *SendMsg) IsValid() bool { return m.valid }

// IsWrite returns true for messages that store to memory.
func (m *SendMsg) IsWrite() bool { return m.info.write }

// IsScatter returns true for per-lane addressed messages.
func (m *SendMsg) IsScatter() bool { return m.info.scatter }

// IsAtomic returns true for atomic read-modify-write messages.
func (m *SendMsg) IsAtomic() bool { return m.info.atomic }

// IsA64 returns true for messages with 64-bit addresses.
func (m *SendMsg) IsA64() bool { return m.info.a64 }

// IsScratch returns true for scratch space messages.
func (m *SendMsg) IsScratch() bool { return m.info.scratch }

// IsMedia returns true for media block messages.
func (m *SendMsg) IsMedia() bool { return m.info.media }

// IsSLM returns true if the message targets shared local memory.
func (m *SendMsg) IsSLM() bool { return m.bti == BTISLM }

// IsBTS returns true if the message addresses a binding table surface.
func (m *SendMsg) IsBTS() bool { return m.bti < BTIMaxSurface && !m.info.scratch }

// IsDP1 returns true if the message goes to the second data port.
func (m *SendMsg) IsDP1() bool { return m.sfid == SFIDDataPort1 }

// IsEOT returns true if the send terminates the thread.
func (m *SendMsg) IsEOT() bool { return m.eot }

// BTI returns the surface index.
func (m *SendMsg) BTI() uint8 { return m.bti }

// SimdWidth returns 8 or 16.
func (m *SendMsg) SimdWidth() uint8 { return m.simdWidth }

// ElementSize returns the size of one data element in bytes.
func (m *SendMsg) ElementSize() uint8 { return m.elementSize }

// NumElements returns the number of data elements per lane.
func (m *SendMsg) NumElements() uint8 { return m.numElements }

// AddrPayloadLength returns the number of registers holding the address payload.
func (m *SendMsg) AddrPayloadLength() uint8 { return m.addrPayloadLength }

// Src0 returns the first register of the src0 range.
func (m *SendMsg) Src0() RegNum { return m.src0 }

// Src1 returns the first register of the src1 range, InvalidReg if absent.
func (m *SendMsg) Src1() RegNum { return m.src1 }

// Src0Length returns the number of registers in the src0 range.
func (m *SendMsg) Src0Length() uint8 { return m.src0Length }

// Src1Length returns the number of registers in the src1 range.
func (m *SendMsg) Src1Length() uint8 { return m.src1Length }

// ExecSize returns the execution size of the instruction.
func (m *SendMsg) ExecSize() uint8 { return m.execSize }

// ChannelOffset returns the first channel the instruction operates on.
func (m *SendMsg) ChannelOffset() uint8 { return m.chanOffset }

// MsgType returns the data port message type.
func (m *SendMsg) MsgType() MsgType { return m.msgType }

// EncodeDesc assembles message descriptors from their fields. It is the inverse of the
// decoding done by DecodeSendMsg and is used to build kernels from textual descriptions.
func EncodeDesc(sfid uint8, msgType MsgType, bti uint8, simd8 bool, elemSizeLog2, numElems,
	src0Len, src1Len, respLen uint8, header bool) (desc, exDesc uint32) {
	desc = uint32(bti)
	if simd8 {
		desc |= 1 << 8
	}
	desc |= uint32(elemSizeLog2&0x3) << 10
	if numElems > 0 {
		desc |= uint32((numElems-1)&0x3) << 12
	}
	desc |= uint32(msgType&0x1F) << 14
	if header {
		desc |= 1 << 19
	}
	desc |= uint32(respLen&0x1F) << 20
	desc |= uint32(src0Len&0xF) << 25
	exDesc = uint32(sfid&0xF) | uint32(src1Len&0x1F)<<6
	return desc, exDesc
}
