// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrument // import "go.opentelemetry.io/gpu-memtrace/instrument"

import (
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

// Thread is the architectural state of a hardware thread that procedures read.
type Thread interface {
	StateReg() uint32
	ChannelEnable() uint16
	DispatchMask() uint16
	Flag(n int) uint16
	ControlReg() uint16
	// Register returns the content of a general register, GRFRegSize bytes long.
	Register(r kernel.RegNum) []byte
}

// Recorder executes procedures on behalf of one hardware thread. It holds the reservation
// of the record the thread is currently writing.
type Recorder struct {
	buf        *tracebuf.Buffer
	grfRegSize uint32
	cur        tracebuf.Reservation
	scratch    []byte
}

// NewRecorder returns a recorder appending to buf.
func NewRecorder(buf *tracebuf.Buffer, model *kernel.GenModel) *Recorder {
	return &Recorder{
		buf:        buf,
		grfRegSize: model.GRFRegSize,
		scratch: make([]byte, max(maxBlockRegs*model.GRFRegSize,
			record.AlignedHeaderSize(model))),
	}
}

// Run executes proc. Stores that belong to a rejected record are dropped.
func (r *Recorder) Run(proc Procedure, t Thread) {
	for _, op := range proc {
		switch op := op.(type) {
		case AllocRecord:
			r.allocRecord(op, t)
		case StoreRegs:
			r.storeRegs(op, t)
		}
	}
}

func (r *Recorder) allocRecord(op AllocRecord, t Thread) {
	h := record.Header{
		RegionID:      op.RegionID,
		Flag0:         t.Flag(0),
		StateReg:      t.StateReg(),
		ChannelEnable: t.ChannelEnable(),
		DispatchMask:  t.DispatchMask(),
		Flag1:         t.Flag(1),
	}
	if op.CaptureControl {
		h.Control = t.ControlReg()
	}
	r.cur = r.buf.Reserve(op.RecordSize)

	hdr := r.scratch[:max(op.HeaderSize, record.HeaderSize)]
	clear(hdr)
	h.Put(hdr)
	r.cur.Store(hdr)
}

func (r *Recorder) storeRegs(op StoreRegs, t Thread) {
	if !r.cur.Valid() {
		return
	}
	blk := r.scratch[:0]
	for i := uint32(0); i < op.Count; i++ {
		reg := t.Register(op.Reg + kernel.RegNum(i))
		blk = append(blk, reg[:r.grfRegSize]...)
	}
	r.cur.Store(blk)
}
