// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package decoder replays raw trace buffers, groups their records by hardware thread and
// serializes the result into trace artifacts.
package decoder // import "go.opentelemetry.io/gpu-memtrace/decoder"

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/capture"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

// ErrUnknownRegion is returned when a record refers to a region the kernel build has no
// static access information for. The trace does not belong to the build.
var ErrUnknownRegion = errors.New("record of unknown region")

// Record is one decoded trace record.
type Record struct {
	RegionID kernel.RegionID
	// ExecMask is the set of channels that were enabled and dispatched.
	ExecMask uint32
	// Payload holds the address payload registers verbatim.
	Payload []byte
}

// ThreadTrace holds the records of one hardware thread in buffer allocation order.
type ThreadTrace struct {
	TID      uint32
	Location record.ThreadLocation
	Records  []Record
}

// Trace is the decoded form of one captured dispatch.
type Trace struct {
	// Threads holds all threads with at least one record, ordered by thread id.
	Threads []*ThreadTrace
	// NumRecords is the number of decoded records of all threads.
	NumRecords int
	// DroppedBytes is the size of the partial record at the end of the buffer.
	DroppedBytes uint64
	Truncated    bool
}

// Demux splits the raw trace of inst into per thread record sequences. Record sizes are
// taken from info. A trailing partial record is dropped, an unknown region id fails the
// whole trace.
func Demux(inst *capture.Instance, info *analyzer.ProgramAccessInfo,
	model *kernel.GenModel) (*Trace, error) {
	data := inst.Bytes()
	size := uint64(len(data))
	sra := model.StateRegAccessor()
	alignedHeaderSize := uint64(info.AlignedHeaderSize())

	trace := &Trace{Truncated: inst.Truncated()}
	threads := make(map[uint32]*ThreadTrace)

	offs := uint64(0)
	for {
		h, ok := record.ParseHeader(data, offs)
		if !ok {
			break
		}
		region, ok := info.Region(h.RegionID)
		if !ok {
			return nil, fmt.Errorf("region %d at offset %d: %w", h.RegionID, offs,
				ErrUnknownRegion)
		}
		recordSize := uint64(region.RecordSize)
		if offs+recordSize > size {
			break
		}

		tid := sra.GlobalTID(h.StateReg)
		tt, ok := threads[tid]
		if !ok {
			tt = &ThreadTrace{TID: tid, Location: record.Locate(sra, tid)}
			threads[tid] = tt
		}
		tt.Records = append(tt.Records, Record{
			RegionID: h.RegionID,
			ExecMask: h.ExecMask(),
			Payload:  data[offs+alignedHeaderSize : offs+recordSize],
		})
		trace.NumRecords++
		offs += recordSize
	}
	trace.DroppedBytes = size - offs

	trace.Threads = make([]*ThreadTrace, 0, len(threads))
	for _, tt := range threads {
		trace.Threads = append(trace.Threads, tt)
	}
	slices.SortFunc(trace.Threads, func(a, b *ThreadTrace) int {
		return cmp.Compare(a.TID, b.TID)
	})
	return trace, nil
}
