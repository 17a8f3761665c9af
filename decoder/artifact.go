// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package decoder // import "go.opentelemetry.io/gpu-memtrace/decoder"

import (
	"bufio"
	"encoding/binary"
	"io"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

// Magic starts every trace artifact.
const Magic = "MEMTRACE"

// FormatVersion is the version of the artifact layout written by WriteArtifact.
const FormatVersion = 1

// ArtifactName is the file name of the artifact of one dispatch.
const ArtifactName = "memtrace.bin"

// Artifact layout, all integers little-endian u32:
//
//	preamble   magic[8] version grfRegSize alignedHeaderSize
//	regions    count, per region: id, instruction count, packed descriptors
//	threads    count, per thread: slice dss subslice eu slot, record count,
//	           per record: region id, exec mask, payload bytes
//
// The payload size of a record is the sum of the address payload lengths of its region's
// instructions times grfRegSize.

type artifactWriter struct {
	w   *bufio.Writer
	err error
	buf [4]byte
}

func (aw *artifactWriter) u32(v uint32) {
	if aw.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(aw.buf[:], v)
	_, aw.err = aw.w.Write(aw.buf[:])
}

func (aw *artifactWriter) bytes(b []byte) {
	if aw.err != nil {
		return
	}
	_, aw.err = aw.w.Write(b)
}

// WriteArtifact serializes the static access information of the build and the decoded
// trace of one dispatch.
func WriteArtifact(w io.Writer, info *analyzer.ProgramAccessInfo, trace *Trace,
	model *kernel.GenModel) error {
	aw := &artifactWriter{w: bufio.NewWriter(w)}

	aw.bytes([]byte(Magic))
	aw.u32(FormatVersion)
	aw.u32(model.GRFRegSize)
	aw.u32(info.AlignedHeaderSize())

	ids := info.RegionIDs()
	aw.u32(uint32(len(ids)))
	for _, id := range ids {
		region, _ := info.Region(id)
		aw.u32(uint32(id))
		aw.u32(uint32(len(region.Instructions)))
		for i := range region.Instructions {
			packed := region.Instructions[i].Descriptor().Pack()
			aw.bytes(packed[:])
		}
	}

	aw.u32(uint32(len(trace.Threads)))
	for _, tt := range trace.Threads {
		for _, f := range tt.Location.Fields() {
			aw.u32(f)
		}
		aw.u32(uint32(len(tt.Records)))
		for _, r := range tt.Records {
			aw.u32(uint32(r.RegionID))
			aw.u32(r.ExecMask)
			aw.bytes(r.Payload)
		}
	}

	if aw.err != nil {
		return aw.err
	}
	return aw.w.Flush()
}

// payloadSize returns the payload bytes of a record of a region with the given
// descriptors.
func payloadSize(descs []record.InstructionDescriptor, grfRegSize uint32) uint64 {
	n := uint64(0)
	for i := range descs {
		n += uint64(descs[i].AddrPayloadLength) * uint64(grfRegSize)
	}
	return n
}
