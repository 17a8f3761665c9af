// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package decoder // import "go.opentelemetry.io/gpu-memtrace/decoder"

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
)

var (
	// ErrShortArtifact is returned when an artifact ends before its last element.
	ErrShortArtifact = errors.New("artifact is truncated")
	// ErrNotArtifact is returned for input that does not start with the artifact magic.
	ErrNotArtifact = errors.New("not a trace artifact")
)

// Limits applied while parsing, so that corrupt counts fail early instead of allocating
// unbounded memory.
const (
	maxRegions      = 1 << 16
	maxInstructions = 1 << 20
	maxThreads      = 1 << 24
	maxGRFRegSize   = 64
)

// ArtifactRegion is the static description of a region stored in an artifact.
type ArtifactRegion struct {
	ID           kernel.RegionID
	Instructions []record.InstructionDescriptor
}

// Artifact is a parsed trace artifact. Its threads carry their Location only, the TID field
// is left zero since the artifact does not name the generation needed to compose it.
type Artifact struct {
	Version           uint32
	GRFRegSize        uint32
	AlignedHeaderSize uint32
	Regions           []ArtifactRegion
	Threads           []*ThreadTrace

	regionByID map[kernel.RegionID]*ArtifactRegion
}

// Region looks up a region of the artifact.
func (a *Artifact) Region(id kernel.RegionID) (*ArtifactRegion, bool) {
	r, ok := a.regionByID[id]
	return r, ok
}

// NumRecords returns the number of records of all threads.
func (a *Artifact) NumRecords() int {
	n := 0
	for _, tt := range a.Threads {
		n += len(tt.Records)
	}
	return n
}

type artifactReader struct {
	r   *bufio.Reader
	err error
	buf [4]byte
}

func (ar *artifactReader) fail(err error) {
	if ar.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrShortArtifact
	}
	ar.err = err
}

func (ar *artifactReader) u32() uint32 {
	if ar.err != nil {
		return 0
	}
	if _, err := io.ReadFull(ar.r, ar.buf[:]); err != nil {
		ar.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(ar.buf[:])
}

func (ar *artifactReader) bytes(n uint64) []byte {
	if ar.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(ar.r, b); err != nil {
		ar.fail(err)
		return nil
	}
	return b
}

func (ar *artifactReader) count(what string, limit uint32) uint32 {
	n := ar.u32()
	if ar.err == nil && n > limit {
		ar.err = fmt.Errorf("%s count %d exceeds %d", what, n, limit)
		return 0
	}
	return n
}

// ReadArtifact parses an artifact written by WriteArtifact.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	ar := &artifactReader{r: bufio.NewReader(r)}

	magic := ar.bytes(uint64(len(Magic)))
	if ar.err != nil {
		return nil, ar.err
	}
	if string(magic) != Magic {
		return nil, ErrNotArtifact
	}
	a := &Artifact{
		Version:           ar.u32(),
		GRFRegSize:        ar.u32(),
		AlignedHeaderSize: ar.u32(),
		regionByID:        make(map[kernel.RegionID]*ArtifactRegion),
	}
	if ar.err == nil && a.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if ar.err == nil && (a.GRFRegSize == 0 || a.GRFRegSize > maxGRFRegSize) {
		return nil, fmt.Errorf("register size %d out of range (1..%d): %w",
			a.GRFRegSize, maxGRFRegSize, ErrNotArtifact)
	}

	payloadSizes := make(map[kernel.RegionID]uint64)
	numRegions := ar.count("region", maxRegions)
	a.Regions = make([]ArtifactRegion, 0, numRegions)
	for i := uint32(0); i < numRegions && ar.err == nil; i++ {
		region := ArtifactRegion{ID: kernel.RegionID(ar.u32())}
		numIns := ar.count("instruction", maxInstructions)
		for j := uint32(0); j < numIns && ar.err == nil; j++ {
			packed := ar.bytes(record.DescriptorSize)
			if ar.err != nil {
				break
			}
			desc, _ := record.UnpackDescriptor(packed)
			region.Instructions = append(region.Instructions, desc)
		}
		payloadSizes[region.ID] = payloadSize(region.Instructions, a.GRFRegSize)
		a.Regions = append(a.Regions, region)
	}
	for i := range a.Regions {
		a.regionByID[a.Regions[i].ID] = &a.Regions[i]
	}

	numThreads := ar.count("thread", maxThreads)
	for i := uint32(0); i < numThreads && ar.err == nil; i++ {
		var fields [5]uint32
		for j := range fields {
			fields[j] = ar.u32()
		}
		tt := &ThreadTrace{Location: record.LocationFromFields(fields)}
		numRecords := ar.u32()
		for j := uint32(0); j < numRecords && ar.err == nil; j++ {
			rec := Record{
				RegionID: kernel.RegionID(ar.u32()),
				ExecMask: ar.u32(),
			}
			if ar.err != nil {
				break
			}
			size, ok := payloadSizes[rec.RegionID]
			if !ok {
				return nil, fmt.Errorf("thread %d record %d: region %d: %w", i, j,
					rec.RegionID, ErrUnknownRegion)
			}
			rec.Payload = ar.bytes(size)
			tt.Records = append(tt.Records, rec)
		}
		a.Threads = append(a.Threads, tt)
	}
	if ar.err != nil {
		return nil, ar.err
	}
	return a, nil
}
