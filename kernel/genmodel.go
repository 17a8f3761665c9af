// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "go.opentelemetry.io/gpu-memtrace/kernel"

import (
	"fmt"
	"strings"
)

// GenID identifies a GPU generation.
type GenID uint32

const (
	GenUnknown GenID = iota
	Gen9
	Gen12
	XeHPC
)

// BitField describes a contiguous bit range inside a 32-bit state register.
// A zero Width marks a field the hardware generation does not have.
type BitField struct {
	Shift uint8
	Width uint8
}

// IsEmpty returns true if the field is not present in the state register.
func (f BitField) IsEmpty() bool {
	return f.Width == 0
}

func (f BitField) mask() uint32 {
	return (uint32(1) << f.Width) - 1
}

// Value extracts the field from sr0.
func (f BitField) Value(sr0 uint32) uint32 {
	return (sr0 >> f.Shift) & f.mask()
}

// Set stores v into the field of sr0 and returns the updated register value.
func (f BitField) Set(sr0, v uint32) uint32 {
	m := f.mask() << f.Shift
	return (sr0 &^ m) | ((v << f.Shift) & m)
}

// StateRegAccessor maps the hardware thread location fields of the sr0 state register to
// a dense global thread index and back. Fields are ordered from the outermost level of the
// execution unit hierarchy to the innermost.
type StateRegAccessor struct {
	Slice        BitField
	DualSubSlice BitField
	SubSlice     BitField
	EU           BitField
	ThreadSlot   BitField
}

// Fields returns the hierarchy fields, outermost first.
func (a *StateRegAccessor) Fields() [5]BitField {
	return [5]BitField{a.Slice, a.DualSubSlice, a.SubSlice, a.EU, a.ThreadSlot}
}

// MaxThreads returns the number of distinct global thread ids.
func (a *StateRegAccessor) MaxThreads() uint32 {
	bits := uint32(0)
	for _, f := range a.Fields() {
		bits += uint32(f.Width)
	}
	return uint32(1) << bits
}

// GlobalTID derives the dense global thread id from a raw sr0 snapshot.
func (a *StateRegAccessor) GlobalTID(sr0 uint32) uint32 {
	tid := uint32(0)
	for _, f := range a.Fields() {
		if f.IsEmpty() {
			continue
		}
		tid = (tid << f.Width) | f.Value(sr0)
	}
	return tid
}

// SetGlobalTID is the inverse of GlobalTID: it stores the hierarchy fields of tid into sr0.
func (a *StateRegAccessor) SetGlobalTID(sr0, tid uint32) uint32 {
	fields := a.Fields()
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if f.IsEmpty() {
			continue
		}
		sr0 = f.Set(sr0, tid&f.mask())
		tid >>= f.Width
	}
	return sr0
}

// GenModel describes the properties of a GPU generation the capture depends on.
type GenModel struct {
	ID   GenID
	Name string
	// GRFRegSize is the size of one general register file register in bytes.
	GRFRegSize uint32
	// HeaderAlign is the alignment of trace record headers in the buffer.
	HeaderAlign uint32

	sra StateRegAccessor
}

// StateRegAccessor returns the sr0 layout of the generation.
func (m *GenModel) StateRegAccessor() *StateRegAccessor {
	return &m.sra
}

// MaxThreads returns the maximum number of hardware threads of the generation.
func (m *GenModel) MaxThreads() uint32 {
	return m.sra.MaxThreads()
}

func (m *GenModel) String() string {
	return m.Name
}

// NewGenModel creates a custom generation model. It is mostly useful for tests.
func NewGenModel(name string, grfRegSize, headerAlign uint32, sra StateRegAccessor) *GenModel {
	return &GenModel{
		ID:          GenUnknown,
		Name:        name,
		GRFRegSize:  grfRegSize,
		HeaderAlign: headerAlign,
		sra:         sra,
	}
}

var models = map[GenID]*GenModel{
	Gen9: {
		ID:          Gen9,
		Name:        "gen9",
		GRFRegSize:  32,
		HeaderAlign: 16,
		sra: StateRegAccessor{
			Slice:      BitField{Shift: 14, Width: 2},
			SubSlice:   BitField{Shift: 12, Width: 2},
			EU:         BitField{Shift: 8, Width: 4},
			ThreadSlot: BitField{Shift: 0, Width: 3},
		},
	},
	Gen12: {
		ID:          Gen12,
		Name:        "gen12",
		GRFRegSize:  32,
		HeaderAlign: 16,
		sra: StateRegAccessor{
			Slice:        BitField{Shift: 13, Width: 3},
			DualSubSlice: BitField{Shift: 9, Width: 3},
			SubSlice:     BitField{Shift: 8, Width: 1},
			EU:           BitField{Shift: 4, Width: 3},
			ThreadSlot:   BitField{Shift: 0, Width: 3},
		},
	},
	XeHPC: {
		ID:          XeHPC,
		Name:        "xehpc",
		GRFRegSize:  64,
		HeaderAlign: 16,
		sra: StateRegAccessor{
			Slice:      BitField{Shift: 11, Width: 3},
			SubSlice:   BitField{Shift: 6, Width: 4},
			EU:         BitField{Shift: 3, Width: 3},
			ThreadSlot: BitField{Shift: 0, Width: 3},
		},
	},
}

// Model returns the predefined model of a generation.
func Model(id GenID) (*GenModel, error) {
	m, ok := models[id]
	if !ok {
		return nil, fmt.Errorf("unknown GPU generation %d", id)
	}
	return m, nil
}

// ParseGenID parses a generation name such as "gen9".
func ParseGenID(name string) (GenID, error) {
	for id, m := range models {
		if strings.EqualFold(m.Name, name) {
			return id, nil
		}
	}
	return GenUnknown, fmt.Errorf("unknown GPU generation '%s'", name)
}
