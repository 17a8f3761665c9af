// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel models a GPU kernel build as seen by the trace capture: the generation it
// was compiled for, its regions of straight-line control flow and the instructions in them.
// The model is what an instrumentation engine exposes for a kernel build.
package kernel // import "go.opentelemetry.io/gpu-memtrace/kernel"

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// ID uniquely identifies a kernel build within a process.
type ID uint64

// RegionID identifies a region (basic block) within one kernel build.
type RegionID uint16

// InsID identifies an instruction within one kernel build.
type InsID uint32

// RegNum is a general register file register number.
type RegNum int16

// InvalidReg marks an absent register operand.
const InvalidReg RegNum = -1

// IsValid returns true if r names a register.
func (r RegNum) IsValid() bool {
	return r >= 0
}

// Opcode is the subset of opcodes the capture distinguishes.
type Opcode uint8

const (
	OpOther Opcode = iota
	OpSend
	OpSendc
)

// Instruction is a single machine instruction of a kernel build.
type Instruction struct {
	ID     InsID
	Offset uint32
	Opcode Opcode
	// Desc and ExDesc are the raw message descriptors of send instructions.
	Desc   uint32
	ExDesc uint32
	Src0   RegNum
	Src1   RegNum
	// ExecSize is the number of channels the instruction executes on.
	ExecSize      uint8
	ChannelOffset uint8
	EOT           bool
	Asm           string
}

// IsSend returns true if the instruction sends a message to a shared function.
func (ins *Instruction) IsSend() bool {
	return ins.Opcode == OpSend || ins.Opcode == OpSendc
}

// Region is a maximal sequence of instructions with a single entry and a single exit.
type Region struct {
	ID           RegionID
	IsEntry      bool
	Instructions []*Instruction
}

// Kernel is one build of a GPU kernel.
type Kernel struct {
	ID       ID
	Name     string
	Platform string
	Model    *GenModel
	// SIMDWidth is the dispatch width the kernel was compiled for.
	SIMDWidth uint8
	Regions   []*Region

	insByID map[InsID]*Instruction
}

// New creates a kernel build and indexes its instructions.
func New(id ID, name, platform string, model *GenModel, simdWidth uint8,
	regions []*Region) (*Kernel, error) {
	k := &Kernel{
		ID:        id,
		Name:      name,
		Platform:  platform,
		Model:     model,
		SIMDWidth: simdWidth,
		Regions:   regions,
		insByID:   make(map[InsID]*Instruction),
	}
	seenRegions := make(map[RegionID]struct{}, len(regions))
	for _, r := range regions {
		if _, ok := seenRegions[r.ID]; ok {
			return nil, fmt.Errorf("kernel %s: duplicate region %d", name, r.ID)
		}
		seenRegions[r.ID] = struct{}{}
		for _, ins := range r.Instructions {
			if _, ok := k.insByID[ins.ID]; ok {
				return nil, fmt.Errorf("kernel %s: duplicate instruction %d", name, ins.ID)
			}
			k.insByID[ins.ID] = ins
		}
	}
	return k, nil
}

// Instruction looks up an instruction by its id.
func (k *Kernel) Instruction(id InsID) (*Instruction, bool) {
	ins, ok := k.insByID[id]
	return ins, ok
}

// Region looks up a region by its id.
func (k *Kernel) Region(id RegionID) (*Region, bool) {
	for _, r := range k.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Hash returns a 64-bit hash over the kernel's code, stable across processes.
func (k *Kernel) Hash() uint64 {
	h := xxh3.New()
	var buf [24]byte
	for _, r := range k.Regions {
		binary.LittleEndian.PutUint16(buf[0:], uint16(r.ID))
		_, _ = h.Write(buf[:2])
		for _, ins := range r.Instructions {
			binary.LittleEndian.PutUint32(buf[0:], ins.Offset)
			binary.LittleEndian.PutUint32(buf[4:], uint32(ins.Opcode))
			binary.LittleEndian.PutUint32(buf[8:], ins.Desc)
			binary.LittleEndian.PutUint32(buf[12:], ins.ExDesc)
			binary.LittleEndian.PutUint16(buf[16:], uint16(ins.Src0))
			binary.LittleEndian.PutUint16(buf[18:], uint16(ins.Src1))
			buf[20] = ins.ExecSize
			buf[21] = ins.ChannelOffset
			buf[22] = 0
			if ins.EOT {
				buf[22] = 1
			}
			buf[23] = 0
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// ExtendedName returns the identity under which measurements of this kernel are stored.
// Builds with the same name but a different dispatch width or code get distinct names.
func (k *Kernel) ExtendedName() string {
	return fmt.Sprintf("%s___SIMD%d_%s_%016x", k.Name, k.SIMDWidth, k.Model.Name, k.Hash())
}

// AsmText returns the disassembly of the kernel, one instruction per line.
func (k *Kernel) AsmText() string {
	var sb strings.Builder
	for _, r := range k.Regions {
		fmt.Fprintf(&sb, "// BBL %d\n", r.ID)
		for _, ins := range r.Instructions {
			fmt.Fprintf(&sb, "/* [%08x] */ %s\n", ins.Offset, ins.Asm)
		}
	}
	return sb.String()
}

// NormalizeFilename replaces characters that are not safe in path components.
func NormalizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
