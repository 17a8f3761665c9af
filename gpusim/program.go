// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package gpusim // import "go.opentelemetry.io/gpu-memtrace/gpusim"

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/gpu-memtrace/instrument"
	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// AddressPattern synthesizes the addresses a memory instruction accesses. Lane l of
// software thread t accesses Base + l*LaneStride + t*ThreadStride, reduced modulo Wrap if
// Wrap is not zero.
type AddressPattern struct {
	Base         uint64
	LaneStride   uint64
	ThreadStride uint64
	Wrap         uint64
}

// defaultPattern is used for memory instructions without an explicit pattern.
var defaultPattern = AddressPattern{LaneStride: 4}

// Address returns the address of a lane of a thread.
func (p *AddressPattern) Address(thread, lane uint64) uint64 {
	addr := p.Base + lane*p.LaneStride + thread*p.ThreadStride
	if p.Wrap != 0 {
		addr %= p.Wrap
	}
	return addr
}

// Program is a kernel build loaded on the device. It implements instrument.Engine.
type Program struct {
	build    *kernel.Kernel
	msgs     map[kernel.InsID]kernel.SendMsg
	patterns map[kernel.InsID]AddressPattern

	mu    sync.RWMutex
	procs map[kernel.InsID]instrument.Procedure
}

var _ instrument.Engine = (*Program)(nil)

func newProgram(k *kernel.Kernel, patterns map[kernel.InsID]AddressPattern) (*Program, error) {
	p := &Program{
		build:    k,
		msgs:     make(map[kernel.InsID]kernel.SendMsg),
		patterns: make(map[kernel.InsID]AddressPattern, len(patterns)),
		procs:    make(map[kernel.InsID]instrument.Procedure),
	}
	for id, pattern := range patterns {
		if _, ok := k.Instruction(id); !ok {
			return nil, fmt.Errorf("kernel %s: address pattern for unknown instruction %d",
				k.Name, id)
		}
		p.patterns[id] = pattern
	}
	for _, region := range k.Regions {
		for _, ins := range region.Instructions {
			if !ins.IsSend() {
				continue
			}
			if msg := kernel.DecodeSendMsg(ins, k.Model.GRFRegSize); msg.IsValid() {
				p.msgs[ins.ID] = msg
			}
		}
	}
	return p, nil
}

// Build returns the kernel build of the program.
func (p *Program) Build() *kernel.Kernel {
	return p.build
}

// InstrumentBefore inserts proc before an instruction. Procedures inserted before the same
// instruction run in insertion order.
func (p *Program) InstrumentBefore(ins kernel.InsID, proc instrument.Procedure) error {
	if _, ok := p.build.Instruction(ins); !ok {
		return fmt.Errorf("no instruction %d in kernel %s", ins, p.build.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.procs[ins] = append(p.procs[ins], proc...)
	return nil
}

// Instrumented returns the number of instrumented instructions.
func (p *Program) Instrumented() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.procs)
}

// Uninstrument removes all inserted procedures.
func (p *Program) Uninstrument() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.procs)
}

// procedures returns a snapshot of the inserted procedures.
func (p *Program) procedures() map[kernel.InsID]instrument.Procedure {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[kernel.InsID]instrument.Procedure, len(p.procs))
	for id, proc := range p.procs {
		out[id] = proc
	}
	return out
}

func (p *Program) pattern(id kernel.InsID) AddressPattern {
	if pattern, ok := p.patterns[id]; ok {
		return pattern
	}
	return defaultPattern
}
