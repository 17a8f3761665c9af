// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gpusim simulates a GPU device running instrumented kernels. Every hardware thread
// of a dispatch runs on its own goroutine, executes the regions of its path, and runs the
// procedures inserted before an instruction right before the instruction would execute.
package gpusim // import "go.opentelemetry.io/gpu-memtrace/gpusim"

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/gpu-memtrace/instrument"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

// ErrNoBuffer is returned when an instrumented program is executed without a trace buffer.
var ErrNoBuffer = errors.New("instrumented program needs a trace buffer")

// Dispatch describes one kernel dispatch.
type Dispatch struct {
	Desc kernel.ExecDescriptor
	// Paths lists the region sequences the threads execute. Thread i runs
	// Paths[i % len(Paths)].
	Paths [][]kernel.RegionID
	// Control is the value of the control register of all threads.
	Control uint16
}

// Device runs dispatches of loaded programs.
type Device struct {
	parallelism int
}

// New creates a device that runs at most parallelism hardware threads at once. A value
// below one selects the number of CPUs.
func New(parallelism int) *Device {
	if parallelism < 1 {
		parallelism = runtime.NumCPU()
	}
	return &Device{parallelism: parallelism}
}

// Load loads a kernel build. patterns provides the addresses of memory instructions.
func (d *Device) Load(k *kernel.Kernel,
	patterns map[kernel.InsID]AddressPattern) (*Program, error) {
	return newProgram(k, patterns)
}

// threadShape is the number of threads of a dispatch and the lanes of its last thread.
func threadShape(k *kernel.Kernel, desc *kernel.ExecDescriptor) (threads uint64, lastLanes uint16) {
	simd := uint64(max(k.SIMDWidth, 1))
	items := uint64(desc.GlobalWorkSize[0]) * uint64(max(desc.GlobalWorkSize[1], 1)) *
		uint64(max(desc.GlobalWorkSize[2], 1))
	threads = (items + simd - 1) / simd
	lastLanes = uint16(simd)
	if rem := items % simd; rem != 0 {
		lastLanes = uint16(rem)
	}
	if desc.NumThreads != 0 && uint64(desc.NumThreads) != threads {
		threads = uint64(desc.NumThreads)
		lastLanes = uint16(simd)
	}
	return threads, lastLanes
}

func (d *Device) validate(p *Program, disp *Dispatch) error {
	if len(disp.Paths) == 0 {
		return fmt.Errorf("dispatch of kernel %s has no region path", p.build.Name)
	}
	for _, path := range disp.Paths {
		for _, id := range path {
			if _, ok := p.build.Region(id); !ok {
				return fmt.Errorf("dispatch path of kernel %s names unknown region %d",
					p.build.Name, id)
			}
		}
	}
	return nil
}

// run executes every thread of a dispatch. fn is called on each thread's goroutine.
func (d *Device) run(ctx context.Context, p *Program, disp *Dispatch,
	fn func(t *hwThread, path []*kernel.Region) error) error {
	if err := d.validate(p, disp); err != nil {
		return err
	}
	paths := make([][]*kernel.Region, len(disp.Paths))
	for i, path := range disp.Paths {
		for _, id := range path {
			r, _ := p.build.Region(id)
			paths[i] = append(paths[i], r)
		}
	}

	threads, lastLanes := threadShape(p.build, &disp.Desc)
	model := p.build.Model
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i := uint64(0); i < threads; i++ {
		if gctx.Err() != nil {
			break
		}
		lanes := uint16(p.build.SIMDWidth)
		if i == threads-1 {
			lanes = lastLanes
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := newHWThread(model, i, lanes, disp.Control)
			return fn(t, paths[i%uint64(len(paths))])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Measure runs a dispatch without instrumentation and returns how often each region
// executed, summed over all threads.
func (d *Device) Measure(ctx context.Context, p *Program,
	disp Dispatch) (map[kernel.RegionID]uint64, error) {
	var mu sync.Mutex
	counts := make(map[kernel.RegionID]uint64)
	err := d.run(ctx, p, &disp, func(_ *hwThread, path []*kernel.Region) error {
		local := make(map[kernel.RegionID]uint64, len(path))
		for _, r := range path {
			local[r.ID]++
		}
		mu.Lock()
		for id, n := range local {
			counts[id] += n
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Execute runs a dispatch with the inserted procedures appending to buf.
func (d *Device) Execute(ctx context.Context, p *Program, disp Dispatch,
	buf *tracebuf.Buffer) error {
	procs := p.procedures()
	if len(procs) != 0 && buf == nil {
		return fmt.Errorf("kernel %s: %w", p.build.Name, ErrNoBuffer)
	}
	err := d.run(ctx, p, &disp, func(t *hwThread, path []*kernel.Region) error {
		var rec *instrument.Recorder
		if buf != nil {
			rec = instrument.NewRecorder(buf, p.build.Model)
		}
		for _, r := range path {
			for _, ins := range r.Instructions {
				proc, ok := procs[ins.ID]
				if !ok {
					continue
				}
				if msg, ok := p.msgs[ins.ID]; ok {
					pattern := p.pattern(ins.ID)
					t.loadPayload(&msg, &pattern)
				}
				rec.Run(proc, t)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if buf != nil && buf.Truncated() {
		log.Debugf("Trace buffer of kernel %s overflowed at %d bytes",
			p.build.Name, buf.Size())
	}
	return nil
}
