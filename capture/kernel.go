// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capture // import "go.opentelemetry.io/gpu-memtrace/capture"

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

// Kernel is the capture state of one kernel build.
type Kernel struct {
	build    *kernel.Kernel
	identity string
	access   *analyzer.ProgramAccessInfo
	buf      *tracebuf.Buffer

	collection Collection
	dispatches uint32
}

// NewKernel analyses a kernel build and allocates its trace buffer of capacity bytes. Builds
// without traced instructions get no buffer and are not traced.
func NewKernel(k *kernel.Kernel, capacity uint32) (*Kernel, error) {
	ck := &Kernel{
		build:    k,
		identity: k.ExtendedName(),
		access:   analyzer.Build(k),
	}
	if ck.access.NumRegions() == 0 {
		return ck, nil
	}
	buf, err := tracebuf.New(capacity, ck.access.MaxRecordSize())
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", k.Name, err)
	}
	ck.buf = buf
	return ck, nil
}

// Build returns the kernel build.
func (k *Kernel) Build() *kernel.Kernel {
	return k.build
}

// Name returns the kernel name.
func (k *Kernel) Name() string {
	return k.build.Name
}

// Identity returns the extended kernel name used as key of learned weights.
func (k *Kernel) Identity() string {
	return k.identity
}

// Platform returns the platform the kernel was built for.
func (k *Kernel) Platform() string {
	return k.build.Platform
}

// Model returns the generation model of the build.
func (k *Kernel) Model() *kernel.GenModel {
	return k.build.Model
}

// AccessInfo returns the static access information of the build.
func (k *Kernel) AccessInfo() *analyzer.ProgramAccessInfo {
	return k.access
}

// AsmText returns the disassembly of the build.
func (k *Kernel) AsmText() string {
	return k.build.AsmText()
}

// Enabled returns true if dispatches of the build are traced.
func (k *Kernel) Enabled() bool {
	return k.buf != nil
}

// Buffer returns the trace buffer, or nil if the build is not traced.
func (k *Kernel) Buffer() *tracebuf.Buffer {
	return k.buf
}

// Collection returns the captured dispatches.
func (k *Kernel) Collection() *Collection {
	return &k.collection
}

// OnRun prepares the trace buffer for a new dispatch and returns the dispatch ordinal.
func (k *Kernel) OnRun() uint32 {
	if k.buf != nil {
		k.buf.Reset()
	}
	n := k.dispatches
	k.dispatches++
	return n
}

// OnComplete captures the trace of the dispatch that just completed.
func (k *Kernel) OnComplete(desc kernel.ExecDescriptor) (*Instance, error) {
	if k.buf == nil {
		return nil, fmt.Errorf("kernel %s is not traced", k.build.Name)
	}
	return k.collection.Add(desc, k.buf), nil
}

// Close releases the trace buffer. Captured instances stay valid.
func (k *Kernel) Close() error {
	if k.buf == nil {
		return nil
	}
	return k.buf.Close()
}

// Registry holds the capture state of all kernel builds of the process.
type Registry struct {
	kernels map[kernel.ID]*Kernel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[kernel.ID]*Kernel)}
}

// Add registers a kernel build. It returns false if a build with the same id exists.
func (r *Registry) Add(k *Kernel) bool {
	id := k.build.ID
	if _, ok := r.kernels[id]; ok {
		return false
	}
	r.kernels[id] = k
	return true
}

// Get looks up a kernel build.
func (r *Registry) Get(id kernel.ID) (*Kernel, bool) {
	k, ok := r.kernels[id]
	return k, ok
}

// Kernels returns all registered builds ordered by id.
func (r *Registry) Kernels() []*Kernel {
	out := make([]*Kernel, 0, len(r.kernels))
	for _, k := range r.kernels {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b *Kernel) int {
		return cmp.Compare(a.build.ID, b.build.ID)
	})
	return out
}

// Close releases the trace buffers of all builds.
func (r *Registry) Close() error {
	var errs []error
	for _, k := range r.kernels {
		errs = append(errs, k.Close())
	}
	return errors.Join(errs...)
}
