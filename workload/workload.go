// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package workload loads descriptions of kernels and their dispatches. Descriptions are
// YAML or JSON documents, for example:
//
//	gen: gen9
//	platform: skl
//	kernels:
//	  - name: reduce
//	    simd: 16
//	    regions:
//	      - id: 0
//	        entry: true
//	        instructions:
//	          - kind: slm-read
//	            address: {base: 0, lane-stride: 4, thread-stride: 64}
//	          - kind: eot
//	    dispatches:
//	      - gws: [1024, 1, 1]
//	        lws: [64, 1, 1]
//	        paths: [[0]]
package workload // import "go.opentelemetry.io/gpu-memtrace/workload"

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"go.opentelemetry.io/gpu-memtrace/gpusim"
	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// Description is the serialized form of a workload.
type Description struct {
	Gen      string       `json:"gen"`
	Platform string       `json:"platform"`
	Kernels  []KernelDesc `json:"kernels"`
}

// KernelDesc describes one kernel build.
type KernelDesc struct {
	// ID defaults to the position of the kernel in the workload, starting at 1.
	ID         uint64         `json:"id,omitempty"`
	Name       string         `json:"name"`
	SIMD       uint8          `json:"simd,omitempty"`
	Regions    []RegionDesc   `json:"regions"`
	Dispatches []DispatchDesc `json:"dispatches"`
}

// RegionDesc describes one region of a kernel.
type RegionDesc struct {
	ID           uint16            `json:"id"`
	Entry        bool              `json:"entry,omitempty"`
	Instructions []InstructionDesc `json:"instructions"`
}

// InstructionDesc describes one instruction. Kind is one of the Kind* constants.
type InstructionDesc struct {
	Kind string `json:"kind"`
	// SIMD is the message width, 8 or 16. It defaults to the kernel's width.
	SIMD   uint8 `json:"simd,omitempty"`
	Header bool  `json:"header,omitempty"`
	// Src0Len splits the address payload between src0 and src1 if it is shorter than the
	// payload.
	Src0Len uint8        `json:"src0-len,omitempty"`
	Address *AddressDesc `json:"address,omitempty"`
}

// AddressDesc is the serialized form of gpusim.AddressPattern.
type AddressDesc struct {
	Base         uint64 `json:"base"`
	LaneStride   uint64 `json:"lane-stride"`
	ThreadStride uint64 `json:"thread-stride"`
	Wrap         uint64 `json:"wrap,omitempty"`
}

// DispatchDesc describes dispatches of a kernel.
type DispatchDesc struct {
	GWS     [3]uint32 `json:"gws"`
	LWS     [3]uint32 `json:"lws"`
	Offset  [3]uint32 `json:"offset,omitempty"`
	Threads uint32    `json:"threads,omitempty"`
	// Paths defaults to a single path through all regions in order.
	Paths   [][]uint16 `json:"paths,omitempty"`
	Control uint16     `json:"control,omitempty"`
	// Repeat runs the dispatch this many times, at least once.
	Repeat uint32 `json:"repeat,omitempty"`
}

// Kernel is a kernel build together with the dispatches to run.
type Kernel struct {
	Build      *kernel.Kernel
	Patterns   map[kernel.InsID]gpusim.AddressPattern
	Dispatches []gpusim.Dispatch
}

// Workload is a loaded workload.
type Workload struct {
	Model   *kernel.GenModel
	Kernels []*Kernel
}

// NumDispatches returns the number of dispatches of all kernels.
func (w *Workload) NumDispatches() int {
	n := 0
	for _, k := range w.Kernels {
		n += len(k.Dispatches)
	}
	return n
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload %q: %w", path, err)
	}
	w, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("workload %q: %w", path, err)
	}
	return w, nil
}

// Parse parses a YAML or JSON workload description.
func Parse(raw []byte) (*Workload, error) {
	var desc Description
	if err := yaml.UnmarshalStrict(raw, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return desc.Build()
}

// Build turns the description into kernel builds and dispatches.
func (d *Description) Build() (*Workload, error) {
	genName := d.Gen
	if genName == "" {
		genName = "gen9"
	}
	gen, err := kernel.ParseGenID(genName)
	if err != nil {
		return nil, err
	}
	model, err := kernel.Model(gen)
	if err != nil {
		return nil, err
	}
	if len(d.Kernels) == 0 {
		return nil, fmt.Errorf("no kernels")
	}

	w := &Workload{Model: model}
	ids := make(map[kernel.ID]struct{}, len(d.Kernels))
	for i := range d.Kernels {
		kd := &d.Kernels[i]
		if kd.ID == 0 {
			kd.ID = uint64(i + 1)
		}
		if _, ok := ids[kernel.ID(kd.ID)]; ok {
			return nil, fmt.Errorf("duplicate kernel id %d", kd.ID)
		}
		ids[kernel.ID(kd.ID)] = struct{}{}

		k, err := buildKernel(kd, d.Platform, model)
		if err != nil {
			return nil, fmt.Errorf("kernel %q: %w", kd.Name, err)
		}
		w.Kernels = append(w.Kernels, k)
	}
	return w, nil
}

func buildKernel(kd *KernelDesc, platform string, model *kernel.GenModel) (*Kernel, error) {
	if kd.Name == "" {
		return nil, fmt.Errorf("kernel without name")
	}
	simd := kd.SIMD
	if simd == 0 {
		simd = 16
	}
	if simd != 8 && simd != 16 {
		return nil, fmt.Errorf("unsupported SIMD width %d", simd)
	}
	if len(kd.Regions) == 0 {
		return nil, fmt.Errorf("no regions")
	}

	b := newBuilder(model, simd)
	regions := make([]*kernel.Region, 0, len(kd.Regions))
	for _, rd := range kd.Regions {
		region := &kernel.Region{ID: kernel.RegionID(rd.ID), IsEntry: rd.Entry}
		for j := range rd.Instructions {
			ins, err := b.instruction(&rd.Instructions[j])
			if err != nil {
				return nil, fmt.Errorf("region %d instruction %d: %w", rd.ID, j, err)
			}
			region.Instructions = append(region.Instructions, ins)
		}
		regions = append(regions, region)
	}
	build, err := kernel.New(kernel.ID(kd.ID), kd.Name, platform, model, simd, regions)
	if err != nil {
		return nil, err
	}

	k := &Kernel{Build: build, Patterns: b.patterns}
	for _, dd := range kd.Dispatches {
		disp := gpusim.Dispatch{
			Desc: kernel.ExecDescriptor{
				GlobalWorkSize: dd.GWS,
				LocalWorkSize:  dd.LWS,
				GlobalOffset:   dd.Offset,
				NumThreads:     dd.Threads,
			},
			Control: dd.Control,
		}
		for _, path := range dd.Paths {
			p := make([]kernel.RegionID, 0, len(path))
			for _, id := range path {
				if _, ok := build.Region(kernel.RegionID(id)); !ok {
					return nil, fmt.Errorf("dispatch path names unknown region %d", id)
				}
				p = append(p, kernel.RegionID(id))
			}
			disp.Paths = append(disp.Paths, p)
		}
		if len(disp.Paths) == 0 {
			all := make([]kernel.RegionID, 0, len(regions))
			for _, r := range regions {
				all = append(all, r.ID)
			}
			disp.Paths = [][]kernel.RegionID{all}
		}
		for n := max(dd.Repeat, 1); n > 0; n-- {
			k.Dispatches = append(k.Dispatches, disp)
		}
	}
	return k, nil
}
