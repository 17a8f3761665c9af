// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package learner // import "go.opentelemetry.io/gpu-memtrace/learner"

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/analyzer"
	"go.opentelemetry.io/gpu-memtrace/kernel"
)

const (
	// KernelTableFile is the name of the persisted per-kernel weight table.
	KernelTableFile = "memtrace_pre_process.txt"
	// DispatchTableFile is the name of the per-dispatch weight log.
	DispatchTableFile = "memtrace_pre_process_dispatch.txt"
)

// DispatchObservation is the measured trace weight of a single dispatch.
type DispatchObservation struct {
	Identity string
	Ordinal  uint32
	Weight   uint64
}

type measuredKernel struct {
	kernel     *kernel.Kernel
	identity   string
	hash       uint64
	dispatches uint32
}

// Learner is the measure phase tool. It computes the trace weight of every dispatch from
// the number of times each region executed, and persists the aggregated weights on Fini.
type Learner struct {
	table      *Table
	dispatches []DispatchObservation
	weights    *analyzer.WeightCache
	kernels    map[kernel.ID]*measuredKernel
}

// New creates a Learner. cacheSize bounds the number of memoized region weights.
func New(cacheSize uint32) (*Learner, error) {
	weights, err := analyzer.NewWeightCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create region weight cache: %w", err)
	}
	return &Learner{
		table:   NewTable(),
		weights: weights,
		kernels: make(map[kernel.ID]*measuredKernel),
	}, nil
}

// OnKernelBuild registers a kernel build for measurement.
func (l *Learner) OnKernelBuild(k *kernel.Kernel) {
	if _, ok := l.kernels[k.ID]; ok {
		return
	}
	l.kernels[k.ID] = &measuredKernel{
		kernel:   k,
		identity: k.ExtendedName(),
		hash:     k.Hash(),
	}
}

// RegionWeight returns the weight of one execution of a region of a registered kernel.
func (l *Learner) RegionWeight(id kernel.ID, region kernel.RegionID) (uint32, error) {
	mk, ok := l.kernels[id]
	if !ok {
		return 0, fmt.Errorf("kernel %d was not registered", id)
	}
	r, ok := mk.kernel.Region(region)
	if !ok {
		return 0, fmt.Errorf("kernel %s has no region %d", mk.kernel.Name, region)
	}
	return l.weights.RegionWeight(mk.kernel.Model, mk.hash, r), nil
}

// OnDispatchComplete aggregates the weight of a completed dispatch. counts holds how often
// each region executed, summed over all threads of the dispatch.
func (l *Learner) OnDispatchComplete(id kernel.ID,
	counts map[kernel.RegionID]uint64) (uint64, error) {
	mk, ok := l.kernels[id]
	if !ok {
		return 0, fmt.Errorf("kernel %d was not registered", id)
	}
	weight := uint64(0)
	for region, n := range counts {
		w, err := l.RegionWeight(id, region)
		if err != nil {
			return 0, err
		}
		weight += uint64(w) * n
	}
	l.table.Observe(mk.identity, weight)
	l.dispatches = append(l.dispatches, DispatchObservation{
		Identity: mk.identity,
		Ordinal:  mk.dispatches,
		Weight:   weight,
	})
	mk.dispatches++
	log.Debugf("Measured %d trace bytes in dispatch %d of %s",
		weight, mk.dispatches-1, mk.kernel.Name)
	return weight, nil
}

// Table returns the observations collected so far.
func (l *Learner) Table() *Table {
	return l.table
}

// Fini persists the kernel weight table and the dispatch log into dir.
func (l *Learner) Fini(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := l.table.Save(filepath.Join(dir, KernelTableFile)); err != nil {
		return fmt.Errorf("failed to save kernel weights: %w", err)
	}
	if err := l.SaveDispatches(filepath.Join(dir, DispatchTableFile)); err != nil {
		return fmt.Errorf("failed to save dispatch weights: %w", err)
	}
	hits, misses := l.weights.Stats()
	log.Infof("Saved weights of %d kernels and %d dispatches (weight cache %d hits, %d misses)",
		l.table.Len(), len(l.dispatches), hits, misses)
	return nil
}

// SaveDispatches appends one line per measured dispatch to the log at path.
func (l *Learner) SaveDispatches(path string) error {
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, d := range l.dispatches {
		if _, err = fmt.Fprintf(w, "%s %d %d\n", strconv.Quote(d.Identity), d.Ordinal,
			d.Weight); err != nil {
			f.Close()
			return err
		}
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
