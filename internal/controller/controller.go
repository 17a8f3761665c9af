// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/gpu-memtrace/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/capture"
	"go.opentelemetry.io/gpu-memtrace/decoder"
	"go.opentelemetry.io/gpu-memtrace/gpusim"
	"go.opentelemetry.io/gpu-memtrace/instrument"
	"go.opentelemetry.io/gpu-memtrace/learner"
	"go.opentelemetry.io/gpu-memtrace/metrics"
	"go.opentelemetry.io/gpu-memtrace/vc"
	"go.opentelemetry.io/gpu-memtrace/workload"
)

// AsmFileName is the name of the disassembly written next to the artifacts of a kernel.
const AsmFileName = "asm.txt"

// Controller is the tool instance of one process. It runs a workload in either phase.
type Controller struct {
	config *Config
	device *gpusim.Device
	remote artifactstore.Remote

	// store is the session of the last capture run.
	store *artifactstore.Store
}

// New creates a new controller.
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{config: cfg}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	if c.device == nil {
		c.device = gpusim.New(cfg.Parallelism)
	}
	return c
}

// Store returns the artifact session of the last capture run, or nil.
func (c *Controller) Store() *artifactstore.Store {
	return c.store
}

// Run loads the workload and runs it in the configured phase.
func (c *Controller) Run(ctx context.Context) error {
	w, err := workload.Load(c.config.Workload)
	if err != nil {
		return err
	}
	log.Infof("Loaded %d kernels with %d dispatches for %s", len(w.Kernels),
		w.NumDispatches(), w.Model)

	switch c.config.Phase {
	case PhaseMeasure:
		return c.measure(ctx, w)
	case PhaseCapture:
		return c.capture(ctx, w)
	default:
		return fmt.Errorf("invalid phase %d", c.config.Phase)
	}
}

// measure runs every dispatch uninstrumented and persists the learned weights.
func (c *Controller) measure(ctx context.Context, w *workload.Workload) error {
	l, err := learner.New(uint32(c.config.WeightCacheSize))
	if err != nil {
		return err
	}
	for _, k := range w.Kernels {
		l.OnKernelBuild(k.Build)
		prog, err := c.device.Load(k.Build, k.Patterns)
		if err != nil {
			return err
		}
		for _, disp := range k.Dispatches {
			counts, err := c.device.Measure(ctx, prog, disp)
			if err != nil {
				return fmt.Errorf("failed to measure kernel %s: %w", k.Build.Name, err)
			}
			if _, err = l.OnDispatchComplete(k.Build.ID, counts); err != nil {
				return err
			}
			metrics.Add(metrics.IDDispatchesMeasured, 1)
		}
	}
	return l.Fini(c.config.weightsDir())
}

// capture runs every dispatch instrumented, then decodes and stores the captured traces.
func (c *Controller) capture(ctx context.Context, w *workload.Workload) error {
	table, err := learner.LoadTable(filepath.Join(c.config.weightsDir(), learner.KernelTableFile))
	if err != nil {
		if errors.Is(err, learner.ErrNoTable) {
			return ErrorWithExitCode{
				error: fmt.Errorf("MEMTRACE: no kernel weights found in %s, run phase %d first: %w",
					c.config.weightsDir(), PhaseMeasure, err),
				code: ExitNoWeights,
			}
		}
		return err
	}
	ceiling, ok := learner.CeilingFromMiB(c.config.MaxBufferMB)
	if !ok {
		log.Warnf("MEMTRACE: Maximum trace buffer size limited to %d bytes", ceiling)
	}

	store, err := artifactstore.New(c.config.ProfileDir, vc.Version())
	if err != nil {
		return err
	}
	c.store = store

	registry := capture.NewRegistry()
	defer func() {
		if err := registry.Close(); err != nil {
			log.Errorf("Failed to release trace buffers: %v", err)
		}
	}()

	for _, k := range w.Kernels {
		if err = c.captureKernel(ctx, registry, table, ceiling, k); err != nil {
			return err
		}
	}
	if err = c.fini(registry); err != nil {
		return err
	}
	return c.upload(ctx)
}

func (c *Controller) captureKernel(ctx context.Context, registry *capture.Registry,
	table *learner.Table, ceiling uint64, k *workload.Kernel) error {
	obs, found := table.Lookup(k.Build.ExtendedName())
	capacity, clamp := learner.Capacity(obs, found, ceiling)
	if clamp != learner.ClampNone {
		metrics.Add(metrics.IDClampedCapacities, 1)
		log.Warnf("MEMTRACE: Trace buffer of kernel %s needs %d bytes, limited to %d (%s)",
			k.Build.Name, obs.Weight+learner.SafetyMargin, capacity, clamp)
	}
	if !found {
		log.Debugf("No weights for kernel %s, using %d bytes", k.Build.Name, capacity)
	}

	ck, err := capture.NewKernel(k.Build, capacity)
	if err != nil {
		return err
	}
	if !registry.Add(ck) {
		_ = ck.Close()
		return fmt.Errorf("duplicate kernel id %d (%s)", k.Build.ID, k.Build.Name)
	}
	if !ck.Enabled() {
		log.Warnf("MEMTRACE: Kernel %s has no shared local memory accesses, "+
			"trace won't be generated", k.Build.Name)
		return nil
	}
	metrics.Add(metrics.IDBufferCapacity, metrics.MetricValue(capacity))

	prog, err := c.device.Load(k.Build, k.Patterns)
	if err != nil {
		return err
	}
	if err = instrument.InstrumentKernel(prog, k.Build, ck.AccessInfo()); err != nil {
		return err
	}
	metrics.Add(metrics.IDKernelsInstrumented, 1)

	for _, disp := range k.Dispatches {
		disp.Desc.Ordinal = ck.OnRun()
		if err = c.device.Execute(ctx, prog, disp, ck.Buffer()); err != nil {
			return fmt.Errorf("failed to run kernel %s: %w", k.Build.Name, err)
		}
		if _, err = ck.OnComplete(disp.Desc); err != nil {
			return err
		}
		metrics.Add(metrics.IDDispatchesCaptured, 1)
	}
	return nil
}

// fini decodes the captured dispatches of all kernels into the artifact store.
func (c *Controller) fini(registry *capture.Registry) error {
	var errs []error
	for _, ck := range registry.Kernels() {
		if ck.Collection().Len() == 0 {
			continue
		}
		if err := c.store.WriteKernelFile(artifactstore.BuildOf(ck.Build()), AsmFileName, []byte(ck.AsmText())); err != nil {
			log.Warnf("MEMTRACE: Failed to write disassembly of kernel %s: %v", ck.Name(), err)
		}
		stats, err := decoder.Process(ck, c.store)
		if err != nil {
			errs = append(errs, err)
		}
		log.Infof("Kernel %s: %d artifacts with %d records written, %d failed, %d empty, "+
			"%d truncated, %d oversized records", ck.Name(), stats.Written, stats.Records,
			stats.Failed, stats.Empty, stats.Truncated, stats.Oversized)
	}
	if err := c.store.WriteManifest(); err != nil {
		errs = append(errs, err)
	}
	log.Infof("Trace artifacts written to %s", c.store.Dir())
	return errors.Join(errs...)
}

func (c *Controller) upload(ctx context.Context) error {
	remote := c.remote
	if remote == nil {
		if c.config.UploadBucket == "" {
			return nil
		}
		s3, err := artifactstore.NewS3Remote(ctx, c.config.UploadBucket, c.config.UploadRegion)
		if err != nil {
			return err
		}
		remote = s3
	}
	prefix := c.config.UploadPrefix
	if prefix == "" {
		prefix = artifactstore.DefaultKeyPrefix
	}
	n, err := c.store.Upload(ctx, remote, prefix, c.config.UploadParallelism)
	if err != nil {
		return fmt.Errorf("failed to upload artifacts: %w", err)
	}
	log.Infof("Uploaded %d artifacts", n)
	return nil
}
