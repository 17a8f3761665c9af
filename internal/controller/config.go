// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/gpu-memtrace/internal/controller"

import (
	"errors"
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Phases of a trace capture.
const (
	// PhaseMeasure runs the workload uninstrumented and learns trace buffer sizes.
	PhaseMeasure = 1
	// PhaseCapture runs the workload instrumented and writes trace artifacts.
	PhaseCapture = 2
)

type Config struct {
	Phase       uint
	MaxBufferMB uint
	ProfileDir  string
	// WeightsDir holds the learned weight tables. It defaults to ProfileDir.
	WeightsDir      string
	Workload        string
	Parallelism     int
	WeightCacheSize uint

	UploadBucket      string
	UploadRegion      string
	UploadPrefix      string
	UploadParallelism int

	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	if cfg.Fs == nil {
		return
	}
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// weightsDir returns the directory of the weight tables.
func (cfg *Config) weightsDir() string {
	if cfg.WeightsDir != "" {
		return cfg.WeightsDir
	}
	return cfg.ProfileDir
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.Phase != PhaseMeasure && cfg.Phase != PhaseCapture {
		return fmt.Errorf("invalid phase %d, use %d (measure) or %d (capture)",
			cfg.Phase, PhaseMeasure, PhaseCapture)
	}
	if cfg.MaxBufferMB == 0 {
		return errors.New("the maximum trace buffer size must be at least 1 MiB")
	}
	if cfg.Workload == "" {
		return errors.New("no workload given")
	}
	if cfg.ProfileDir == "" {
		return errors.New("no profile directory given")
	}
	if cfg.Parallelism < 0 || cfg.UploadParallelism < 0 {
		return errors.New("parallelism must not be negative")
	}
	if cfg.WeightCacheSize == 0 {
		return errors.New("weight cache size must be > 0")
	}
	if cfg.UploadBucket == "" && cfg.UploadRegion != "" {
		return errors.New("an upload region needs an upload bucket")
	}
	return nil
}
