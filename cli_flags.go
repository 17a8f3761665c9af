// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/internal/controller"
)

const (
	// Default values for CLI flags
	defaultArgPhase           = controller.PhaseCapture
	defaultArgMaxBufferMB     = 3072
	defaultArgProfileDir      = "memtrace-profile"
	defaultArgWeightCacheSize = 4096
	defaultArgUploadParallel  = 8
)

// Help strings for command line arguments
var (
	configHelp = "Path to a configuration file with one 'flag value' pair per line."
	phaseHelp  = fmt.Sprintf("Capture phase: %d measures trace buffer sizes, "+
		"%d captures traces using the sizes learned in phase %d.",
		controller.PhaseMeasure, controller.PhaseCapture, controller.PhaseMeasure)
	maxBufferMBHelp = "Maximum size of a trace buffer in MiB. Larger learned sizes are " +
		"reduced to it."
	profileDirHelp = "Directory trace artifacts are written to. A new session directory is " +
		"created below it for every capture run."
	weightsDirHelp = "Directory holding the learned trace buffer sizes. " +
		"Defaults to the profile directory."
	workloadHelp        = "Workload description (YAML or JSON) to run."
	parallelismHelp     = "Number of hardware threads simulated at once. 0 uses all CPUs."
	weightCacheSizeHelp = "Number of region weights kept in memory while measuring."
	uploadBucketHelp    = "S3 bucket trace artifacts are uploaded to after a capture run."
	uploadRegionHelp    = "AWS region of the upload bucket."
	uploadPrefixHelp    = "Key prefix of uploaded objects."
	uploadParallelHelp  = "Number of concurrent uploads."
	verboseModeHelp     = "Enable verbose logging and debugging capabilities."
	versionHelp         = "Show version."
)

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config

	fs := flag.NewFlagSet("memtrace", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.String("config", "", configHelp)

	fs.UintVar(&cfg.MaxBufferMB, "max-buffer-mb", defaultArgMaxBufferMB, maxBufferMBHelp)

	fs.IntVar(&cfg.Parallelism, "parallelism", 0, parallelismHelp)
	fs.UintVar(&cfg.Phase, "phase", defaultArgPhase, phaseHelp)
	fs.StringVar(&cfg.ProfileDir, "profile-dir", defaultArgProfileDir, profileDirHelp)

	fs.StringVar(&cfg.UploadBucket, "upload-bucket", "", uploadBucketHelp)
	fs.IntVar(&cfg.UploadParallelism, "upload-parallelism", defaultArgUploadParallel,
		uploadParallelHelp)
	fs.StringVar(&cfg.UploadPrefix, "upload-prefix", artifactstore.DefaultKeyPrefix,
		uploadPrefixHelp)
	fs.StringVar(&cfg.UploadRegion, "upload-region", "", uploadRegionHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.UintVar(&cfg.WeightCacheSize, "weight-cache-size", defaultArgWeightCacheSize,
		weightCacheSizeHelp)
	fs.StringVar(&cfg.WeightsDir, "weights-dir", "", weightsDirHelp)
	fs.StringVar(&cfg.Workload, "workload", "", workloadHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	return &cfg, ff.Parse(fs, args,
		ff.WithEnvVarPrefix("MEMTRACE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current version
		// does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
