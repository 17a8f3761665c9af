// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// memtrace captures shared local memory traces of GPU kernels in two phases. The first
// phase measures how many trace bytes every kernel produces, the second one captures the
// traces into buffers sized from those measurements and writes one artifact per dispatch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/gpu-memtrace/internal/controller"
	"go.opentelemetry.io/gpu-memtrace/metrics"
	"go.opentelemetry.io/gpu-memtrace/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.String())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("%v", err)
	}

	meterProvider := metrics.Start()
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Errorf("Failed to shut down metrics: %v", err)
		}
	}()

	// Context to drive the workload and the uploads.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	log.Infof("Starting memtrace %s (revision %s), phase %d", vc.Version(), vc.Revision(),
		cfg.Phase)

	ctlr := controller.New(cfg)
	if err = ctlr.Run(mainCtx); err != nil {
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			log.Error(exitErr)
			return exitCode(exitErr.Code())
		}
		return failure("Failed to run phase %d: %v", cfg.Phase, err)
	}

	if cfg.VerboseMode {
		dumpMetrics(mainCtx)
	}
	log.Info("Exiting ...")
	return exitSuccess
}

// dumpMetrics logs all metrics reported during the run.
func dumpMetrics(ctx context.Context) {
	defs, err := metrics.GetDefinitions()
	if err != nil {
		log.Errorf("Failed to read metric definitions: %v", err)
		return
	}
	snapshot, err := metrics.Snapshot(ctx)
	if err != nil {
		log.Errorf("Failed to collect metrics: %v", err)
		return
	}
	for _, def := range defs {
		if value, ok := snapshot[def.ID]; ok {
			log.Debugf("%s: %d", def.Field, value)
		}
	}
}

func parseError(msg string, args ...interface{}) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...interface{}) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
