// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package decoder // import "go.opentelemetry.io/gpu-memtrace/decoder"

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/capture"
	"go.opentelemetry.io/gpu-memtrace/metrics"
	"go.opentelemetry.io/gpu-memtrace/successfailurecounter"
)

// Stats summarizes the post-processing of one kernel build.
type Stats struct {
	Written   int
	Failed    int
	Empty     int
	Truncated int
	Records   int
	// Oversized is the number of records dropped for exceeding the maximum record size.
	Oversized uint64
}

// Process decodes every captured dispatch of k and writes one artifact per non-empty
// dispatch into store. Failing artifacts are skipped. The returned error joins all decode
// errors, I/O errors are only logged.
func Process(k *capture.Kernel, store *artifactstore.Store) (Stats, error) {
	var stats Stats
	var errs []error
	outcome := successfailurecounter.NewOutcome(metrics.IDArtifactsWritten,
		metrics.IDArtifactsFailed)

	for _, inst := range k.Collection().Instances() {
		execDesc := inst.Descriptor().String(k.Platform())
		if n := inst.Oversized(); n != 0 {
			stats.Oversized += n
			metrics.Add(metrics.IDRecordsOversized, metrics.MetricValue(n))
			log.Warnf("MEMTRACE: Dropped %d records of kernel %s (%s) exceeding the maximum "+
				"record size", n, k.Name(), execDesc)
		}
		if inst.IsEmpty() {
			stats.Empty++
			continue
		}
		if inst.Truncated() {
			stats.Truncated++
			metrics.Add(metrics.IDTruncatedBuffers, 1)
			log.Warnf("MEMTRACE: Detected trace buffer overflow in kernel %s (%s)",
				k.Name(), execDesc)
		}

		records, err := processInstance(k, store, inst, execDesc, outcome)
		if err != nil {
			errs = append(errs, err)
		}
		stats.Records += records
	}
	stats.Written = int(outcome.Successes())
	stats.Failed = int(outcome.Failures())
	return stats, errors.Join(errs...)
}

// processInstance decodes and stores one dispatch. Decode errors are returned, I/O errors
// are only logged. Both count as a failed artifact.
func processInstance(k *capture.Kernel, store *artifactstore.Store, inst *capture.Instance,
	execDesc string, outcome *successfailurecounter.Outcome) (int, error) {
	sfc := successfailurecounter.New(outcome)
	defer sfc.DefaultToFailure()

	trace, err := Demux(inst, k.AccessInfo(), k.Model())
	if err != nil {
		return 0, fmt.Errorf("kernel %s (%s): %w", k.Name(), execDesc, err)
	}
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDRecordsDecoded, Value: metrics.MetricValue(trace.NumRecords)},
		{ID: metrics.IDTraceBytesDropped, Value: metrics.MetricValue(trace.DroppedBytes)},
	})

	if err = storeTrace(k, store, execDesc, trace); err != nil {
		log.Warnf("MEMTRACE: %v", err)
		return 0, nil
	}
	sfc.ReportSuccess()
	return trace.NumRecords, nil
}

func storeTrace(k *capture.Kernel, store *artifactstore.Store, execDesc string, trace *Trace) error {
	w, err := store.Create(artifactstore.BuildOf(k.Build()), execDesc, ArtifactName)
	if err != nil {
		return err
	}
	if err = WriteArtifact(w, k.AccessInfo(), trace, k.Model()); err != nil {
		w.Abort()
		return fmt.Errorf("could not write trace of kernel %s (%s): %w", k.Name(), execDesc, err)
	}
	return w.Commit(artifactstore.Info{
		Threads:   len(trace.Threads),
		Records:   trace.NumRecords,
		Truncated: trace.Truncated,
	})
}
