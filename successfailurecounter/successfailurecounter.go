// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter counts the outcome of processing one captured dispatch into an
// artifact: either it was written or it failed, never both.
//
// This package is **not** thread safe. Multiple reports to the same SuccessFailureCounter from
// different goroutines can result in incorrect counter results.
package successfailurecounter // import "go.opentelemetry.io/gpu-memtrace/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/metrics"
)

// Outcome is a pair of counters and the metrics they are mirrored to.
type Outcome struct {
	success, fail             atomic.Uint64
	successMetric, failMetric metrics.MetricID
}

// NewOutcome returns counters that report to the given metric ids.
func NewOutcome(successMetric, failMetric metrics.MetricID) *Outcome {
	return &Outcome{successMetric: successMetric, failMetric: failMetric}
}

// Successes returns the number of reported successes.
func (o *Outcome) Successes() uint64 {
	return o.success.Load()
}

// Failures returns the number of reported failures.
func (o *Outcome) Failures() uint64 {
	return o.fail.Load()
}

// SuccessFailureCounter records exactly one result into an Outcome.
type SuccessFailureCounter struct {
	outcome *Outcome
	sealed  bool
}

// New returns a SuccessFailureCounter that can be incremented exactly once.
func New(outcome *Outcome) SuccessFailureCounter {
	return SuccessFailureCounter{outcome: outcome}
}

// ReportSuccess increments the success counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	if sfc.sealed {
		log.Errorf("Attempted to report success/failure status more than once.")
		return
	}
	sfc.success()
}

// ReportFailure increments the failure counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if sfc.sealed {
		log.Errorf("Attempted to report failure/success status more than once.")
		return
	}
	sfc.failure()
}

// DefaultToFailure increments the failure counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.failure()
	}
}

func (sfc *SuccessFailureCounter) success() {
	sfc.outcome.success.Add(1)
	metrics.Add(sfc.outcome.successMetric, 1)
	sfc.sealed = true
}

func (sfc *SuccessFailureCounter) failure() {
	sfc.outcome.fail.Add(1)
	metrics.Add(sfc.outcome.failMetric, 1)
	sfc.sealed = true
}
