// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package successfailurecounter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/gpu-memtrace/metrics"
)

func TestSuccessFailureCounter(t *testing.T) {
	tests := map[string]struct {
		report    func(sfc *SuccessFailureCounter)
		successes uint64
		failures  uint64
	}{
		"success": {
			report:    func(sfc *SuccessFailureCounter) { sfc.ReportSuccess() },
			successes: 1,
		},
		"failure": {
			report:   func(sfc *SuccessFailureCounter) { sfc.ReportFailure() },
			failures: 1,
		},
		"default": {
			report:   func(*SuccessFailureCounter) {},
			failures: 1,
		},
		"success then default": {
			report: func(sfc *SuccessFailureCounter) {
				sfc.ReportSuccess()
				sfc.DefaultToFailure()
			},
			successes: 1,
		},
		"reported twice": {
			report: func(sfc *SuccessFailureCounter) {
				sfc.ReportFailure()
				sfc.ReportSuccess()
				sfc.ReportFailure()
			},
			failures: 1,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			outcome := NewOutcome(metrics.IDArtifactsWritten, metrics.IDArtifactsFailed)
			func() {
				sfc := New(outcome)
				defer sfc.DefaultToFailure()
				tc.report(&sfc)
			}()
			assert.Equal(t, tc.successes, outcome.Successes())
			assert.Equal(t, tc.failures, outcome.Failures())
		})
	}
}
