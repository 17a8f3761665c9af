// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics reports the internal counters of the trace capture through OpenTelemetry
metrics.

The metric ids are generated from metrics.json. Each definition becomes an Int64Counter or
an Int64Gauge of the global meter provider, named by its field. Start installs an SDK
provider with a manual reader that Snapshot collects from; a process embedding the package
may install its own provider instead.

	metrics
	├── genids/         // generates ids.go from metrics.json
	├── doc.go          // this file
	├── ids.go          // generated metric ids
	├── metrics.go      // Add(), AddSlice(), Start() and Snapshot()
	├── metrics.json    // metric definitions, append only
	└── types.go        // Metric, MetricID, MetricValue and MetricDefinition
*/
package metrics // import "go.opentelemetry.io/gpu-memtrace/metrics"
