// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// genids creates the metric id constants from metrics.json.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/format"
	"os"
	"slices"
)

type metricDef struct {
	Description string `json:"description"`
	MetricType  string `json:"type"`
	Name        string `json:"name"`
	FieldName   string `json:"field"`
	Unit        string `json:"unit"`
	ID          uint32 `json:"id"`
	Obsolete    bool   `json:"obsolete"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <metrics.json> <output.go>\n", os.Args[0])
		os.Exit(1)
	}
	if err := generate(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func generate(in, out string) error {
	input, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}

	var metricDefs []metricDef
	if err = json.Unmarshal(input, &metricDefs); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", in, err)
	}
	slices.SortFunc(metricDefs, func(a, b metricDef) int { return int(a.ID) - int(b.ID) })

	maxID := uint32(0)
	var output bytes.Buffer
	output.WriteString("// Code generated from metrics.json. DO NOT EDIT.\n\n" +
		"package metrics\n\n" +
		"// To add a new metric append an entry to metrics.json. ONLY APPEND !\n" +
		"// Then run 'go generate ./metrics'.\n\n" +
		"// Below are the different metric IDs that we currently implement.\n" +
		"const (\n\n" +
		"\t// Leave out the 0 value. It's an indication of not explicitly initialized variables.\n" +
		"\tIDInvalid = 0\n")
	for _, m := range metricDefs {
		maxID = max(maxID, m.ID)
		if m.Obsolete {
			continue
		}
		fmt.Fprintf(&output, "\n\t// %s\n\tID%s = %d\n", m.Description, m.Name, m.ID)
	}
	fmt.Fprintf(&output, "\n\t// max number of ID values, keep this as *last entry*\n"+
		"\tIDMax = %d\n)\n", maxID+1)

	src, err := format.Source(output.Bytes())
	if err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	return os.WriteFile(out, src, 0o600)
}
