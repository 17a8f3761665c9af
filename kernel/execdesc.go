// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "go.opentelemetry.io/gpu-memtrace/kernel"

import (
	"fmt"
	"strings"
)

// ExecDescriptor describes the shape of one kernel dispatch.
type ExecDescriptor struct {
	GlobalWorkSize [3]uint32
	LocalWorkSize  [3]uint32
	GlobalOffset   [3]uint32
	// NumThreads is the number of hardware threads the dispatch ran on.
	NumThreads uint32
	// Ordinal is the index of the dispatch among all dispatches of the same kernel build.
	Ordinal uint32
}

func dims(v [3]uint32) string {
	return fmt.Sprintf("%d_%d_%d", v[0], v[1], v[2])
}

// String formats the descriptor into a string suitable as a directory name. The ordinal
// is included, so repeated dispatches with the same shape do not collide.
func (d ExecDescriptor) String(platform string) string {
	var sb strings.Builder
	sb.WriteString(NormalizeFilename(platform))
	sb.WriteString("_gws_")
	sb.WriteString(dims(d.GlobalWorkSize))
	sb.WriteString("_lws_")
	sb.WriteString(dims(d.LocalWorkSize))
	if d.GlobalOffset != [3]uint32{} {
		sb.WriteString("_gwo_")
		sb.WriteString(dims(d.GlobalOffset))
	}
	fmt.Fprintf(&sb, "_enqueue_%d", d.Ordinal)
	return sb.String()
}
