// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package learner // import "go.opentelemetry.io/gpu-memtrace/learner"

import "math"

// SafetyMargin is added to measured weights to absorb differences in trace size between
// the measure and the capture run.
const SafetyMargin = 0x2000

// MiB is one mebibyte.
const MiB = 1 << 20

// Clamp reports whether and why a requested capacity was reduced.
type Clamp int

const (
	ClampNone Clamp = iota
	// ClampRepresentable means the request exceeded the 32-bit capacity field.
	ClampRepresentable
	// ClampCeiling means the request exceeded the configured maximum buffer size.
	ClampCeiling
)

func (c Clamp) String() string {
	switch c {
	case ClampNone:
		return "none"
	case ClampRepresentable:
		return "representable maximum"
	case ClampCeiling:
		return "configured maximum"
	default:
		return "unknown"
	}
}

// Capacity computes the trace buffer capacity of a kernel build from its measured
// observation. Kernels that were not measured get the largest possible capacity. The result
// never exceeds the ceiling nor math.MaxUint32. The returned Clamp is only set for measured
// kernels, since the unknown default is expected to hit the limits.
func Capacity(obs Observation, found bool, ceiling uint64) (uint32, Clamp) {
	requested := uint64(math.MaxUint32)
	if found {
		requested = obs.Weight + SafetyMargin
		if requested < obs.Weight {
			requested = math.MaxUint64
		}
	}

	clamp := ClampNone
	if requested > math.MaxUint32 {
		if found {
			clamp = ClampRepresentable
		}
		requested = math.MaxUint32
	}
	// The ceiling is the tighter limit whenever it applies.
	if requested > ceiling {
		if found {
			clamp = ClampCeiling
		}
		requested = ceiling
	}
	return uint32(requested), clamp
}

// CeilingFromMiB converts a maximum buffer size in MiB into bytes, limited to the
// representable maximum. The second return value is false if the limit was applied.
func CeilingFromMiB(mib uint) (uint64, bool) {
	if mib > math.MaxUint32/MiB {
		return math.MaxUint32, false
	}
	return uint64(mib) * MiB, true
}
