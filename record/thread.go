// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package record // import "go.opentelemetry.io/gpu-memtrace/record"

import (
	"fmt"
	"math"

	"go.opentelemetry.io/gpu-memtrace/kernel"
)

// AbsentField is stored for hierarchy levels a GPU generation does not have.
const AbsentField = math.MaxUint32

// ThreadLocation is a global thread id decomposed into the execution unit hierarchy.
type ThreadLocation struct {
	Slice        uint32
	DualSubSlice uint32
	SubSlice     uint32
	EU           uint32
	ThreadSlot   uint32
}

// Fields returns the location fields, outermost first.
func (l ThreadLocation) Fields() [5]uint32 {
	return [5]uint32{l.Slice, l.DualSubSlice, l.SubSlice, l.EU, l.ThreadSlot}
}

// LocationFromFields is the inverse of Fields.
func LocationFromFields(f [5]uint32) ThreadLocation {
	return ThreadLocation{
		Slice:        f[0],
		DualSubSlice: f[1],
		SubSlice:     f[2],
		EU:           f[3],
		ThreadSlot:   f[4],
	}
}

// Locate decomposes a global thread id using the sr0 layout of the generation.
func Locate(sra *kernel.StateRegAccessor, tid uint32) ThreadLocation {
	sr0 := sra.SetGlobalTID(0, tid)
	var out [5]uint32
	for i, f := range sra.Fields() {
		if f.IsEmpty() {
			out[i] = AbsentField
			continue
		}
		out[i] = f.Value(sr0)
	}
	return LocationFromFields(out)
}

func (l ThreadLocation) String() string {
	field := func(v uint32) string {
		if v == AbsentField {
			return "-"
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("slice %s dss %s subslice %s eu %s thread %s",
		field(l.Slice), field(l.DualSubSlice), field(l.SubSlice), field(l.EU),
		field(l.ThreadSlot))
}
