// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture keeps the raw traces of all dispatches of every traced kernel build until
// they are decoded at shutdown.
package capture // import "go.opentelemetry.io/gpu-memtrace/capture"

import (
	"go.opentelemetry.io/gpu-memtrace/kernel"
	"go.opentelemetry.io/gpu-memtrace/record"
	"go.opentelemetry.io/gpu-memtrace/tracebuf"
)

// Instance is the raw trace of one dispatch. It is immutable.
type Instance struct {
	desc      kernel.ExecDescriptor
	data      []byte
	truncated bool
	oversized uint64
}

// NewInstance copies the accepted records and the truncation state out of buf.
func NewInstance(desc kernel.ExecDescriptor, buf *tracebuf.Buffer) *Instance {
	return &Instance{
		desc:      desc,
		data:      append([]byte(nil), buf.Bytes()...),
		truncated: buf.Truncated(),
		oversized: buf.Oversized(),
	}
}

// NewInstanceFromBytes creates an instance from an already captured trace. data is not
// copied.
func NewInstanceFromBytes(desc kernel.ExecDescriptor, data []byte, truncated bool) *Instance {
	return &Instance{desc: desc, data: data, truncated: truncated}
}

// Descriptor returns the execution descriptor of the dispatch.
func (i *Instance) Descriptor() kernel.ExecDescriptor {
	return i.desc
}

// Bytes returns the raw trace. The caller must not modify it.
func (i *Instance) Bytes() []byte {
	return i.data
}

// Size returns the raw trace size in bytes.
func (i *Instance) Size() int {
	return len(i.data)
}

// Truncated returns true if records of the dispatch were dropped.
func (i *Instance) Truncated() bool {
	return i.truncated
}

// Oversized returns the number of records of the dispatch that were dropped because they
// exceeded the buffer's maximum record size.
func (i *Instance) Oversized() uint64 {
	return i.oversized
}

// IsEmpty returns true if the trace does not hold a single record header.
func (i *Instance) IsEmpty() bool {
	return len(i.data) < record.HeaderSize
}

// Collection holds the instances of one kernel build in dispatch order.
type Collection struct {
	instances []*Instance
}

// Add captures the trace of a completed dispatch.
func (c *Collection) Add(desc kernel.ExecDescriptor, buf *tracebuf.Buffer) *Instance {
	inst := NewInstance(desc, buf)
	c.instances = append(c.instances, inst)
	return inst
}

// Instances returns all captured instances in dispatch order.
func (c *Collection) Instances() []*Instance {
	return c.instances
}

// Len returns the number of captured instances.
func (c *Collection) Len() int {
	return len(c.instances)
}
