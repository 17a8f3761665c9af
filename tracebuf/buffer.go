// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracebuf implements the fixed capacity trace buffer that all hardware threads of
// a dispatch append their records to.
//
// A record is appended in two steps. Reserve claims a byte range with a single atomic
// add on the shared offset. Every later store of the record goes through the returned
// Reservation, which drops the store if the range did not fit into the buffer. A record is
// therefore either written completely or not at all, and the buffer never grows.
package tracebuf // import "go.opentelemetry.io/gpu-memtrace/tracebuf"

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// ErrInvalidSize is returned when a buffer is created with unusable sizes.
var ErrInvalidSize = errors.New("invalid trace buffer size")

// Buffer is a fixed capacity trace buffer. Reserve and Reservation.Store are safe for
// concurrent use. Reset, Size, Bytes and Close must not run concurrently with writers.
type Buffer struct {
	capacity      uint32
	maxRecordSize uint32
	storage       []byte
	release       func([]byte) error

	// offset is the next free byte. It keeps growing past capacity when reservations are
	// rejected.
	offset atomic.Uint64
	// rejectedAt is the lowest start offset of all rejected reservations.
	rejectedAt atomic.Uint64
	truncated  atomic.Bool
	// oversized counts reservations larger than maxRecordSize.
	oversized atomic.Uint64
}

// New creates a buffer of capacity bytes for records of at most maxRecordSize bytes.
func New(capacity, maxRecordSize uint32) (*Buffer, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrInvalidSize)
	}
	if maxRecordSize == 0 {
		return nil, fmt.Errorf("%w: zero maximum record size", ErrInvalidSize)
	}
	storage, release, err := allocate(int(capacity))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes of trace buffer: %w",
			capacity, err)
	}
	b := &Buffer{
		capacity:      capacity,
		maxRecordSize: maxRecordSize,
		storage:       storage,
		release:       release,
	}
	b.rejectedAt.Store(math.MaxUint64)
	return b, nil
}

// Capacity returns the capacity in bytes.
func (b *Buffer) Capacity() uint32 {
	return b.capacity
}

// MaxRecordSize returns the size of the largest record the buffer was created for.
func (b *Buffer) MaxRecordSize() uint32 {
	return b.maxRecordSize
}

// Reset prepares the buffer for a new dispatch.
func (b *Buffer) Reset() {
	clear(b.storage[:b.Size()])
	b.offset.Store(0)
	b.rejectedAt.Store(math.MaxUint64)
	b.truncated.Store(false)
	b.oversized.Store(0)
}

// Reserve claims size bytes for one record.
func (b *Buffer) Reserve(size uint32) Reservation {
	if size > b.maxRecordSize {
		b.oversized.Add(1)
		return Reservation{}
	}
	end := b.offset.Add(uint64(size))
	start := end - uint64(size)
	if end > uint64(b.capacity) {
		b.truncated.Store(true)
		b.lowerRejectedAt(start)
		return Reservation{start: start}
	}
	return Reservation{
		buf:    b,
		start:  start,
		end:    end,
		cursor: start,
	}
}

func (b *Buffer) lowerRejectedAt(start uint64) {
	for {
		cur := b.rejectedAt.Load()
		if start >= cur || b.rejectedAt.CompareAndSwap(cur, start) {
			return
		}
	}
}

// Size returns the number of bytes occupied by accepted records.
func (b *Buffer) Size() uint64 {
	size := min(b.offset.Load(), uint64(b.capacity))
	if b.truncated.Load() {
		size = min(size, b.rejectedAt.Load())
	}
	return size
}

// Truncated returns true if at least one reservation did not fit.
func (b *Buffer) Truncated() bool {
	return b.truncated.Load()
}

// Oversized returns the number of reservations rejected for exceeding the maximum record
// size.
func (b *Buffer) Oversized() uint64 {
	return b.oversized.Load()
}

// Bytes returns the accepted records. The slice aliases the buffer and is only valid until
// the next Reset.
func (b *Buffer) Bytes() []byte {
	return b.storage[:b.Size()]
}

// Close releases the storage.
func (b *Buffer) Close() error {
	if b.storage == nil {
		return nil
	}
	storage := b.storage
	b.storage = nil
	if b.release == nil {
		return nil
	}
	return b.release(storage)
}

// Reservation is the byte range of a single record. The zero value is an invalid
// reservation that drops all stores.
type Reservation struct {
	buf    *Buffer
	start  uint64
	end    uint64
	cursor uint64
}

// Valid returns true if the record fits into the buffer.
func (r *Reservation) Valid() bool {
	return r.buf != nil
}

// Start returns the offset the record was placed at.
func (r *Reservation) Start() uint64 {
	return r.start
}

// Remaining returns the number of bytes not yet stored.
func (r *Reservation) Remaining() uint64 {
	return r.end - r.cursor
}

// Store writes p at the cursor and advances it. The store is dropped, and false returned,
// if the reservation is invalid or p would exceed the reserved range.
func (r *Reservation) Store(p []byte) bool {
	if r.buf == nil || r.cursor+uint64(len(p)) > r.end {
		return false
	}
	copy(r.buf.storage[r.cursor:r.end], p)
	r.cursor += uint64(len(p))
	return true
}
