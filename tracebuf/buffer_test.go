// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracebuf

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffer(t *testing.T, capacity, maxRecordSize uint32) *Buffer {
	t.Helper()
	b, err := New(capacity, maxRecordSize)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })
	return b
}

func TestNewInvalid(t *testing.T) {
	_, err := New(0, 16)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = New(16, 0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestReserveFits(t *testing.T) {
	b := newBuffer(t, 200, 112)

	r := b.Reserve(112)
	require.True(t, r.Valid())
	assert.Equal(t, uint64(0), r.Start())
	assert.True(t, r.Store(bytes.Repeat([]byte{0xAA}, 100)))
	assert.True(t, r.Store(bytes.Repeat([]byte{0xBB}, 12)))
	assert.False(t, r.Store([]byte{0xCC}), "store beyond the reserved range")
	assert.Equal(t, uint64(0), r.Remaining())

	second := b.Reserve(112)
	assert.False(t, second.Valid())
	assert.False(t, second.Store([]byte{0xDD}))

	assert.True(t, b.Truncated())
	assert.Equal(t, uint64(112), b.Size())
	data := b.Bytes()
	require.Len(t, data, 112)
	assert.Equal(t, byte(0xAA), data[0])
	assert.Equal(t, byte(0xBB), data[111])
}

func TestReserveExactCapacity(t *testing.T) {
	b := newBuffer(t, 64, 32)
	for i := 0; i < 2; i++ {
		r := b.Reserve(32)
		require.True(t, r.Valid())
	}
	assert.False(t, b.Truncated())
	assert.Equal(t, uint64(64), b.Size())

	r := b.Reserve(16)
	assert.False(t, r.Valid())
	assert.True(t, b.Truncated())
	assert.Equal(t, uint64(64), b.Size())
}

func TestRejectionLeavesNoBytes(t *testing.T) {
	b := newBuffer(t, 100, 64)
	r := b.Reserve(64)
	require.True(t, r.Valid())
	// 64 + 48 exceeds the capacity, the record must not become partially visible even
	// though 36 bytes are left.
	rejected := b.Reserve(48)
	require.False(t, rejected.Valid())
	// A smaller record placed after the rejected one is rejected as well.
	small := b.Reserve(8)
	require.False(t, small.Valid())

	assert.Equal(t, uint64(64), b.Size())
}

func TestOversizedReservation(t *testing.T) {
	b := newBuffer(t, 1024, 32)
	r := b.Reserve(33)
	assert.False(t, r.Valid())
	assert.Equal(t, uint64(1), b.Oversized())
	assert.False(t, b.Truncated())
	assert.Equal(t, uint64(0), b.Size())

	r = b.Reserve(32)
	assert.True(t, r.Valid())
	assert.Equal(t, uint64(0), r.Start())
}

func TestReset(t *testing.T) {
	b := newBuffer(t, 32, 32)
	r := b.Reserve(32)
	require.True(t, r.Store(bytes.Repeat([]byte{1}, 32)))
	b.Reserve(32)
	require.True(t, b.Truncated())

	b.Reset()
	assert.False(t, b.Truncated())
	assert.Equal(t, uint64(0), b.Size())
	assert.Empty(t, b.Bytes())

	r = b.Reserve(16)
	require.True(t, r.Valid())
	assert.Equal(t, uint64(0), r.Start())
	assert.Equal(t, make([]byte, 16), b.Bytes())
}

func TestConcurrentReservations(t *testing.T) {
	tests := map[string]struct {
		capacity   uint32
		threads    int
		perThread  int
		recordSize uint32
		accepted   int
		truncated  bool
	}{
		"all fit": {
			capacity:   64 * 100 * 16,
			threads:    64,
			perThread:  100,
			recordSize: 16,
			accepted:   6400,
		},
		"overflow": {
			capacity:   1000,
			threads:    100,
			perThread:  1,
			recordSize: 16,
			accepted:   62,
			truncated:  true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newBuffer(t, tc.capacity, tc.recordSize)

			var wg sync.WaitGroup
			for thread := 0; thread < tc.threads; thread++ {
				wg.Add(1)
				go func(thread int) {
					defer wg.Done()
					record := make([]byte, tc.recordSize)
					for i := 0; i < tc.perThread; i++ {
						binary.LittleEndian.PutUint32(record[0:], uint32(thread))
						binary.LittleEndian.PutUint32(record[4:], uint32(i))
						r := b.Reserve(tc.recordSize)
						// Stores go one word at a time, each one guarded.
						for off := 0; off < len(record); off += 4 {
							r.Store(record[off : off+4])
						}
					}
				}(thread)
			}
			wg.Wait()

			assert.Equal(t, tc.truncated, b.Truncated())
			data := b.Bytes()
			require.Len(t, data, tc.accepted*int(tc.recordSize))

			// Every accepted record is intact and each (thread, sequence) pair shows up
			// at most once.
			seen := make(map[[2]uint32]struct{}, tc.accepted)
			for off := 0; off < len(data); off += int(tc.recordSize) {
				key := [2]uint32{
					binary.LittleEndian.Uint32(data[off:]),
					binary.LittleEndian.Uint32(data[off+4:]),
				}
				require.Less(t, key[0], uint32(tc.threads))
				require.Less(t, key[1], uint32(tc.perThread))
				_, dup := seen[key]
				require.False(t, dup)
				seen[key] = struct{}{}
			}
		})
	}
}
