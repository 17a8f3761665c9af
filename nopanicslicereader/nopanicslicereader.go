// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader reads little endian values out of captured trace bytes. Out of bounds
// reads return zero values instead of panicking, so a damaged trace can never crash the
// decoder.
package nopanicslicereader // import "go.opentelemetry.io/gpu-memtrace/nopanicslicereader"

import "encoding/binary"

// inBounds reports whether n bytes starting at offs are inside b.
func inBounds(b []byte, offs uint64, n uint64) bool {
	return offs <= uint64(len(b)) && n <= uint64(len(b))-offs
}

// Uint16 reads one 16-bit unsigned integer from given byte slice offset
func Uint16(b []byte, offs uint64) uint16 {
	if !inBounds(b, offs, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[offs:])
}

// Uint32 reads one 32-bit unsigned integer from given byte slice offset
func Uint32(b []byte, offs uint64) uint32 {
	if !inBounds(b, offs, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[offs:])
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint64) uint64 {
	if !inBounds(b, offs, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}

// Address reads one lane address of the given width in bits (32 or 64) from given byte
// slice offset.
func Address(b []byte, offs uint64, width uint8) uint64 {
	if width == 64 {
		return Uint64(b, offs)
	}
	return uint64(Uint32(b, offs))
}

// Slice returns the n bytes at offset offs of b, or nil if they are out of bounds.
func Slice(b []byte, offs, n uint64) []byte {
	if !inBounds(b, offs, n) {
		return nil
	}
	return b[offs : offs+n : offs+n]
}
