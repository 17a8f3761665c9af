// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracebuf // import "go.opentelemetry.io/gpu-memtrace/tracebuf"

import "golang.org/x/sys/unix"

// allocate maps anonymous memory so that pages are only backed once records reach them.
func allocate(size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}
