// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memutil provides utilities for mapping device and anonymous memory
// as byte slices.
package memutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MapAnon maps size bytes of anonymous shared memory. If lock is set the
// pages are populated and locked so that a device never sees them move.
func MapAnon(size int, lock bool) ([]byte, error) {
	flags := unix.MAP_SHARED | unix.MAP_ANONYMOUS
	if lock {
		flags |= unix.MAP_POPULATE
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous %#x bytes: %w", size, err)
	}
	if lock {
		if err := unix.Mlock(b); err != nil {
			unix.Munmap(b)
			return nil, fmt.Errorf("mlock %#x bytes: %w", size, err)
		}
	}
	return b, nil
}

// MapDevice maps size bytes of fd starting at offset, shared and writable.
// offset must be page aligned.
func MapDevice(fd int, offset int64, size int) ([]byte, error) {
	if offset%int64(unix.Getpagesize()) != 0 {
		return nil, fmt.Errorf("device offset %#x is not page aligned", offset)
	}
	b, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap device offset %#x size %#x: %w", offset, size, err)
	}
	return b, nil
}

// UnmapSlice unmaps a mapping returned by MapAnon or MapDevice.
func UnmapSlice(slice []byte) error {
	return unix.Munmap(slice)
}

// PageRound rounds size up to a multiple of the host page size.
func PageRound(size int) int {
	p := unix.Getpagesize()
	return (size + p - 1) &^ (p - 1)
}
