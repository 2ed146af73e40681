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

// Package coherent allocates memory that a DMA master and the CPU see
// coherently.
//
// A Region carries two views of the same bytes: the CPU slice and the bus
// address the controller uses to reach them. Descriptor pools are built on
// an Allocator; the engine never touches memory the Allocator did not hand
// out.
package coherent

import (
	"encoding/binary"
	"fmt"

	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// Region is a contiguous range of coherent memory.
type Region struct {
	// CPU is the CPU mapping of the region.
	CPU []byte

	// Bus is the address of CPU[0] as seen by the DMA controller.
	Bus uint64
}

// Len returns the size of the region.
func (r Region) Len() int {
	return len(r.CPU)
}

// Sub returns the part of r starting at off and spanning n bytes.
func (r Region) Sub(off, n int) Region {
	return Region{CPU: r.CPU[off : off+n : off+n], Bus: r.Bus + uint64(off)}
}

// Put32 stores a little endian word at off.
func (r Region) Put32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.CPU[off:], v)
}

// Get32 loads a little endian word at off.
func (r Region) Get32(off int) uint32 {
	return binary.LittleEndian.Uint32(r.CPU[off:])
}

// Allocator hands out coherent regions.
type Allocator interface {
	// Alloc returns a fresh region of at least size bytes. Errors wrap
	// dmaerr.ENOMEM.
	Alloc(size int) (Region, error)

	// Free returns a region obtained from Alloc or MapFixed.
	Free(r Region) error

	// MapFixed maps size bytes at a fixed bus address, for memory whose
	// location the hardware dictates.
	MapFixed(bus uint64, size int) (Region, error)
}

func errNoMem(format string, v ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, v...), dmaerr.ENOMEM)
}
