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

package coherent

import (
	"fmt"
	"sort"

	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/sync"
)

// heapBusBase is the first synthetic bus address. It is deliberately only 8
// byte aligned so that pools exercise their alignment padding.
const heapBusBase = 0x2000_0008

// Heap is an Allocator over ordinary Go memory with synthetic bus
// addresses. It backs the controller simulator, which resolves bus
// addresses with Slice.
type Heap struct {
	mu sync.Mutex

	// Limit, if non-zero, bounds the bytes that may be live at once.
	// Requests beyond it fail with ENOMEM.
	Limit int

	// +checklocks:mu
	next uint64
	// +checklocks:mu
	inUse int
	// +checklocks:mu
	regions map[uint64][]byte
	// +checklocks:mu
	fixed map[uint64]bool
}

var _ Allocator = (*Heap)(nil)

// NewHeap returns an empty Heap.
func NewHeap() *Heap {
	return &Heap{
		next:    heapBusBase,
		regions: make(map[uint64][]byte),
		fixed:   make(map[uint64]bool),
	}
}

// Alloc implements Allocator.Alloc.
func (h *Heap) Alloc(size int) (Region, error) {
	if size <= 0 {
		return Region{}, fmt.Errorf("allocation of %d bytes: %w", size, dmaerr.EINVAL)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Limit != 0 && h.inUse+size > h.Limit {
		return Region{}, errNoMem("heap limit %d reached allocating %d bytes", h.Limit, size)
	}
	bus := h.next
	// Leave a gap so that overruns land outside any region.
	h.next += uint64(size+0xff) &^ 0xff
	h.next += 0x108
	buf := make([]byte, size)
	h.regions[bus] = buf
	h.inUse += size
	log.Debugf("coherent heap: alloc %#x bytes at bus %#x", size, bus)
	return Region{CPU: buf, Bus: bus}, nil
}

// MapFixed implements Allocator.MapFixed. The region is created zeroed on
// first use. Mapping the same address again returns the same memory.
func (h *Heap) MapFixed(bus uint64, size int) (Region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if buf, ok := h.regions[bus]; ok {
		if len(buf) < size {
			return Region{}, fmt.Errorf("fixed region at %#x is %#x bytes, want %#x: %w", bus, len(buf), size, dmaerr.EFAULT)
		}
		return Region{CPU: buf[:size:size], Bus: bus}, nil
	}
	if h.overlapsLocked(bus, size) {
		return Region{}, fmt.Errorf("fixed region [%#x, %#x) overlaps an allocation: %w", bus, bus+uint64(size), dmaerr.EFAULT)
	}
	buf := make([]byte, size)
	h.regions[bus] = buf
	h.fixed[bus] = true
	return Region{CPU: buf, Bus: bus}, nil
}

// Free implements Allocator.Free.
func (h *Heap) Free(r Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.regions[r.Bus]
	if !ok {
		return fmt.Errorf("free of unknown region at %#x: %w", r.Bus, dmaerr.EINVAL)
	}
	if !h.fixed[r.Bus] {
		h.inUse -= len(buf)
	}
	delete(h.regions, r.Bus)
	delete(h.fixed, r.Bus)
	return nil
}

// InUse returns the bytes currently allocated, excluding fixed mappings.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// Slice returns the CPU view of n bytes at bus, or false if the range is
// not entirely inside one region.
func (h *Heap) Slice(bus uint64, n int) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for base, buf := range h.regions {
		if bus >= base && bus+uint64(n) <= base+uint64(len(buf)) {
			off := bus - base
			return buf[off : off+uint64(n)], true
		}
	}
	return nil, false
}

// Regions returns the bus addresses of all live regions in order.
func (h *Heap) Regions() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, len(h.regions))
	for b := range h.regions {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// +checklocks:h.mu
func (h *Heap) overlapsLocked(bus uint64, size int) bool {
	end := bus + uint64(size)
	for base, buf := range h.regions {
		if bus < base+uint64(len(buf)) && base < end {
			return true
		}
	}
	return false
}
