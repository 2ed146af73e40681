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

	"golang.org/x/sys/unix"
	"ux500.dev/dma40/pkg/bitmap"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/memutil"
	"ux500.dev/dma40/pkg/sync"
)

// DevMem is an Allocator over a physically contiguous carve-out reserved
// for DMA (for example with a mem= or reserved-memory boot argument) and
// reached through /dev/mem. Allocations are whole pages, first fit.
type DevMem struct {
	device    string
	base      uint64
	busOffset uint64
	pageSize  int
	mem       []byte

	mu sync.Mutex
	// pages has one bit per carve-out page; set means allocated.
	//
	// +checklocks:mu
	pages bitmap.Bitmap
	// lengths maps an allocation's first page to its page count.
	//
	// +checklocks:mu
	lengths map[uint32]uint32
	// +checklocks:mu
	fixed map[uint64][]byte
}

var _ Allocator = (*DevMem)(nil)

// OpenDevMem maps the carve-out [base, base+size) of device. busOffset is
// added to physical addresses to form bus addresses.
func OpenDevMem(device string, base uint64, size int, busOffset uint64) (*DevMem, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", device, err)
	}
	defer unix.Close(fd)
	mem, err := memutil.MapDevice(fd, int64(base), memutil.PageRound(size))
	if err != nil {
		return nil, err
	}
	d := newDevMem(mem, base, busOffset, unix.Getpagesize())
	d.device = device
	log.Infof("Coherent carve-out %s [%#x, %#x), %d pages", device, base, base+uint64(len(mem)), d.pages.Size())
	return d, nil
}

func newDevMem(mem []byte, base, busOffset uint64, pageSize int) *DevMem {
	return &DevMem{
		base:      base,
		busOffset: busOffset,
		pageSize:  pageSize,
		mem:       mem,
		pages:     bitmap.New(uint32(len(mem) / pageSize)),
		lengths:   make(map[uint32]uint32),
		fixed:     make(map[uint64][]byte),
	}
}

// Alloc implements Allocator.Alloc.
func (d *DevMem) Alloc(size int) (Region, error) {
	if size <= 0 {
		return Region{}, fmt.Errorf("allocation of %d bytes: %w", size, dmaerr.EINVAL)
	}
	n := uint32((size + d.pageSize - 1) / d.pageSize)

	d.mu.Lock()
	defer d.mu.Unlock()
	first, ok := d.findRunLocked(n)
	if !ok {
		return Region{}, errNoMem("no run of %d free pages in carve-out", n)
	}
	for i := first; i < first+n; i++ {
		d.pages.Add(i)
	}
	d.lengths[first] = n
	off := int(first) * d.pageSize
	buf := d.mem[off : off+size : off+size]
	clear(buf)
	return Region{CPU: buf, Bus: d.base + uint64(off) + d.busOffset}, nil
}

// +checklocks:d.mu
func (d *DevMem) findRunLocked(n uint32) (uint32, bool) {
	start := uint32(0)
	for {
		first, err := d.pages.FirstZero(start)
		if err != nil || first+n > d.pages.Size() {
			return 0, false
		}
		run := uint32(1)
		for run < n && !d.pages.IsSet(first+run) {
			run++
		}
		if run == n {
			return first, true
		}
		start = first + run + 1
	}
}

// MapFixed implements Allocator.MapFixed. Fixed regions lie outside the
// carve-out and are mapped from the device directly.
func (d *DevMem) MapFixed(bus uint64, size int) (Region, error) {
	if d.device == "" {
		return Region{}, fmt.Errorf("fixed mapping without a device: %w", dmaerr.ENODEV)
	}
	phys := bus - d.busOffset
	page := uint64(d.pageSize)
	aligned := phys &^ (page - 1)
	delta := int(phys - aligned)

	fd, err := unix.Open(d.device, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return Region{}, fmt.Errorf("opening %q: %w", d.device, err)
	}
	defer unix.Close(fd)
	mem, err := memutil.MapDevice(fd, int64(aligned), memutil.PageRound(delta+size))
	if err != nil {
		return Region{}, err
	}

	d.mu.Lock()
	d.fixed[bus] = mem
	d.mu.Unlock()
	return Region{CPU: mem[delta : delta+size : delta+size], Bus: bus}, nil
}

// Free implements Allocator.Free.
func (d *DevMem) Free(r Region) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.fixed[r.Bus]; ok {
		delete(d.fixed, r.Bus)
		return memutil.UnmapSlice(mem)
	}
	lo := d.base + d.busOffset
	if r.Bus < lo || (r.Bus-lo)%uint64(d.pageSize) != 0 {
		return fmt.Errorf("free of foreign region at %#x: %w", r.Bus, dmaerr.EINVAL)
	}
	first := uint32((r.Bus - lo) / uint64(d.pageSize))
	n, ok := d.lengths[first]
	if !ok {
		return fmt.Errorf("free of unallocated region at %#x: %w", r.Bus, dmaerr.EINVAL)
	}
	for i := first; i < first+n; i++ {
		d.pages.Remove(i)
	}
	delete(d.lengths, first)
	return nil
}

// Close unmaps the carve-out and all fixed regions.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for bus, mem := range d.fixed {
		memutil.UnmapSlice(mem)
		delete(d.fixed, bus)
	}
	if d.mem == nil {
		return nil
	}
	err := memutil.UnmapSlice(d.mem)
	d.mem = nil
	return err
}
