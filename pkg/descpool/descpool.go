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

// Package descpool provides fixed-block pools of coherent memory for
// hardware descriptor chains.
//
// A pool is one contiguous coherent region cut into equal blocks. Blocks are
// handed out first fit from a bitmap, so an idle pool always returns the
// lowest free index. A pool may instead be partitioned: each partition has
// its own bitmap and its blocks are addressed relative to the partition.
// The logical LLI area uses this, one partition per physical channel.
package descpool

import (
	"fmt"

	"ux500.dev/dma40/pkg/bitmap"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/sync"
)

// Pool is a fixed-block allocator over one coherent region.
type Pool struct {
	name      string
	alloc     coherent.Allocator
	raw       coherent.Region
	base      coherent.Region
	blockSize int
	perPart   uint32

	mu sync.Mutex
	// maps holds one bitmap per partition. An unpartitioned pool has one.
	//
	// +checklocks:mu
	maps []bitmap.Bitmap
	// reserved counts blocks taken by Reserve, which never count as live.
	//
	// +checklocks:mu
	reserved uint32
	// +checklocks:mu
	destroyed bool
}

// New creates a pool of blockCount blocks of blockSize bytes whose base bus
// address is a multiple of align. The region is over-allocated by align-1
// bytes and the base rounded up.
func New(a coherent.Allocator, name string, blockSize, blockCount, align int) (*Pool, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return nil, fmt.Errorf("pool %q: bad geometry %d x %d: %w", name, blockCount, blockSize, dmaerr.EINVAL)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, fmt.Errorf("pool %q: alignment %d is not a power of two: %w", name, align, dmaerr.EINVAL)
	}
	size := blockSize * blockCount
	raw, err := a.Alloc(size + align - 1)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}
	pad := int((uint64(align) - raw.Bus%uint64(align)) % uint64(align))
	p := &Pool{
		name:      name,
		alloc:     a,
		raw:       raw,
		base:      raw.Sub(pad, size),
		blockSize: blockSize,
		perPart:   uint32(blockCount),
		maps:      []bitmap.Bitmap{bitmap.New(uint32(blockCount))},
	}
	log.Debugf("descpool %q: %d blocks of %d bytes at bus %#x (pad %d)", name, blockCount, blockSize, p.base.Bus, pad)
	return p, nil
}

// NewPartitioned creates a partitioned pool in freshly allocated memory,
// for controllers that leave the location of the area to software.
func NewPartitioned(a coherent.Allocator, name string, blockSize, blocksPerPart, partitions, align int) (*Pool, error) {
	if blocksPerPart <= 0 || partitions <= 0 {
		return nil, fmt.Errorf("pool %q: bad geometry %d x %d: %w", name, partitions, blocksPerPart, dmaerr.EINVAL)
	}
	p, err := New(a, name, blockSize, blocksPerPart*partitions, align)
	if err != nil {
		return nil, err
	}
	p.perPart = uint32(blocksPerPart)
	p.maps = make([]bitmap.Bitmap, partitions)
	for i := range p.maps {
		p.maps[i] = bitmap.New(uint32(blocksPerPart))
	}
	return p, nil
}

// NewFixed creates a partitioned pool over memory at a fixed bus address.
// It spans partitions consecutive partitions of blocksPerPart blocks each.
func NewFixed(a coherent.Allocator, name string, bus uint64, blockSize, blocksPerPart, partitions int) (*Pool, error) {
	if blockSize <= 0 || blocksPerPart <= 0 || partitions <= 0 {
		return nil, fmt.Errorf("pool %q: bad geometry %d x %d x %d: %w", name, partitions, blocksPerPart, blockSize, dmaerr.EINVAL)
	}
	size := blockSize * blocksPerPart * partitions
	r, err := a.MapFixed(bus, size)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}
	p := &Pool{
		name:      name,
		alloc:     a,
		raw:       r,
		base:      r,
		blockSize: blockSize,
		perPart:   uint32(blocksPerPart),
		maps:      make([]bitmap.Bitmap, partitions),
	}
	for i := range p.maps {
		p.maps[i] = bitmap.New(uint32(blocksPerPart))
	}
	log.Debugf("descpool %q: fixed at bus %#x, %d partitions of %d blocks", name, bus, partitions, blocksPerPart)
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// BlockSize returns the size of one block in bytes.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Base returns the aligned region backing all blocks.
func (p *Pool) Base() coherent.Region {
	return p.base
}

// Partitions returns the number of partitions, 1 for an unpartitioned pool.
func (p *Pool) Partitions() int {
	return len(p.maps)
}

// BlocksPerPartition returns the number of blocks in each partition.
func (p *Pool) BlocksPerPartition() uint32 {
	return p.perPart
}

// Alloc allocates one block from an unpartitioned pool.
func (p *Pool) Alloc() (uint32, error) {
	return p.AllocFor(0)
}

// AllocFor allocates one block from partition part.
func (p *Pool) AllocFor(part uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.partLocked(part)
	if err != nil {
		return 0, err
	}
	idx, err := m.TakeFirstZero(0)
	if err != nil {
		return 0, fmt.Errorf("pool %q partition %d: no free block: %w", p.name, part, dmaerr.ENOMEM)
	}
	return idx, nil
}

// Reserve permanently takes block idx of partition part, for blocks whose
// index has a hardware meaning.
func (p *Pool) Reserve(part, idx uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.partLocked(part)
	if err != nil {
		return err
	}
	if idx >= p.perPart || m.IsSet(idx) {
		return fmt.Errorf("pool %q: cannot reserve block %d of partition %d: %w", p.name, idx, part, dmaerr.EINVAL)
	}
	m.Add(idx)
	p.reserved++
	return nil
}

// Release returns block idx to an unpartitioned pool.
func (p *Pool) Release(idx uint32) error {
	return p.ReleaseFor(0, idx)
}

// ReleaseFor returns block idx to partition part. Releasing a block that is
// not allocated is an error and changes nothing.
func (p *Pool) ReleaseFor(part, idx uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.partLocked(part)
	if err != nil {
		return err
	}
	if !m.IsSet(idx) {
		return fmt.Errorf("pool %q: release of free block %d in partition %d: %w", p.name, idx, part, dmaerr.EINVAL)
	}
	m.Remove(idx)
	return nil
}

// Live returns the number of allocated blocks, not counting reserved ones.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked()
}

// +checklocks:p.mu
func (p *Pool) liveLocked() int {
	n := uint32(0)
	for i := range p.maps {
		n += p.maps[i].Count()
	}
	return int(n - p.reserved)
}

// +checklocks:p.mu
func (p *Pool) partLocked(part uint32) (*bitmap.Bitmap, error) {
	if p.destroyed {
		return nil, fmt.Errorf("pool %q used after destroy: %w", p.name, dmaerr.EINVAL)
	}
	if int(part) >= len(p.maps) {
		return nil, fmt.Errorf("pool %q: partition %d out of range: %w", p.name, part, dmaerr.EINVAL)
	}
	return &p.maps[part], nil
}

// Block returns the memory of block idx of an unpartitioned pool.
func (p *Pool) Block(idx uint32) coherent.Region {
	return p.BlockFor(0, idx)
}

// BlockFor returns the memory of block idx of partition part.
func (p *Pool) BlockFor(part, idx uint32) coherent.Region {
	if idx >= p.perPart || int(part) >= len(p.maps) {
		panic(fmt.Sprintf("descpool %q: block %d/%d out of range", p.name, part, idx))
	}
	off := (int(part)*int(p.perPart) + int(idx)) * p.blockSize
	return p.base.Sub(off, p.blockSize)
}

// BusAddr returns the bus address of block idx of an unpartitioned pool.
func (p *Pool) BusAddr(idx uint32) uint64 {
	return p.Block(idx).Bus
}

// Destroy frees the backing memory. Blocks still allocated are reported;
// their memory is gone regardless, so callers release first.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil
	}
	if n := p.liveLocked(); n != 0 {
		log.Warningf("descpool %q destroyed with %d blocks still allocated", p.name, n)
	}
	p.destroyed = true
	return p.alloc.Free(p.raw)
}
