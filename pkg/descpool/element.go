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

package descpool

import (
	"fmt"

	"ux500.dev/dma40/pkg/bitmap"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/sync"
)

// ElementPool is a bounded set of fixed-capacity slices of T. It holds
// metadata that must not be allocated on the transfer path, such as
// scatter-gather lists.
type ElementPool[T any] struct {
	name  string
	slots [][]T

	mu sync.Mutex
	// +checklocks:mu
	used bitmap.Bitmap
}

// NewElementPool returns a pool of count slots, each with room for
// capacity elements.
func NewElementPool[T any](name string, count, capacity int) *ElementPool[T] {
	backing := make([]T, count*capacity)
	slots := make([][]T, count)
	for i := range slots {
		slots[i] = backing[i*capacity : i*capacity : (i+1)*capacity]
	}
	return &ElementPool[T]{name: name, slots: slots, used: bitmap.New(uint32(count))}
}

// Get takes a free slot and returns its index and an empty slice with the
// slot's capacity.
func (p *ElementPool[T]) Get() (uint32, []T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, err := p.used.TakeFirstZero(0)
	if err != nil {
		return 0, nil, fmt.Errorf("element pool %q exhausted: %w", p.name, dmaerr.ENOMEM)
	}
	return idx, p.slots[idx][:0], nil
}

// Capacity returns the number of elements each slot holds.
func (p *ElementPool[T]) Capacity() int {
	if len(p.slots) == 0 {
		return 0
	}
	return cap(p.slots[0])
}

// Put returns slot idx to the pool and zeroes its elements.
func (p *ElementPool[T]) Put(idx uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.used.IsSet(idx) {
		return fmt.Errorf("element pool %q: put of free slot %d: %w", p.name, idx, dmaerr.EINVAL)
	}
	s := p.slots[idx]
	clear(s[:cap(s)])
	p.used.Remove(idx)
	return nil
}

// InUse returns the number of slots taken.
func (p *ElementPool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.used.Count())
}
