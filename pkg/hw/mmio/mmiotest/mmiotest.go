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

// Package mmiotest provides an in-memory register bank.
package mmiotest

import (
	"fmt"

	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/sync"
)

// WriteHook is called instead of storing a written value. It receives the
// current register contents and the written value and returns the new
// contents.
type WriteHook func(old, v uint32) uint32

// ReadHook is called on every read of a register and returns the value seen
// by the reader.
type ReadHook func(cur uint32) uint32

// Access records one register write.
type Access struct {
	Off   uint32
	Value uint32
}

// Bank is a mmio.Bank backed by a slice. The zero value is not usable; use
// New.
type Bank struct {
	mu sync.Mutex

	// +checklocks:mu
	regs []uint32
	// +checklocks:mu
	writeHooks map[uint32]WriteHook
	// +checklocks:mu
	readHooks map[uint32]ReadHook
	// +checklocks:mu
	history []Access
	// +checklocks:mu
	record bool
}

var _ mmio.Bank = (*Bank)(nil)

// New returns a zeroed bank of size bytes.
func New(size uint32) *Bank {
	return &Bank{
		regs:       make([]uint32, size/4),
		writeHooks: make(map[uint32]WriteHook),
		readHooks:  make(map[uint32]ReadHook),
	}
}

func (b *Bank) index(off uint32) int {
	if off%4 != 0 || int(off/4) >= len(b.regs) {
		panic(fmt.Sprintf("mmiotest: register offset %#x out of range", off))
	}
	return int(off / 4)
}

// Read32 implements mmio.Bank.Read32.
func (b *Bank) Read32(off uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.regs[b.index(off)]
	if h, ok := b.readHooks[off]; ok {
		v = h(v)
	}
	return v
}

// Write32 implements mmio.Bank.Write32.
func (b *Bank) Write32(off uint32, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(off)
	if b.record {
		b.history = append(b.history, Access{Off: off, Value: v})
	}
	if h, ok := b.writeHooks[off]; ok {
		b.regs[i] = h(b.regs[i], v)
		return
	}
	b.regs[i] = v
}

// Peek returns the register at off without running read hooks.
func (b *Bank) Peek(off uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[b.index(off)]
}

// Poke stores v at off without running write hooks or recording history.
func (b *Bank) Poke(off uint32, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[b.index(off)] = v
}

// Update atomically applies f to the register at off, bypassing hooks.
func (b *Bank) Update(off uint32, f func(uint32) uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(off)
	b.regs[i] = f(b.regs[i])
}

// OnWrite installs h for writes to off. A nil h removes the hook.
func (b *Bank) OnWrite(off uint32, h WriteHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index(off)
	if h == nil {
		delete(b.writeHooks, off)
		return
	}
	b.writeHooks[off] = h
}

// OnRead installs h for reads of off. A nil h removes the hook.
func (b *Bank) OnRead(off uint32, h ReadHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index(off)
	if h == nil {
		delete(b.readHooks, off)
		return
	}
	b.readHooks[off] = h
}

// Record enables or disables write history.
func (b *Bank) Record(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = on
}

// History returns and clears the recorded writes.
func (b *Bank) History() []Access {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.history
	b.history = nil
	return h
}

// W1C is a WriteHook implementing write-one-to-clear semantics.
func W1C(old, v uint32) uint32 {
	return old &^ v
}
