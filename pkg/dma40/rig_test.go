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

package dma40

import (
	"testing"

	"ux500.dev/dma40/pkg/dma40/dma40sim"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/sync"
)

// rig is an engine wired to a simulated controller whose interrupt line
// calls HandleInterrupt.
type rig struct {
	t    *testing.T
	heap *coherent.Heap
	sim  *dma40sim.Controller
	e    *Engine
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	heap := coherent.NewHeap()
	sim := dma40sim.New(heap, cfg.WithDefaults().PhysChannels)
	e, err := New(sim.Bank(), heap, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// One interrupt line: handler invocations never overlap.
	var irqMu sync.Mutex
	sim.OnIRQ(func() {
		irqMu.Lock()
		defer irqMu.Unlock()
		e.HandleInterrupt()
	})
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return &rig{t: t, heap: heap, sim: sim, e: e}
}

func (r *rig) request(d PipeDescriptor) PipeID {
	r.t.Helper()
	id, err := r.e.Request(d)
	if err != nil {
		r.t.Fatalf("Request(%+v): %v", d, err)
	}
	return id
}

func (r *rig) enable(id PipeID) {
	r.t.Helper()
	if err := r.e.Enable(id); err != nil {
		r.t.Fatalf("Enable(%d): %v", id, err)
	}
}

// physOf returns the physical channel of id.
func (r *rig) physOf(id PipeID) PhysChan {
	r.t.Helper()
	p, err := r.e.pipes.get(id)
	if err != nil {
		r.t.Fatalf("pipe %d: %v", id, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phys
}

// chanOf returns the channel id of id.
func (r *rig) chanOf(id PipeID) ChannelID {
	r.t.Helper()
	p, err := r.e.pipes.get(id)
	if err != nil {
		r.t.Fatalf("pipe %d: %v", id, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chanID
}

func memToMem(length uint32, w Width) PipeDescriptor {
	return PipeDescriptor{
		Direction: MemToMem,
		Mode:      ModePhysical,
		Src:       Endpoint{Width: w, Burst: Burst4, Increment: true},
		Dst:       Endpoint{Width: w, Burst: Burst4, Increment: true},
		Length:    length,
		SrcAddr:   0x4000_0000,
		DstAddr:   0x5000_0000,
	}
}

func toPeriph(dev int, mode Mode, length uint32, w Width) PipeDescriptor {
	return PipeDescriptor{
		Direction: MemToPeriph,
		Mode:      mode,
		Src:       Endpoint{Width: w, Burst: Burst1, Increment: true},
		Dst:       Endpoint{Device: dev, Width: w, Burst: Burst1},
		Length:    length,
		SrcAddr:   0x4000_0000,
		DstAddr:   0x8012_0010,
	}
}

func fromPeriph(dev int, mode Mode, length uint32, w Width) PipeDescriptor {
	return PipeDescriptor{
		Direction: PeriphToMem,
		Mode:      mode,
		Src:       Endpoint{Device: dev, Width: w, Burst: Burst1},
		Dst:       Endpoint{Width: w, Burst: Burst1, Increment: true},
		Length:    length,
		SrcAddr:   0x8012_0010,
		DstAddr:   0x4000_0000,
	}
}

type completion struct {
	Pipe PipeID
	N    uint64
	Data any
}

type lliEvent struct {
	Pipe  PipeID
	Index int
	N     uint64
}

// recorder is an LLICompleter that remembers every call.
type recorder struct {
	mu       sync.Mutex
	complete []completion
	failed   []error
	llis     []lliEvent
}

func (r *recorder) TransferComplete(p PipeID, n uint64, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, completion{Pipe: p, N: n, Data: data})
}

func (r *recorder) TransferFailed(p PipeID, err error, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) LLIComplete(p PipeID, index int, n uint64, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llis = append(r.llis, lliEvent{Pipe: p, Index: index, N: n})
}

func (r *recorder) completions() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.complete...)
}

func (r *recorder) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failed...)
}

func (r *recorder) lliEvents() []lliEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lliEvent(nil), r.llis...)
}
