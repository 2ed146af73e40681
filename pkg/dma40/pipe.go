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
	"fmt"
	"sync/atomic"

	"ux500.dev/dma40/pkg/bitmap"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/sync"
)

// callback is a completer with its context, swapped atomically so the
// interrupt handler never sees a torn pair.
type callback struct {
	c    Completer
	data any
}

// progress tracks per-descriptor completions for the interrupt handler,
// which never takes pipe.mu.
type progress struct {
	mu sync.Mutex
	// +checklocks:mu
	chunks []uint32
	// +checklocks:mu
	total uint64
	// +checklocks:mu
	done uint64
	// +checklocks:mu
	next int
	// +checklocks:mu
	perLLI bool
	// +checklocks:mu
	notify bool
}

// reset arms p for a new transfer.
func (p *progress) reset(chunks []uint32, perLLI, notify bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = chunks
	p.total = 0
	for _, c := range chunks {
		p.total += uint64(c)
	}
	p.done = 0
	p.next = 0
	p.perLLI = perLLI
	p.notify = notify
}

// lliDone is one finished descriptor.
type lliDone struct {
	index int
	n     uint64
}

// advance accounts one terminal count interrupt. It returns the descriptor
// that finished when per-descriptor interrupts are on, and whether the
// whole transfer is now complete with its byte count.
func (p *progress) advance() (lli *lliDone, notify bool, total uint64, complete bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return nil, false, 0, false
	}
	if !p.perLLI {
		return nil, false, p.total, true
	}
	if p.next >= len(p.chunks) {
		return nil, false, 0, false
	}
	n := uint64(p.chunks[p.next])
	lli = &lliDone{index: p.next, n: n}
	p.next++
	p.done += n
	if p.done >= p.total {
		return lli, p.notify, p.total, true
	}
	return lli, p.notify, 0, false
}

// pipe is the channel info of one allocated pipe.
type pipe struct {
	id PipeID

	// mu serializes changes to the declarative parameters against Enable.
	mu sync.Mutex

	// +checklocks:mu
	desc PipeDescriptor
	// +checklocks:mu
	addr [2]uint64
	// sg holds client lists, backed by slots of the engine's element
	// pool. sgSlot is -1 when a side has no list.
	//
	// +checklocks:mu
	sg [2][]SGEntry
	// +checklocks:mu
	sgSlot [2]int

	// phys is the assigned physical channel or NoChannel.
	//
	// +checklocks:mu
	phys PhysChan
	// chanID is the lookup table slot the pipe owns, or NoChannelID.
	//
	// +checklocks:mu
	chanID ChannelID

	// active is set from Enable to Disable.
	//
	// +checklocks:mu
	active bool
	// paused is set by Pause while active.
	//
	// +checklocks:mu
	paused bool
	// invalid is set whenever parameters change, and cleared when the
	// descriptor chain is rebuilt.
	//
	// +checklocks:mu
	invalid bool

	// chunks is the layout of the chain currently in descriptor memory.
	//
	// +checklocks:mu
	chunks []uint32
	// physBlk and lclaBlk are the descriptor blocks held per side, or -1.
	//
	// +checklocks:mu
	physBlk [2]int
	// +checklocks:mu
	lclaBlk [2]int

	cb   atomic.Pointer[callback]
	prog progress
}

func newPipe(id PipeID, desc PipeDescriptor) *pipe {
	return &pipe{
		id:      id,
		desc:    desc,
		sgSlot:  [2]int{-1, -1},
		phys:    NoChannel,
		chanID:  NoChannelID,
		invalid: true,
		physBlk: [2]int{-1, -1},
		lclaBlk: [2]int{-1, -1},
	}
}

// pipeTable issues pipe ids. A pipe id is valid iff its bit is set.
type pipeTable struct {
	mu sync.Mutex
	// +checklocks:mu
	ids bitmap.Bitmap
	// +checklocks:mu
	pipes [MaxPipes]*pipe
}

func newPipeTable() *pipeTable {
	return &pipeTable{ids: bitmap.New(MaxPipes)}
}

// alloc assigns the first free id to a new pipe.
func (t *pipeTable) alloc(desc PipeDescriptor) (*pipe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, err := t.ids.TakeFirstZero(0)
	if err != nil {
		return nil, fmt.Errorf("all %d pipe ids in use: %w", MaxPipes, dmaerr.EBUSY)
	}
	p := newPipe(PipeID(id), desc)
	t.pipes[id] = p
	return p, nil
}

// free releases id.
func (t *pipeTable) free(id PipeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids.Remove(uint32(id))
	t.pipes[id] = nil
}

// get validates id and returns its pipe.
func (t *pipeTable) get(id PipeID) (*pipe, error) {
	if id < 0 || id >= MaxPipes {
		return nil, fmt.Errorf("pipe id %d out of range: %w", id, dmaerr.EINVAL)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ids.IsSet(uint32(id)) {
		return nil, fmt.Errorf("pipe id %d not allocated: %w", id, dmaerr.EINVAL)
	}
	return t.pipes[id], nil
}

// count returns the number of allocated ids.
func (t *pipeTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.ids.Count())
}

// list returns the allocated ids in order.
func (t *pipeTable) list() []PipeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PipeID
	for _, id := range t.ids.ToSlice() {
		out = append(out, PipeID(id))
	}
	return out
}
