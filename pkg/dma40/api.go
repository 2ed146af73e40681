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

	"github.com/mohae/deepcopy"
	"ux500.dev/dma40/pkg/cleanup"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
)

// pipe validates id and returns its pipe, logging bad handles.
func (e *Engine) pipe(id PipeID, op string) (*pipe, error) {
	p, err := e.pipes.get(id)
	if err != nil {
		log.Warningf("%s: %v", op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// busy reports a change to a running pipe.
func busy(p *pipe, op string) error {
	log.Warningf("%s: pipe %d modified while active", op, p.id)
	return fmt.Errorf("%s: pipe %d is active: %w", op, p.id, dmaerr.EBUSY)
}

func snapshot(d PipeDescriptor) PipeDescriptor {
	return deepcopy.Copy(d).(PipeDescriptor)
}

func (e *Engine) checkSG(list []SGEntry) error {
	if len(list) > e.sgPool.Capacity() {
		return invalid("scatter-gather list of %d entries, at most %d", len(list), e.sgPool.Capacity())
	}
	for i, ent := range list {
		if ent.Len == 0 {
			return invalid("scatter-gather entry %d is empty", i)
		}
	}
	if total := sgTotal(list); total > 0xffffffff {
		return invalid("scatter-gather total %d bytes overflows", total)
	}
	return nil
}

func sgTotal(list []SGEntry) uint64 {
	var total uint64
	for _, ent := range list {
		total += uint64(ent.Len)
	}
	return total
}

// Request allocates a pipe described by desc. With desc.Reserve set a
// physical channel is claimed immediately.
func (e *Engine) Request(desc PipeDescriptor) (PipeID, error) {
	d := snapshot(desc)
	if err := d.validate(); err != nil {
		return -1, fmt.Errorf("request: %w", err)
	}
	if err := e.checkSG(d.SrcSG); err != nil {
		return -1, fmt.Errorf("request: %w", err)
	}
	if err := e.checkSG(d.DstSG); err != nil {
		return -1, fmt.Errorf("request: %w", err)
	}
	p, err := e.pipes.alloc(PipeDescriptor{})
	if err != nil {
		return -1, fmt.Errorf("request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cu := cleanup.Make(func() {
		e.dropAll(p)
		e.pipes.free(p.id)
	})
	defer cu.Clean()
	if err := e.configureLocked(p, d); err != nil {
		return -1, fmt.Errorf("request: %w", err)
	}
	cu.Release()
	log.Debugf("Pipe %d allocated: %v, %v mode, %d bytes", p.id, d.Direction, d.Mode, p.desc.Length)
	return p.id, nil
}

// dropAll releases everything p holds. It is used to unwind a failed
// Request, where p never ran.
//
// +checklocks:p.mu
func (e *Engine) dropAll(p *pipe) {
	if err := e.detach(p); err != nil {
		log.Warningf("Pipe %d: %v", p.id, err)
	}
	e.unclaim(p)
	e.dropSG(p, Src)
	e.dropSG(p, Dst)
}

// configureLocked applies d to p. The scatter-gather slots and the new
// logical channel are claimed before p changes, so an ENOMEM or EBUSY
// leaves p as it was. Once p changes, an error from stopping a drained
// channel is still returned, and a failed Reserve claim leaves d applied
// with no channel held; Enable claims one later.
//
// +checklocks:p.mu
func (e *Engine) configureLocked(p *pipe, d PipeDescriptor) error {
	lists := [2][]SGEntry{d.SrcSG, d.DstSG}
	fresh := [2]int{-1, -1}
	var bufs [2][]SGEntry
	cu := cleanup.Make(func() {
		for s := range fresh {
			if fresh[s] >= 0 {
				if err := e.sgPool.Put(uint32(fresh[s])); err != nil {
					log.Warningf("Pipe %d: %v", p.id, err)
				}
			}
		}
	})
	defer cu.Clean()
	for s, list := range lists {
		if len(list) == 0 || p.sgSlot[s] >= 0 {
			continue
		}
		idx, buf, err := e.sgPool.Get()
		if err != nil {
			return err
		}
		fresh[s], bufs[s] = int(idx), buf
	}

	newID := NoChannelID
	if d.Mode == ModeLogical {
		newID = d.logicalID()
	}
	oldID := NoChannelID
	if p.desc.Mode == ModeLogical {
		oldID = p.chanID
	}
	if newID != NoChannelID && newID != oldID {
		if !e.lookup[newID].CompareAndSwap(nil, p) {
			return fmt.Errorf("logical channel %d already in use: %w", newID, dmaerr.EBUSY)
		}
	}
	cu.Release()

	moved := p.phys != NoChannel && (d.Mode != p.desc.Mode || d.Security != p.desc.Security ||
		d.group() != p.desc.group() || newID != oldID)
	var err error
	if moved {
		err = e.detach(p)
	}
	if oldID != NoChannelID && newID != oldID {
		e.lookup[oldID].CompareAndSwap(p, nil)
	}
	switch {
	case newID != NoChannelID:
		p.chanID = newID
	case p.phys == NoChannel:
		p.chanID = NoChannelID
	}

	p.addr = [2]uint64{d.SrcAddr, d.DstAddr}
	d.SrcSG, d.DstSG, d.SrcAddr, d.DstAddr = nil, nil, 0, 0
	p.desc = d
	p.invalid = true
	for s, list := range lists {
		if len(list) == 0 {
			e.dropSG(p, Side(s))
			continue
		}
		if fresh[s] >= 0 {
			p.sgSlot[s], p.sg[s] = fresh[s], bufs[s]
		}
		e.storeSG(p, Side(s), list)
	}
	if d.Reserve {
		if aerr := e.attach(p); aerr != nil {
			return aerr
		}
	}
	return err
}

// SetCallback registers c, with context data, to receive p's completions.
// A nil c drops completions.
func (e *Engine) SetCallback(id PipeID, c Completer, data any) error {
	p, err := e.pipe(id, "set callback")
	if err != nil {
		return err
	}
	if c == nil {
		p.cb.Store(nil)
		return nil
	}
	p.cb.Store(&callback{c: c, data: data})
	return nil
}

// Configure replaces every declarative parameter of an inactive pipe,
// including its addresses and scatter-gather lists. On error the pipe is
// left as it was, except that a failed Reserve claim leaves desc applied
// with no channel held.
func (e *Engine) Configure(id PipeID, desc PipeDescriptor) error {
	p, err := e.pipe(id, "configure")
	if err != nil {
		return err
	}
	d := snapshot(desc)
	if err := d.validate(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := e.checkSG(d.SrcSG); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := e.checkSG(d.DstSG); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return busy(p, "configure")
	}
	if err := e.configureLocked(p, d); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return nil
}

// Descriptor returns a copy of p's current parameters.
func (e *Engine) Descriptor(id PipeID) (PipeDescriptor, error) {
	p, err := e.pipe(id, "descriptor")
	if err != nil {
		return PipeDescriptor{}, err
	}
	p.mu.Lock()
	d := p.desc
	d.SrcAddr, d.DstAddr = p.addr[Src], p.addr[Dst]
	d.SrcSG, d.DstSG = p.sg[Src], p.sg[Dst]
	d = snapshot(d)
	p.mu.Unlock()
	return d, nil
}

// SetAddr sets the source and destination bus addresses.
func (e *Engine) SetAddr(id PipeID, src, dst uint64) error {
	p, err := e.pipe(id, "set addr")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return busy(p, "set addr")
	}
	p.addr = [2]uint64{src, dst}
	p.invalid = true
	return nil
}

// SetCount sets the transfer length in bytes.
func (e *Engine) SetCount(id PipeID, n uint32) error {
	p, err := e.pipe(id, "set count")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return busy(p, "set count")
	}
	p.desc.Length = n
	p.invalid = true
	return nil
}

// SetSG sets the scatter-gather list of side s and makes the transfer
// length its total. An empty list removes the side's list.
func (e *Engine) SetSG(id PipeID, s Side, list []SGEntry) error {
	p, err := e.pipe(id, "set sg")
	if err != nil {
		return err
	}
	if s != Src && s != Dst {
		return fmt.Errorf("set sg: %w", invalid("bad side %d", int(s)))
	}
	if err := e.checkSG(list); err != nil {
		return fmt.Errorf("set sg: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return busy(p, "set sg")
	}
	if len(list) == 0 {
		e.dropSG(p, s)
		p.invalid = true
		return nil
	}
	if err := e.setSGLocked(p, s, list); err != nil {
		return fmt.Errorf("set sg: %w", err)
	}
	return nil
}

// setSGLocked stores list, already checked by checkSG, as p's list for s.
//
// +checklocks:p.mu
func (e *Engine) setSGLocked(p *pipe, s Side, list []SGEntry) error {
	if p.sgSlot[s] < 0 {
		idx, buf, err := e.sgPool.Get()
		if err != nil {
			return err
		}
		p.sgSlot[s] = int(idx)
		p.sg[s] = buf
	}
	e.storeSG(p, s, list)
	return nil
}

// storeSG copies list into the slot p already holds for s.
//
// +checklocks:p.mu
func (e *Engine) storeSG(p *pipe, s Side, list []SGEntry) {
	p.sg[s] = append(p.sg[s][:0], list...)
	p.desc.Length = uint32(sgTotal(list))
	p.invalid = true
}

// +checklocks:p.mu
func (e *Engine) dropSG(p *pipe, s Side) {
	if p.sgSlot[s] < 0 {
		return
	}
	if err := e.sgPool.Put(uint32(p.sgSlot[s])); err != nil {
		log.Warningf("Pipe %d: %v", p.id, err)
	}
	p.sgSlot[s] = -1
	p.sg[s] = nil
}

// Enable programs the pipe's transfer and starts it, claiming a physical
// channel first if the pipe has none.
func (e *Engine) Enable(id PipeID) error {
	p, err := e.pipe(id, "enable")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return busy(p, "enable")
	}
	chunks, sides, err := e.layout(p)
	if err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	if err := e.attach(p); err != nil {
		return fmt.Errorf("enable: %w", err)
	}

	d := &p.desc
	ch := p.phys
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	e.programMode(ch, d.Mode, d.Security)
	if d.Mode == ModeLogical {
		if err := e.programLogical(p, chunks, sides); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
		if e.activeLogical[ch] > 0 {
			if err := e.suspend(ch); err != nil {
				return fmt.Errorf("enable: %w", err)
			}
		}
		p.prog.reset(chunks, d.perLLI(), d.NotifyEachLLI)
		e.setLines(ch, d, true)
		e.activeLogical[ch]++
	} else {
		if err := e.programPhys(p, chunks, sides); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
		p.prog.reset(chunks, d.perLLI(), d.NotifyEachLLI)
	}
	p.chunks = chunks
	p.invalid = false
	p.active = true
	p.paused = false
	e.run(ch)
	log.Debugf("Pipe %d enabled on physical channel %d: %d descriptors", p.id, ch, len(chunks))
	return nil
}

// Disable halts the pipe's transfer without releasing its channel. A
// physical-mode channel is suspended and stopped. A logical pipe's event
// lines are deactivated, and the shared channel is stopped only if no other
// logical pipe on it is active; otherwise it is resumed.
func (e *Engine) Disable(id PipeID) error {
	p, err := e.pipe(id, "disable")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := e.disableLocked(p); err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	return nil
}

// +checklocks:p.mu
func (e *Engine) disableLocked(p *pipe) error {
	if !p.active {
		return nil
	}
	ch := p.phys
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	if p.desc.Mode == ModePhysical {
		if err := e.halt(ch); err != nil {
			return err
		}
	} else {
		if !p.paused {
			if err := e.suspend(ch); err != nil {
				return err
			}
			e.setLines(ch, &p.desc, false)
			e.activeLogical[ch]--
		}
		if e.activeLogical[ch] == 0 {
			e.command(ch, hwreg.CmdStop)
		} else if !p.paused {
			e.run(ch)
		}
	}
	p.active = false
	p.paused = false
	log.Debugf("Pipe %d disabled", p.id)
	return nil
}

// Pause suspends an active pipe keeping its channel and descriptors.
func (e *Engine) Pause(id PipeID) error {
	p, err := e.pipe(id, "pause")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return fmt.Errorf("pause: %w", invalid("pipe %d is not active", p.id))
	}
	if p.paused {
		return nil
	}
	ch := p.phys
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	if err := e.suspend(ch); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if p.desc.Mode == ModeLogical {
		e.setLines(ch, &p.desc, false)
		e.activeLogical[ch]--
		if e.activeLogical[ch] > 0 {
			e.run(ch)
		}
	}
	p.paused = true
	return nil
}

// Unpause resumes a paused pipe.
func (e *Engine) Unpause(id PipeID) error {
	p, err := e.pipe(id, "unpause")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || !p.paused {
		return fmt.Errorf("unpause: %w", invalid("pipe %d is not paused", p.id))
	}
	ch := p.phys
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	if p.desc.Mode == ModeLogical {
		if e.activeLogical[ch] > 0 {
			if err := e.suspend(ch); err != nil {
				return fmt.Errorf("unpause: %w", err)
			}
		}
		e.setLines(ch, &p.desc, true)
		e.activeLogical[ch]++
	}
	e.run(ch)
	p.paused = false
	return nil
}

// Residue returns the bytes the pipe has yet to transfer. The channel is
// suspended around the read. A physical channel with nothing left stays
// suspended; a shared logical channel is always resumed. An inactive pipe
// has no residue.
func (e *Engine) Residue(id PipeID) (uint64, error) {
	p, err := e.pipe(id, "residue")
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return 0, nil
	}
	ch := p.phys
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	if p.paused {
		return e.remaining(p), nil
	}
	if err := e.suspend(ch); err != nil {
		return 0, fmt.Errorf("residue: %w", err)
	}
	rem := e.remaining(p)
	if rem != 0 || p.desc.Mode == ModeLogical {
		e.run(ch)
	}
	return rem, nil
}

// Free halts the pipe if it is active and releases its descriptor blocks,
// physical channel and id. If the halt fails the pipe is left allocated and
// the error returned.
func (e *Engine) Free(id PipeID) error {
	p, err := e.pipe(id, "free")
	if err != nil {
		return err
	}
	p.mu.Lock()
	if err := e.disableLocked(p); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("free: %w", err)
	}
	derr := e.detach(p)
	e.unclaim(p)
	e.dropSG(p, Src)
	e.dropSG(p, Dst)
	p.cb.Store(nil)
	p.mu.Unlock()

	e.pipes.free(id)
	log.Debugf("Pipe %d freed", id)
	if derr != nil {
		return fmt.Errorf("free: %w", derr)
	}
	return nil
}
