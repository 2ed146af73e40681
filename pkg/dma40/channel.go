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

	"ux500.dev/dma40/pkg/cleanup"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
)

// layout computes the descriptor lengths and per-side scatter-gather lists
// for p's current parameters. A side without a client list is synthesized
// from its address: memory advances by each chunk, a peripheral FIFO stays
// put.
//
// +checklocks:p.mu
func (e *Engine) layout(p *pipe) ([]uint32, [2][]SGEntry, error) {
	var sides [2][]SGEntry
	d := &p.desc
	for _, s := range []Side{Src, Dst} {
		if d.endpoint(s).Buffer == ScatterGather && p.sg[s] == nil {
			return nil, sides, invalid("pipe %d: %v is scatter-gather but has no list", p.id, s)
		}
	}

	var chunks []uint32
	switch {
	case p.sg[Src] != nil || p.sg[Dst] != nil:
		list := p.sg[Src]
		if list == nil {
			list = p.sg[Dst]
		}
		chunks = make([]uint32, len(list))
		for i, ent := range list {
			chunks[i] = ent.Len
		}
		if p.sg[Src] != nil && p.sg[Dst] != nil {
			if len(p.sg[Src]) != len(p.sg[Dst]) {
				return nil, sides, invalid("pipe %d: source list has %d entries, destination %d", p.id, len(p.sg[Src]), len(p.sg[Dst]))
			}
			for i := range p.sg[Dst] {
				if p.sg[Dst][i].Len != chunks[i] {
					return nil, sides, invalid("pipe %d: entry %d length differs between sides", p.id, i)
				}
			}
		}
		if n, b := len(chunks), budget(d.Mode); n > b {
			return nil, sides, invalid("pipe %d: %d descriptors, %v mode allows %d", p.id, n, d.Mode, b)
		}
		if err := checkChunks(chunks, d.Src.Width, d.Dst.Width); err != nil {
			return nil, sides, err
		}
	default:
		plan, err := PlanChunks(d.Length, d.Src.Width, d.Dst.Width, d.Mode)
		if err != nil {
			return nil, sides, fmt.Errorf("pipe %d: %w", p.id, err)
		}
		chunks = plan.Chunks
	}

	for _, s := range []Side{Src, Dst} {
		if p.sg[s] != nil {
			sides[s] = p.sg[s]
		} else {
			sides[s] = synthesize(p.addr[s], !d.periph(s), chunks)
		}
		for i, ent := range sides[s] {
			if ent.Addr+uint64(ent.Len) > 1<<32 {
				return nil, sides, invalid("pipe %d: %v entry %d at %#x beyond 32-bit bus", p.id, s, i, ent.Addr)
			}
		}
	}
	return chunks, sides, nil
}

// checkGroup verifies that a logical channel id and the physical channel it
// was placed on agree on the event group. The two are computed
// independently, from the device number and from the group search.
func (e *Engine) checkGroup(id ChannelID, ch PhysChan) error {
	if g, pg := id.group(), hwreg.GroupOf(uint32(ch)); g != pg {
		msg := fmt.Sprintf("logical channel %d (group %d) placed on physical channel %d (group %d)", id, g, ch, pg)
		if e.cfg.Strict {
			panic("dma40: " + msg)
		}
		log.Warningf("%s", msg)
		return invalid("%s", msg)
	}
	return nil
}

// claimLogical takes the lookup slot of p's logical channel.
//
// +checklocks:p.mu
func (e *Engine) claimLogical(p *pipe, id ChannelID) error {
	if p.chanID == id {
		return nil
	}
	if !e.lookup[id].CompareAndSwap(nil, p) {
		return fmt.Errorf("logical channel %d already in use: %w", id, dmaerr.EBUSY)
	}
	p.chanID = id
	return nil
}

// unclaim gives back p's lookup slot.
//
// +checklocks:p.mu
func (e *Engine) unclaim(p *pipe) {
	if p.chanID == NoChannelID {
		return
	}
	e.lookup[p.chanID].CompareAndSwap(p, nil)
	p.chanID = NoChannelID
}

// attach assigns a physical channel to p if it has none.
//
// +checklocks:p.mu
func (e *Engine) attach(p *pipe) error {
	if p.phys != NoChannel {
		return nil
	}
	d := &p.desc
	ch, err := e.reg.allocate(d.Mode, d.group(), d.Security)
	if err != nil {
		return fmt.Errorf("pipe %d: %w", p.id, err)
	}
	if d.Mode == ModeLogical {
		if err := e.checkGroup(p.chanID, ch); err != nil {
			drain, rerr := e.reg.release(ch, ModeLogical)
			if rerr != nil {
				log.Warningf("Pipe %d: %v", p.id, rerr)
			}
			if drain {
				e.reg.finishDrain(ch, true)
			}
			return err
		}
	} else {
		id := physicalID(ch)
		e.lookup[id].Store(p)
		p.chanID = id
	}
	p.phys = ch
	p.invalid = true
	log.Debugf("Pipe %d: assigned physical channel %d (%v)", p.id, ch, d.Mode)
	return nil
}

// detach releases p's descriptor blocks and physical channel. When p was
// the last logical user the channel is stopped before it becomes free; if
// it cannot be stopped it is marked faulted and an error returned, but p is
// detached regardless.
//
// +checklocks:p.mu
func (e *Engine) detach(p *pipe) error {
	if p.phys == NoChannel {
		return nil
	}
	e.releaseBlocks(p)
	ch, mode := p.phys, p.desc.Mode
	if mode == ModePhysical {
		e.unclaim(p)
	}
	p.phys = NoChannel
	p.invalid = true
	p.chunks = nil

	drain, err := e.reg.release(ch, mode)
	if err != nil {
		return err
	}
	if drain {
		serr := e.stopChannel(ch)
		e.reg.finishDrain(ch, serr == nil)
		if serr != nil {
			return fmt.Errorf("physical channel %d faulted after last logical user left: %w", ch, serr)
		}
		log.Debugf("Physical channel %d drained and free", ch)
	}
	return nil
}

// releaseBlocks returns p's descriptor blocks to their pools.
//
// +checklocks:p.mu
func (e *Engine) releaseBlocks(p *pipe) {
	for s := range p.physBlk {
		if p.physBlk[s] >= 0 {
			e.releaseBlock(p, false, uint32(p.physBlk[s]))
			p.physBlk[s] = -1
		}
		if p.lclaBlk[s] >= 0 {
			e.releaseBlock(p, true, uint32(p.lclaBlk[s]))
			p.lclaBlk[s] = -1
		}
	}
}

// releaseBlock returns block idx to the LCLA partition of p's channel or
// to the physical LLI pool.
//
// +checklocks:p.mu
func (e *Engine) releaseBlock(p *pipe, logical bool, idx uint32) {
	var err error
	if logical {
		err = e.lcla.ReleaseFor(uint32(p.phys), idx)
	} else {
		err = e.physPool.Release(idx)
	}
	if err != nil {
		log.Warningf("Pipe %d: %v", p.id, err)
	}
}

// holdBlocks makes p hold exactly one block per side of the given kind when
// need is set, and none otherwise. Blocks taken here are given back through
// cu if the caller fails later.
//
// +checklocks:p.mu
func (e *Engine) holdBlocks(p *pipe, need bool, cu *cleanup.Cleanup) error {
	logical := p.desc.Mode == ModeLogical
	blk := &p.physBlk
	if logical {
		blk = &p.lclaBlk
	}
	for s := range blk {
		switch {
		case need && blk[s] < 0:
			var idx uint32
			var err error
			if logical {
				idx, err = e.lcla.AllocFor(uint32(p.phys))
			} else {
				idx, err = e.physPool.Alloc()
			}
			if err != nil {
				return fmt.Errorf("pipe %d: %w", p.id, err)
			}
			blk[s] = int(idx)
			cu.Add(func() {
				e.releaseBlock(p, logical, idx)
				blk[s] = -1
			})
		case !need && blk[s] >= 0:
			e.releaseBlock(p, logical, uint32(blk[s]))
			blk[s] = -1
		}
	}
	return nil
}

// physLinks returns the bus addresses of descriptors 1..n-1 of side s.
//
// +checklocks:p.mu
func (e *Engine) physLinks(p *pipe, s Side, n int) []uint64 {
	if n <= 1 {
		return nil
	}
	base := e.physPool.BusAddr(uint32(p.physBlk[s]))
	links := make([]uint64, n-1)
	for i := range links {
		links[i] = base + uint64(i*hwreg.PhysLLISize)
	}
	return links
}

// lclaSlots returns the LCLA slots of descriptors 1..n-1 of side s.
//
// +checklocks:p.mu
func (e *Engine) lclaSlots(p *pipe, s Side, n int) []uint32 {
	if n <= 1 {
		return nil
	}
	slots := make([]uint32, n-1)
	for i := range slots {
		slots[i] = uint32(p.lclaBlk[s]*hwreg.LogRecordsPerBlock + i)
	}
	return slots
}

// timOn returns the interrupt policy for n descriptors: only the last, or
// every one.
func timOn(d *PipeDescriptor, n int) func(int) bool {
	if d.perLLI() {
		return func(int) bool { return true }
	}
	return func(i int) bool { return i == n-1 }
}

func timNever(int) bool { return false }

// programPhys writes the descriptor chain of a physical-mode pipe: the
// first descriptor to the live registers and the rest to pool blocks.
//
// +checklocks:p.mu
// +checklocks:e.chanMu[p.phys]
func (e *Engine) programPhys(p *pipe, chunks []uint32, sides [2][]SGEntry) error {
	d := &p.desc
	n := len(chunks)
	cu := cleanup.Make(func() {})
	defer cu.Clean()
	if err := e.holdBlocks(p, n > 1, &cu); err != nil {
		return err
	}

	ch := uint32(p.phys)
	for _, s := range []Side{Src, Dst} {
		ep := d.endpoint(s)
		tim := timNever
		if s == Dst {
			tim = timOn(d, n)
		}
		chain := physChain(ep, physCfg(ep, d.periph(s), d.Priority), sides[s], e.physLinks(p, s, n), tim)
		for i := 1; i < n; i++ {
			blk := e.physPool.Block(uint32(p.physBlk[s]))
			chain[i].Put(blk.CPU[(i-1)*hwreg.PhysLLISize:])
		}
		base := uint32(hwreg.SSCFG)
		if s == Dst {
			base = hwreg.SDCFG
		}
		e.regs.Write32(hwreg.ChanReg(ch, base), chain[0].CFG)
		e.regs.Write32(hwreg.ChanReg(ch, base+4), chain[0].ELT)
		e.regs.Write32(hwreg.ChanReg(ch, base+8), chain[0].PTR)
		e.regs.Write32(hwreg.ChanReg(ch, base+12), chain[0].LNK)
	}
	cu.Release()
	return nil
}

// programLogical writes the parameters of a logical-mode pipe: the first
// descriptor to its LCPA entry and the rest to LCLA blocks of its physical
// channel.
//
// +checklocks:p.mu
// +checklocks:e.chanMu[p.phys]
func (e *Engine) programLogical(p *pipe, chunks []uint32, sides [2][]SGEntry) error {
	d := &p.desc
	n := len(chunks)
	cu := cleanup.Make(func() {})
	defer cu.Clean()
	if err := e.holdBlocks(p, n > 1, &cu); err != nil {
		return err
	}

	entry := e.lcpa.Block(uint32(p.chanID))
	for _, s := range []Side{Src, Dst} {
		ep := d.endpoint(s)
		tim := timNever
		if s == Dst {
			tim = timOn(d, n)
		}
		chain := logChain(ep, logFlags(ep, d.periph(s)), sides[s], e.lclaSlots(p, s, n), tim)
		for i := 1; i < n; i++ {
			blk := e.lcla.BlockFor(uint32(p.phys), uint32(p.lclaBlk[s]))
			chain[i].Put(blk.CPU[(i-1)*hwreg.LogRecordSize:])
		}
		half := hwreg.LCPASrc
		if s == Dst {
			half = hwreg.LCPADst
		}
		chain[0].Put(entry.CPU[half:])
	}
	cu.Release()
	return nil
}

// remaining returns the bytes p has yet to move: the live element count of
// the current destination descriptor plus every descriptor not yet loaded.
// The channel must be suspended or p's event line inactive.
//
// +checklocks:p.mu
func (e *Engine) remaining(p *pipe) uint64 {
	d := &p.desc
	w := uint64(d.Dst.Width)
	var elems uint32
	next := 0
	if d.Mode == ModeLogical {
		r := hwreg.GetLogRecord(e.lcpa.Block(uint32(p.chanID)).CPU[hwreg.LCPADst:])
		elems = hwreg.LogECNT.Get(r.W0)
		if los := hwreg.LogLOS.Get(r.W1); los != 0 && p.lclaBlk[Dst] >= 0 {
			next = int(los) - p.lclaBlk[Dst]*hwreg.LogRecordsPerBlock + 1
		}
	} else {
		ch := uint32(p.phys)
		elems = hwreg.EltECNT.Get(e.regs.Read32(hwreg.ChanReg(ch, hwreg.SDELT)))
		lnk := e.regs.Read32(hwreg.ChanReg(ch, hwreg.SDLNK)) & hwreg.LnkAddrMask
		if lnk != 0 && p.physBlk[Dst] >= 0 {
			base := e.physPool.BusAddr(uint32(p.physBlk[Dst]))
			next = int((uint64(lnk)-base)/hwreg.PhysLLISize) + 1
		}
	}
	rem := uint64(elems) * w
	if next > 0 {
		for _, c := range p.chunks[min(next, len(p.chunks)):] {
			rem += uint64(c)
		}
	}
	return rem
}
