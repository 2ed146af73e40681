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
	"ux500.dev/dma40/pkg/dma40/hwreg"
)

// Plan is the descriptor layout chosen for a transfer.
type Plan struct {
	// LLISize is the largest number of bytes one descriptor moves.
	LLISize uint32

	// Chunks holds the byte length of each descriptor.
	Chunks []uint32

	// Budget is the longest chain the mode permits.
	Budget int
}

// Count returns the number of descriptors.
func (p Plan) Count() int {
	return len(p.Chunks)
}

// lliSize is the byte capacity of one descriptor: the element counter
// limit times the narrower width.
func lliSize(src, dst Width) uint32 {
	return MaxElements * uint32(min(src, dst))
}

// lliCount returns ceil(length / size).
func lliCount(length, size uint32) int {
	return int((uint64(length) + uint64(size) - 1) / uint64(size))
}

func budget(m Mode) int {
	if m == ModeLogical {
		return MaxLogicalLLIs
	}
	return MaxPhysLLIs
}

// PlanChunks splits a transfer of length bytes into descriptors. Every
// descriptor but the last carries the largest multiple of the wider width
// that fits lliSize bytes, and the last the remainder. With equal widths
// that is lliSize itself; with mixed widths the chain may need one
// descriptor more than length/lliSize. The plan is returned even when it
// fails the chain budget or the widths, so callers can show why.
func PlanChunks(length uint32, src, dst Width, mode Mode) (Plan, error) {
	if !src.valid() || !dst.valid() {
		return Plan{}, invalid("widths %d/%d", src, dst)
	}
	if length == 0 {
		return Plan{}, invalid("zero length transfer")
	}
	size := lliSize(src, dst)
	step := size - size%uint32(max(src, dst))
	n := lliCount(length, step)
	p := Plan{LLISize: size, Chunks: make([]uint32, n), Budget: budget(mode)}
	for i := range p.Chunks {
		p.Chunks[i] = step
	}
	p.Chunks[n-1] = length - uint32(n-1)*step
	if n > p.Budget {
		return p, invalid("%d bytes need %d descriptors, %v mode allows %d", length, n, mode, p.Budget)
	}
	if err := checkChunks(p.Chunks, src, dst); err != nil {
		return p, err
	}
	return p, nil
}

// checkChunks verifies that every chunk is a whole number of elements on
// both sides and fits the element counter.
func checkChunks(chunks []uint32, src, dst Width) error {
	wide := uint32(max(src, dst))
	size := lliSize(src, dst)
	for i, c := range chunks {
		if c == 0 || c > size {
			return invalid("descriptor %d length %d outside (0, %d]", i, c, size)
		}
		if c%wide != 0 {
			return invalid("descriptor %d length %d not a multiple of width %d", i, c, wide)
		}
	}
	return nil
}

// synthesize lays chunks out from base. An incrementing side advances by
// each chunk; a fixed side, a peripheral FIFO, repeats base.
func synthesize(base uint64, incr bool, chunks []uint32) []SGEntry {
	sg := make([]SGEntry, len(chunks))
	addr := base
	for i, c := range chunks {
		sg[i] = SGEntry{Addr: addr, Len: c}
		if incr {
			addr += uint64(c)
		}
	}
	return sg
}

// physCfg returns the CFG word shared by every descriptor of a half
// channel, without TIM.
func physCfg(ep *Endpoint, periph bool, prio Priority) uint32 {
	psize, _ := ep.Burst.psize()
	cfg := hwreg.CfgESIZE.Put(0, ep.Width.esize())
	cfg = hwreg.CfgPSIZE.Put(cfg, psize)
	cfg |= hwreg.CfgEIM
	if ep.Endian == BigEndian {
		cfg |= hwreg.CfgLBE
	}
	if prio == PriorityHigh {
		cfg |= hwreg.CfgPRI
	}
	if periph {
		cfg = hwreg.CfgEVTL.Put(cfg, uint32(ep.Device%hwreg.LinesPerGroup))
	}
	return cfg
}

// physElt returns the ELT word for elems elements.
func physElt(elems uint32, incr bool) uint32 {
	elt := hwreg.EltECNT.Put(0, elems)
	if incr {
		elt = hwreg.EltEIDX.Put(elt, 1)
	}
	return elt
}

// physChain encodes one half channel. links[i] is the bus address that
// descriptor i+1 will be stored at. tim reports whether descriptor i raises
// the terminal count interrupt.
func physChain(ep *Endpoint, cfg uint32, sg []SGEntry, links []uint64, tim func(int) bool) []hwreg.PhysLLI {
	out := make([]hwreg.PhysLLI, len(sg))
	for i, e := range sg {
		l := hwreg.PhysLLI{
			CFG: cfg,
			ELT: physElt(e.Len/uint32(ep.Width), ep.Increment),
			PTR: uint32(e.Addr),
		}
		if tim(i) {
			l.CFG |= hwreg.CfgTIM
		}
		if i+1 < len(sg) {
			l.LNK = uint32(links[i]) & hwreg.LnkAddrMask
		}
		out[i] = l
	}
	return out
}

// logFlags returns word 1 of a logical record without address or link.
func logFlags(ep *Endpoint, periph bool) uint32 {
	psize, _ := ep.Burst.psize()
	w := hwreg.LogESIZE.Put(0, ep.Width.esize())
	w = hwreg.LogPSIZE.Put(w, psize)
	w |= hwreg.LogEIM
	if ep.Increment {
		w |= hwreg.LogINCR
	}
	if periph {
		w |= hwreg.LogMST
	}
	return w
}

// logChain encodes one logical half channel. slots[i] is the LCLA slot
// that descriptor i+1 will occupy.
func logChain(ep *Endpoint, flags uint32, sg []SGEntry, slots []uint32, tim func(int) bool) []hwreg.LogRecord {
	out := make([]hwreg.LogRecord, len(sg))
	for i, e := range sg {
		addr := uint32(e.Addr)
		r := hwreg.LogRecord{
			W0: hwreg.LogECNT.Put(hwreg.LogPTRLo.Put(0, addr), e.Len/uint32(ep.Width)),
			W1: hwreg.LogPTRHi.Put(flags, addr>>16),
		}
		if tim(i) {
			r.W1 |= hwreg.LogTIM
		}
		if i+1 < len(sg) {
			r.W1 = hwreg.LogLOS.Put(r.W1, slots[i])
		}
		out[i] = r
	}
	return out
}
