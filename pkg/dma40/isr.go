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
	"math/bits"

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// HandleInterrupt services the controller's interrupt line. Every status
// bit seen is acknowledged before the owner is notified. Error bits are
// reported at once through TransferFailed and suppress a terminal count
// raised for the same channel in the same pass. It returns the number of
// events handled.
//
// HandleInterrupt takes no engine locks. Calls must not overlap, as on a
// single interrupt line. Completers run on the calling goroutine.
func (e *Engine) HandleInterrupt() int {
	e.interrupts.Add(1)
	n := 0

	physMask := uint32(1<<e.cfg.PhysChannels - 1)
	if e.cfg.PhysChannels == 32 {
		physMask = ^uint32(0)
	}
	perr := e.ack(hwreg.PCEIS)
	ptc := e.ack(hwreg.PCTIS)
	n += e.dispatch(perr&physMask, ptc&physMask, hwreg.PhysChannelIDBase)
	if stray := (perr | ptc) &^ physMask; stray != 0 {
		e.isrLog.Warningf("Status for unimplemented physical channels %#x", stray)
	}

	for b := uint32(0); b < hwreg.StatusBanks; b++ {
		lerr := e.ack(hwreg.LCEIS1 + 4*b)
		ltc := e.ack(hwreg.LCTIS1 + 4*b)
		n += e.dispatch(lerr, ltc, b*32)
	}
	return n
}

// ack reads a status register and clears every bit it read.
func (e *Engine) ack(off uint32) uint32 {
	v := e.regs.Read32(off)
	if v != 0 {
		e.regs.Write32(off, v)
	}
	return v
}

func (e *Engine) dispatch(errBits, tcBits uint32, base uint32) int {
	n := 0
	for v := errBits; v != 0; v &= v - 1 {
		e.failed(ChannelID(base + uint32(bits.TrailingZeros32(v))))
		n++
	}
	for v := tcBits &^ errBits; v != 0; v &= v - 1 {
		e.completed(ChannelID(base + uint32(bits.TrailingZeros32(v))))
		n++
	}
	return n
}

func (e *Engine) owner(id ChannelID, what string) *pipe {
	p := e.lookup[id].Load()
	if p == nil {
		e.unknown.Add(1)
		e.isrLog.Warningf("%s on channel %d with no pipe", what, id)
	}
	return p
}

func (e *Engine) completed(id ChannelID) {
	p := e.owner(id, "Terminal count")
	if p == nil {
		return
	}
	lli, notify, total, complete := p.prog.advance()
	cb := p.cb.Load()
	if cb == nil {
		return
	}
	if lli != nil && notify {
		if lc, ok := cb.c.(LLICompleter); ok {
			lc.LLIComplete(p.id, lli.index, lli.n, cb.data)
		}
	}
	if complete {
		cb.c.TransferComplete(p.id, total, cb.data)
	}
}

func (e *Engine) failed(id ChannelID) {
	e.errors.Add(1)
	p := e.owner(id, "Transfer error")
	if p == nil {
		return
	}
	e.isrLog.Warningf("Transfer error on channel %d, pipe %d", id, p.id)
	if cb := p.cb.Load(); cb != nil {
		cb.c.TransferFailed(p.id, fmt.Errorf("channel %d: %w", id, dmaerr.EIO), cb.data)
	}
}
