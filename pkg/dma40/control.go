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

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/log"
)

// command writes cmd to ch's ACTIVE field, leaving every other channel
// alone.
func (e *Engine) command(ch PhysChan, cmd uint32) {
	off, shift := hwreg.Pair(hwreg.ACTIVE, hwreg.ACTIVO, uint32(ch))
	e.regs.Write32(off, hwreg.TwoBitWrite(shift, cmd))
}

// chanState reads ch's activation state.
func (e *Engine) chanState(ch PhysChan) uint32 {
	off, shift := hwreg.Pair(hwreg.ACTIVE, hwreg.ACTIVO, uint32(ch))
	return hwreg.TwoBits(e.regs.Read32(off), shift)
}

// run starts or resumes ch.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) run(ch PhysChan) {
	e.command(ch, hwreg.CmdRun)
}

// suspend requests a suspend of ch and polls, within the configured bound,
// until the channel reports suspended or stopped. A channel that never
// settles is left as it is and the call fails with ETIMEDOUT.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) suspend(ch PhysChan) error {
	if st := e.chanState(ch); st == hwreg.StateStopped || st == hwreg.StateSuspended {
		return nil
	}
	e.command(ch, hwreg.CmdSuspend)
	err := mmio.Poll(uint64(e.cfg.SuspendRetries), e.cfg.SuspendInterval, func() bool {
		st := e.chanState(ch)
		return st == hwreg.StateSuspended || st == hwreg.StateStopped
	})
	if err != nil {
		log.Warningf("Unable to suspend physical channel %d: %v", ch, err)
		return fmt.Errorf("suspending physical channel %d: %w", ch, err)
	}
	return nil
}

// halt suspends and then stops ch.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) halt(ch PhysChan) error {
	if err := e.suspend(ch); err != nil {
		return err
	}
	e.command(ch, hwreg.CmdStop)
	return nil
}

// stopChannel halts ch under its configuration lock.
func (e *Engine) stopChannel(ch PhysChan) error {
	e.chanMu[ch].Lock()
	defer e.chanMu[ch].Unlock()
	return e.halt(ch)
}

// lineReg returns the link register carrying the event line of a logical
// half channel.
func lineReg(ch PhysChan, s Side) uint32 {
	if s == Src {
		return hwreg.ChanReg(uint32(ch), hwreg.SSLNK)
	}
	return hwreg.ChanReg(uint32(ch), hwreg.SDLNK)
}

// setLine activates or deactivates an event line of a logical-mode channel.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) setLine(ch PhysChan, s Side, line uint32, on bool) {
	cmd := uint32(hwreg.LineDeactivate)
	if on {
		cmd = hwreg.LineActivate
	}
	e.regs.Write32(lineReg(ch, s), hwreg.TwoBitWrite(2*line, cmd))
}

// lineActive reports whether an event line is active.
func (e *Engine) lineActive(ch PhysChan, s Side, line uint32) bool {
	return hwreg.TwoBits(e.regs.Read32(lineReg(ch, s)), 2*line) == hwreg.LineActivate
}

// setLines switches every event line a logical pipe uses.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) setLines(ch PhysChan, d *PipeDescriptor, on bool) {
	if d.Direction.srcPeriph() {
		e.setLine(ch, Src, uint32(d.Src.Device%hwreg.LinesPerGroup), on)
	}
	if d.Direction.dstPeriph() {
		e.setLine(ch, Dst, uint32(d.Dst.Device%hwreg.LinesPerGroup), on)
	}
}

// modify performs a read-modify-write of a shared global register.
func (e *Engine) modify(off, mask, val uint32) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	mmio.Modify(e.regs, off, mask, val)
}

// programMode writes ch's mode, security and option fields, once per
// claim of the channel.
//
// +checklocks:e.chanMu[ch]
func (e *Engine) programMode(ch PhysChan, mode Mode, sec Security) {
	if !e.reg.needsProgram(ch) {
		return
	}
	m := uint32(hwreg.ModePhysical)
	if mode == ModeLogical {
		m = hwreg.ModeLogical
	}
	off, shift := hwreg.Pair(hwreg.PRSME, hwreg.PRSMO, uint32(ch))
	e.modify(off, 3<<shift, sec.field()<<shift)
	off, shift = hwreg.Pair(hwreg.PRMSE, hwreg.PRMSO, uint32(ch))
	e.modify(off, 3<<shift, m<<shift)
	off, shift = hwreg.Pair(hwreg.PRMOE, hwreg.PRMOO, uint32(ch))
	e.modify(off, 3<<shift, 0)
	if mode == ModeLogical {
		// Interrupt enables for the logical channels multiplexed here;
		// event lines all start inactive.
		e.regs.Write32(hwreg.ChanReg(uint32(ch), hwreg.SSCFG), hwreg.CfgEIM)
		e.regs.Write32(hwreg.ChanReg(uint32(ch), hwreg.SDCFG), hwreg.CfgEIM|hwreg.CfgTIM)
		e.regs.Write32(hwreg.ChanReg(uint32(ch), hwreg.SSLNK), 0)
		e.regs.Write32(hwreg.ChanReg(uint32(ch), hwreg.SDLNK), 0)
	}
	e.reg.markProgrammed(ch)
	log.Debugf("Programmed physical channel %d: %v, %v", ch, mode, sec)
}
