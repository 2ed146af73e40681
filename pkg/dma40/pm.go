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
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
)

// Suspend saves the global control registers ahead of a system suspend.
// It fails with EBUSY while any pipe is active.
func (e *Engine) Suspend() error {
	for _, id := range e.pipes.list() {
		p, err := e.pipes.get(id)
		if err != nil {
			continue
		}
		p.mu.Lock()
		active := p.active
		p.mu.Unlock()
		if active {
			return fmt.Errorf("suspend: pipe %d active: %w", id, dmaerr.EBUSY)
		}
	}
	e.pmMu.Lock()
	defer e.pmMu.Unlock()
	e.saved = make([]uint32, len(hwreg.Saved))
	for i, off := range hwreg.Saved {
		e.saved[i] = e.regs.Read32(off)
	}
	log.Debugf("Saved %d global registers", len(e.saved))
	return nil
}

// Resume restores the registers saved by Suspend.
func (e *Engine) Resume() error {
	e.pmMu.Lock()
	defer e.pmMu.Unlock()
	if e.saved == nil {
		return fmt.Errorf("resume without suspend: %w", dmaerr.EINVAL)
	}
	// GCC is first in the list; enable the controller last.
	for i := len(hwreg.Saved) - 1; i >= 0; i-- {
		e.regs.Write32(hwreg.Saved[i], e.saved[i])
	}
	e.saved = nil
	return nil
}

// ChannelStats describes one physical channel.
type ChannelStats struct {
	Channel PhysChan
	Status  string
	Users   int
	Active  int
	State   string
}

// Stats is a snapshot of engine state.
type Stats struct {
	Pipes      int
	Interrupts uint64
	Errors     uint64
	Unknown    uint64
	PhysBlocks int
	LCLABlocks int
	SGSlots    int
	Channels   []ChannelStats
}

var stateNames = [...]string{
	hwreg.StateStopped:        "stopped",
	hwreg.StateRunning:        "running",
	hwreg.StateSuspendPending: "suspending",
	hwreg.StateSuspended:      "suspended",
}

// Stats returns a snapshot of pipe, pool and channel state.
func (e *Engine) Stats() Stats {
	st, users := e.reg.snapshot()
	s := Stats{
		Pipes:      e.pipes.count(),
		Interrupts: e.interrupts.Load(),
		Errors:     e.errors.Load(),
		Unknown:    e.unknown.Load(),
		PhysBlocks: e.physPool.Live(),
		LCLABlocks: e.lcla.Live(),
		SGSlots:    e.sgPool.InUse(),
		Channels:   make([]ChannelStats, len(st)),
	}
	for i := range st {
		ch := PhysChan(i)
		e.chanMu[i].Lock()
		active := e.activeLogical[i]
		e.chanMu[i].Unlock()
		s.Channels[i] = ChannelStats{
			Channel: ch,
			Status:  st[i].String(),
			Users:   users[i],
			Active:  active,
			State:   stateNames[e.chanState(ch)],
		}
	}
	return s
}
