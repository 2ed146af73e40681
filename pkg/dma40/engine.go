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

// Package dma40 drives the U8500 DMA40 controller.
//
// An Engine owns one controller: its physical channel registry, the pipe id
// table, the descriptor pools and the interrupt lookup table. Clients
// request a pipe with a PipeDescriptor, point it at memory, and enable it.
// Physical-mode pipes own a physical channel outright; logical-mode pipes
// share one with up to MaxLogicalPerPhys others on the same event group.
//
// Lock order: pipe.mu, then Engine.chanMu[ch], then registry.mu or
// Engine.regMu. The pipe table lock is never held with any other. The
// interrupt handler takes none of them.
package dma40

import (
	"fmt"
	"sync/atomic"
	"time"

	"ux500.dev/dma40/pkg/cleanup"
	"ux500.dev/dma40/pkg/descpool"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/sync"
)

// Engine is one DMA40 controller instance.
type Engine struct {
	cfg   Config
	regs  mmio.Bank
	alloc coherent.Allocator

	reg   *registry
	pipes *pipeTable

	// regMu serializes read-modify-write of the shared global registers.
	regMu sync.Mutex

	// chanMu has one lock per physical channel, held across every
	// command sequence on it.
	chanMu []sync.Mutex
	// activeLogical counts logical pipes with an active event line on
	// each channel. Entry i is guarded by chanMu[i].
	activeLogical []int

	// lookup maps channel ids to pipes for the interrupt handler.
	lookup [hwreg.ChannelIDs]atomic.Pointer[pipe]

	lcpa     *descpool.Pool
	lcla     *descpool.Pool
	physPool *descpool.Pool
	sgPool   *descpool.ElementPool[SGEntry]

	isrLog log.Logger

	interrupts atomic.Uint64
	errors     atomic.Uint64
	unknown    atomic.Uint64

	pmMu sync.Mutex
	// +checklocks:pmMu
	saved []uint32

	closed atomic.Bool
}

// New brings up the controller behind regs, allocating descriptor memory
// from alloc.
func New(regs mmio.Bank, alloc coherent.Allocator, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	e := &Engine{
		cfg:           cfg,
		regs:          regs,
		alloc:         alloc,
		reg:           newRegistry(cfg.PhysChannels, cfg.ReservedChannels),
		pipes:         newPipeTable(),
		chanMu:        make([]sync.Mutex, cfg.PhysChannels),
		activeLogical: make([]int, cfg.PhysChannels),
		isrLog:        log.BurstRateLimitedLogger(log.Log(), time.Second, 10),
	}

	cu := cleanup.Make(func() {})
	defer cu.Clean()

	var err error
	e.lcpa, err = descpool.New(alloc, "lcpa", 16, hwreg.LogicalChannels, hwreg.LCPAAlign)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { e.lcpa.Destroy() })

	if err := e.setupLCLA(); err != nil {
		return nil, err
	}
	cu.Add(func() { e.lcla.Destroy() })

	e.physPool, err = descpool.New(alloc, "phy-lli", hwreg.PhysLLISize*hwreg.PhysLLIsPerBlock, cfg.PhysLLIBlocks, hwreg.PhysLLIAlign)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { e.physPool.Destroy() })

	e.sgPool = descpool.NewElementPool[SGEntry]("sg", cfg.SGBlocks, MaxLogicalLLIs)

	e.regs.Write32(hwreg.LCPA, uint32(e.lcpa.Base().Bus))
	e.regs.Write32(hwreg.LCLA, uint32(e.lcla.Base().Bus))
	e.regs.Write32(hwreg.PRMOE, 0)
	e.regs.Write32(hwreg.PRMOO, 0)
	e.ackAll()
	e.regs.Write32(hwreg.GCC, hwreg.GCCEnable)

	cu.Release()
	log.Infof("DMA40 rev %#x: %d physical channels, %d reserved, LCPA %#x, LCLA %#x",
		e.PeriphID(), cfg.PhysChannels, len(cfg.ReservedChannels), e.lcpa.Base().Bus, e.lcla.Base().Bus)
	return e, nil
}

// setupLCLA places the logical LLI area at the configured address, the
// address firmware left in the LCLA register, or fresh memory.
func (e *Engine) setupLCLA() error {
	base := e.cfg.LCLABase
	if base == 0 {
		base = uint64(e.regs.Read32(hwreg.LCLA))
	}
	blockSize := hwreg.LogRecordSize * hwreg.LogRecordsPerBlock
	var err error
	if base != 0 {
		e.lcla, err = descpool.NewFixed(e.alloc, "lcla", base, blockSize, hwreg.LCLABlocksPerChan, e.cfg.PhysChannels)
	} else {
		e.lcla, err = descpool.NewPartitioned(e.alloc, "lcla", blockSize, hwreg.LCLABlocksPerChan, e.cfg.PhysChannels, hwreg.LCLAPerChannel)
	}
	if err != nil {
		return err
	}
	// Slot 0 of every partition means end of chain, so block 0 is never
	// handed out.
	for ch := 0; ch < e.cfg.PhysChannels; ch++ {
		if err := e.lcla.Reserve(uint32(ch), 0); err != nil {
			e.lcla.Destroy()
			return err
		}
	}
	return nil
}

// ackAll clears every status bit.
func (e *Engine) ackAll() {
	e.regs.Write32(hwreg.PCTIS, ^uint32(0))
	e.regs.Write32(hwreg.PCEIS, ^uint32(0))
	for b := uint32(0); b < hwreg.StatusBanks; b++ {
		e.regs.Write32(hwreg.LCTIS1+4*b, ^uint32(0))
		e.regs.Write32(hwreg.LCEIS1+4*b, ^uint32(0))
	}
}

// PeriphID returns the controller's peripheral id registers packed little
// end first.
func (e *Engine) PeriphID() uint32 {
	var id uint32
	for i := uint32(0); i < 4; i++ {
		id |= (e.regs.Read32(hwreg.PERIPH+4*i) & 0xff) << (8 * i)
	}
	return id
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close frees any pipes still allocated, turns the controller off and
// releases descriptor memory.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var firstErr error
	for _, id := range e.pipes.list() {
		log.Warningf("Pipe %d still allocated at close", id)
		if err := e.Free(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.regs.Write32(hwreg.GCC, 0)
	for _, p := range []*descpool.Pool{e.physPool, e.lcla, e.lcpa} {
		if err := p.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("closing engine: %w", firstErr)
	}
	return nil
}
