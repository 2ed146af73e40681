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

// Package dma40sim is a behavioural model of the DMA40 controller.
//
// The model implements the register semantics the engine depends on: the
// ACTIVE command and state encoding with a configurable suspend latency,
// write-one-to-clear status registers, logical event line activation, and
// descriptor chain walking over memory from a coherent.Heap. Transfers do
// not move data; tests drive progress with CompletePhys, CompleteLogical,
// Advance and Fail.
package dma40sim

import (
	"fmt"

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/hw/mmio/mmiotest"
	"ux500.dev/dma40/pkg/sync"
)

// PeriphID is the value of the four peripheral id registers.
var PeriphID = [4]uint32{0x40, 0x00, 0x08, 0x00}

// Controller models one DMA40 instance.
type Controller struct {
	bank *mmiotest.Bank
	mem  *coherent.Heap
	n    int

	// mu is taken inside register hooks, which run under the bank lock.
	// Methods must not call into bank while holding mu.
	mu sync.Mutex
	// +checklocks:mu
	state [hwreg.MaxPhysChannels]uint32
	// +checklocks:mu
	mode [hwreg.MaxPhysChannels]uint32
	// +checklocks:mu
	pending [hwreg.MaxPhysChannels]int
	// +checklocks:mu
	stuck [hwreg.MaxPhysChannels]bool
	// +checklocks:mu
	latency int
	// +checklocks:mu
	commands [hwreg.MaxPhysChannels][]uint32
	// +checklocks:mu
	irq func()
}

// New returns a controller with n physical channels whose descriptors live
// in mem.
func New(mem *coherent.Heap, n int) *Controller {
	c := &Controller{
		bank: mmiotest.New(hwreg.BankSize),
		mem:  mem,
		n:    n,
	}
	for i, v := range PeriphID {
		c.bank.Poke(hwreg.PERIPH+uint32(4*i), v)
	}
	for _, off := range []uint32{hwreg.PCTIS, hwreg.PCEIS} {
		c.bank.OnWrite(off, mmiotest.W1C)
	}
	for b := uint32(0); b < hwreg.StatusBanks; b++ {
		c.bank.OnWrite(hwreg.LCTIS1+4*b, mmiotest.W1C)
		c.bank.OnWrite(hwreg.LCEIS1+4*b, mmiotest.W1C)
	}
	c.bank.OnWrite(hwreg.ACTIVE, c.activeWrite(0))
	c.bank.OnWrite(hwreg.ACTIVO, c.activeWrite(1))
	c.bank.OnRead(hwreg.ACTIVE, c.activeRead(0))
	c.bank.OnRead(hwreg.ACTIVO, c.activeRead(1))
	c.bank.OnWrite(hwreg.PRMSE, c.modeWrite(0))
	c.bank.OnWrite(hwreg.PRMSO, c.modeWrite(1))
	for ch := uint32(0); ch < uint32(n); ch++ {
		c.bank.OnWrite(hwreg.ChanReg(ch, hwreg.SSLNK), c.lnkWrite(ch))
		c.bank.OnWrite(hwreg.ChanReg(ch, hwreg.SDLNK), c.lnkWrite(ch))
	}
	return c
}

// Bank returns the register file.
func (c *Controller) Bank() mmio.Bank {
	return c.bank
}

// Registers returns the underlying test bank, for history and direct pokes.
func (c *Controller) Registers() *mmiotest.Bank {
	return c.bank
}

// Memory returns the heap descriptors are read from.
func (c *Controller) Memory() *coherent.Heap {
	return c.mem
}

// OnIRQ installs f as the interrupt line. It is called after status bits are
// raised, without any controller lock held.
func (c *Controller) OnIRQ(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irq = f
}

// SetSuspendLatency makes a suspend request take n reads of ACTIVE before it
// completes.
func (c *Controller) SetSuspendLatency(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = n
}

// Stick makes suspend requests on ch never complete while set.
func (c *Controller) Stick(ch int, stuck bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuck[ch] = stuck
}

// State returns the activation state of ch.
func (c *Controller) State(ch int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[ch]
}

// Commands returns and clears the commands written for ch.
func (c *Controller) Commands(ch int) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := c.commands[ch]
	c.commands[ch] = nil
	return cmds
}

// LineActive reports whether event line of ch's source (src) or destination
// half is active. Only meaningful in logical mode.
func (c *Controller) LineActive(ch int, src bool, line int) bool {
	reg := uint32(hwreg.SDLNK)
	if src {
		reg = hwreg.SSLNK
	}
	v := c.bank.Peek(hwreg.ChanReg(uint32(ch), reg))
	return hwreg.TwoBits(v, uint32(2*line)) == hwreg.LineActivate
}

func (c *Controller) activeWrite(parity uint32) mmiotest.WriteHook {
	return func(old, v uint32) uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		for f := uint32(0); f < 16; f++ {
			ch := 2*f + parity
			cmd := hwreg.TwoBits(v, 2*f)
			if cmd == hwreg.CmdNoChange || int(ch) >= c.n {
				continue
			}
			c.commands[ch] = append(c.commands[ch], cmd)
			switch cmd {
			case hwreg.CmdStop:
				c.state[ch] = hwreg.StateStopped
			case hwreg.CmdRun:
				c.state[ch] = hwreg.StateRunning
			case hwreg.CmdSuspend:
				if c.state[ch] != hwreg.StateRunning {
					break
				}
				if c.latency == 0 && !c.stuck[ch] {
					c.state[ch] = hwreg.StateSuspended
				} else {
					c.state[ch] = hwreg.StateSuspendPending
					c.pending[ch] = c.latency
				}
			}
		}
		return old
	}
}

func (c *Controller) activeRead(parity uint32) mmiotest.ReadHook {
	return func(uint32) uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		var v uint32
		for f := uint32(0); f < 16; f++ {
			ch := 2*f + parity
			if int(ch) >= c.n {
				continue
			}
			if c.state[ch] == hwreg.StateSuspendPending && !c.stuck[ch] {
				if c.pending[ch]--; c.pending[ch] <= 0 {
					c.state[ch] = hwreg.StateSuspended
				}
			}
			v |= c.state[ch] << (2 * f)
		}
		return v
	}
}

func (c *Controller) modeWrite(parity uint32) mmiotest.WriteHook {
	return func(_, v uint32) uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		for f := uint32(0); f < 16; f++ {
			if ch := 2*f + parity; int(ch) < c.n {
				c.mode[ch] = hwreg.TwoBits(v, 2*f)
			}
		}
		return v
	}
}

func (c *Controller) lnkWrite(ch uint32) mmiotest.WriteHook {
	return func(old, v uint32) uint32 {
		c.mu.Lock()
		logical := c.mode[ch] == hwreg.ModeLogical
		c.mu.Unlock()
		if !logical {
			return v
		}
		for l := uint32(0); l < 16; l++ {
			switch hwreg.TwoBits(v, 2*l) {
			case hwreg.LineActivate:
				old = old&^(3<<(2*l)) | hwreg.LineActivate<<(2*l)
			case hwreg.LineDeactivate:
				old &^= 3 << (2 * l)
			}
		}
		return old
	}
}

func (c *Controller) raise(off uint32, bit uint32) {
	c.bank.Update(off, func(v uint32) uint32 { return v | 1<<bit })
	c.mu.Lock()
	irq := c.irq
	c.mu.Unlock()
	if irq != nil {
		irq()
	}
}

func (c *Controller) slice(bus uint32, n int) ([]byte, error) {
	b, ok := c.mem.Slice(uint64(bus), n)
	if !ok {
		return nil, fmt.Errorf("bus address %#x not backed by memory", bus)
	}
	return b, nil
}

// CompletePhys finishes the current descriptor of physical channel ch. It
// raises the terminal count status if the descriptor asked for it, then
// loads the linked descriptors or stops the channel at the end of the
// chain. It reports whether more descriptors remain.
func (c *Controller) CompletePhys(ch int) (bool, error) {
	if st := c.State(ch); st != hwreg.StateRunning {
		return false, fmt.Errorf("channel %d is not running (state %d)", ch, st)
	}
	u := uint32(ch)
	cfg := c.bank.Peek(hwreg.ChanReg(u, hwreg.SDCFG))
	dlnk := c.bank.Peek(hwreg.ChanReg(u, hwreg.SDLNK)) & hwreg.LnkAddrMask
	slnk := c.bank.Peek(hwreg.ChanReg(u, hwreg.SSLNK)) & hwreg.LnkAddrMask

	more := dlnk != 0
	if more {
		if err := c.loadPhys(u, hwreg.SDCFG, dlnk); err != nil {
			return false, err
		}
		if slnk != 0 {
			if err := c.loadPhys(u, hwreg.SSCFG, slnk); err != nil {
				return false, err
			}
		}
	} else {
		for _, reg := range []uint32{hwreg.SSELT, hwreg.SDELT} {
			off := hwreg.ChanReg(u, reg)
			c.bank.Poke(off, hwreg.EltECNT.Put(c.bank.Peek(off), 0))
		}
		c.mu.Lock()
		c.state[ch] = hwreg.StateStopped
		c.mu.Unlock()
	}
	if cfg&hwreg.CfgTIM != 0 {
		c.raise(hwreg.PCTIS, u)
	}
	return more, nil
}

func (c *Controller) loadPhys(ch uint32, cfgReg uint32, bus uint32) error {
	b, err := c.slice(bus, hwreg.PhysLLISize)
	if err != nil {
		return err
	}
	l := hwreg.GetPhysLLI(b)
	c.bank.Poke(hwreg.ChanReg(ch, cfgReg), l.CFG)
	c.bank.Poke(hwreg.ChanReg(ch, cfgReg+4), l.ELT)
	c.bank.Poke(hwreg.ChanReg(ch, cfgReg+8), l.PTR)
	c.bank.Poke(hwreg.ChanReg(ch, cfgReg+12), l.LNK)
	return nil
}

// Host returns the physical channel on which logical channel id is active,
// or -1.
func (c *Controller) Host(id int) int {
	line := id / 2
	g, l := line/hwreg.LinesPerGroup, line%hwreg.LinesPerGroup
	src := id%2 == 0
	for _, ch := range hwreg.GroupChannels(g, c.n) {
		c.mu.Lock()
		logical := c.mode[ch] == hwreg.ModeLogical
		c.mu.Unlock()
		if logical && c.LineActive(int(ch), src, l) {
			return int(ch)
		}
	}
	return -1
}

func (c *Controller) lcpaEntry(id int) ([]byte, error) {
	base := c.bank.Peek(hwreg.LCPA)
	return c.slice(base+uint32(hwreg.LCPAEntry(uint32(id))), 16)
}

// CompleteLogical finishes the current descriptor of logical channel id on
// whichever physical channel hosts it. It reports whether more descriptors
// remain.
func (c *Controller) CompleteLogical(id int) (bool, error) {
	host := c.Host(id)
	if host < 0 {
		return false, fmt.Errorf("logical channel %d has no active event line", id)
	}
	if st := c.State(host); st != hwreg.StateRunning {
		return false, fmt.Errorf("host channel %d of logical %d is not running (state %d)", host, id, st)
	}
	entry, err := c.lcpaEntry(id)
	if err != nil {
		return false, err
	}
	lcla := c.bank.Peek(hwreg.LCLA)
	dst := hwreg.GetLogRecord(entry[hwreg.LCPADst:])
	more := false
	for _, half := range []int{hwreg.LCPASrc, hwreg.LCPADst} {
		r := hwreg.GetLogRecord(entry[half:])
		los := hwreg.LogLOS.Get(r.W1)
		if los == 0 {
			r.W0 = hwreg.LogECNT.Put(r.W0, 0)
			r.Put(entry[half:])
			continue
		}
		b, err := c.slice(lcla+uint32(hwreg.LCLASlot(uint32(host), los)), hwreg.LogRecordSize)
		if err != nil {
			return false, err
		}
		copy(entry[half:half+hwreg.LogRecordSize], b)
		if half == hwreg.LCPADst {
			more = true
		}
	}
	if dst.W1&hwreg.LogTIM != 0 {
		c.raise(hwreg.LCTIS1+4*uint32(id/32), uint32(id%32))
	}
	return more, nil
}

// Advance consumes n elements of the current destination descriptor of
// channel id, given as an engine channel id: logical ids below
// hwreg.PhysChannelIDBase, physical channels above.
func (c *Controller) Advance(id int, n uint32) error {
	if id >= hwreg.PhysChannelIDBase {
		off := hwreg.ChanReg(uint32(id-hwreg.PhysChannelIDBase), hwreg.SDELT)
		c.bank.Update(off, func(v uint32) uint32 {
			left := hwreg.EltECNT.Get(v)
			return hwreg.EltECNT.Put(v, left-min(left, n))
		})
		return nil
	}
	entry, err := c.lcpaEntry(id)
	if err != nil {
		return err
	}
	r := hwreg.GetLogRecord(entry[hwreg.LCPADst:])
	left := hwreg.LogECNT.Get(r.W0)
	r.W0 = hwreg.LogECNT.Put(r.W0, left-min(left, n))
	r.Put(entry[hwreg.LCPADst:])
	return nil
}

// Fail raises the error status of engine channel id.
func (c *Controller) Fail(id int) {
	if id >= hwreg.PhysChannelIDBase {
		c.raise(hwreg.PCEIS, uint32(id-hwreg.PhysChannelIDBase))
		return
	}
	c.raise(hwreg.LCEIS1+4*uint32(id/32), uint32(id%32))
}

// RunPhys completes descriptors of ch until the chain ends and returns how
// many completed.
func (c *Controller) RunPhys(ch int) (int, error) {
	for n := 1; ; n++ {
		more, err := c.CompletePhys(ch)
		if err != nil || !more {
			return n, err
		}
	}
}

// RunLogical completes descriptors of logical channel id until its chain
// ends and returns how many completed.
func (c *Controller) RunLogical(id int) (int, error) {
	for n := 1; ; n++ {
		more, err := c.CompleteLogical(id)
		if err != nil || !more {
			return n, err
		}
	}
}
