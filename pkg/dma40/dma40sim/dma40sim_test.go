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

package dma40sim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/hw/coherent"
)

func command(c *Controller, ch int, cmd uint32) {
	off, shift := hwreg.Pair(hwreg.ACTIVE, hwreg.ACTIVO, uint32(ch))
	c.Bank().Write32(off, hwreg.TwoBitWrite(shift, cmd))
}

func state(c *Controller, ch int) uint32 {
	off, shift := hwreg.Pair(hwreg.ACTIVE, hwreg.ACTIVO, uint32(ch))
	return hwreg.TwoBits(c.Bank().Read32(off), shift)
}

func TestActiveCommands(t *testing.T) {
	c := New(coherent.NewHeap(), 32)
	command(c, 3, hwreg.CmdRun)
	command(c, 4, hwreg.CmdRun)
	if got := state(c, 3); got != hwreg.StateRunning {
		t.Errorf("channel 3 state %d, want running", got)
	}
	command(c, 3, hwreg.CmdSuspend)
	if got := state(c, 3); got != hwreg.StateSuspended {
		t.Errorf("channel 3 state %d, want suspended", got)
	}
	if got := state(c, 4); got != hwreg.StateRunning {
		t.Errorf("channel 4 disturbed: state %d", got)
	}
	command(c, 3, hwreg.CmdStop)
	if diff := cmp.Diff([]uint32{hwreg.CmdRun, hwreg.CmdSuspend, hwreg.CmdStop}, c.Commands(3)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if got := c.Commands(3); len(got) != 0 {
		t.Errorf("Commands did not clear: %v", got)
	}
}

func TestSuspendLatency(t *testing.T) {
	c := New(coherent.NewHeap(), 8)
	c.SetSuspendLatency(2)
	command(c, 1, hwreg.CmdRun)
	command(c, 1, hwreg.CmdSuspend)
	var seen []uint32
	for i := 0; i < 3; i++ {
		seen = append(seen, state(c, 1))
	}
	want := []uint32{hwreg.StateSuspendPending, hwreg.StateSuspended, hwreg.StateSuspended}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestStick(t *testing.T) {
	c := New(coherent.NewHeap(), 8)
	c.Stick(2, true)
	command(c, 2, hwreg.CmdRun)
	command(c, 2, hwreg.CmdSuspend)
	for i := 0; i < 10; i++ {
		if got := state(c, 2); got != hwreg.StateSuspendPending {
			t.Fatalf("stuck channel reached state %d", got)
		}
	}
	c.Stick(2, false)
	if got := state(c, 2); got != hwreg.StateSuspended {
		t.Errorf("state %d after unstick, want suspended", got)
	}
}

func TestStatusWriteOneToClear(t *testing.T) {
	c := New(coherent.NewHeap(), 32)
	var irqs int
	c.OnIRQ(func() { irqs++ })
	c.Fail(hwreg.PhysChannelIDBase + 6)
	c.Fail(70)
	if irqs != 2 {
		t.Errorf("%d interrupts, want 2", irqs)
	}
	if got := c.Bank().Read32(hwreg.PCEIS); got != 1<<6 {
		t.Errorf("PCEIS = %#x", got)
	}
	if got := c.Bank().Read32(hwreg.LCEIS1 + 8); got != 1<<6 {
		t.Errorf("LCEIS3 = %#x", got)
	}
	c.Bank().Write32(hwreg.PCEIS, 1<<6)
	if got := c.Bank().Read32(hwreg.PCEIS); got != 0 {
		t.Errorf("PCEIS after clear = %#x", got)
	}
}

func TestLogicalLines(t *testing.T) {
	c := New(coherent.NewHeap(), 8)
	off, shift := hwreg.Pair(hwreg.PRMSE, hwreg.PRMSO, 2)
	c.Bank().Write32(off, hwreg.ModeLogical<<shift)
	lnk := hwreg.ChanReg(2, hwreg.SDLNK)
	c.Bank().Write32(lnk, hwreg.TwoBitWrite(2*5, hwreg.LineActivate))
	c.Bank().Write32(lnk, hwreg.TwoBitWrite(2*9, hwreg.LineActivate))
	if !c.LineActive(2, false, 5) || !c.LineActive(2, false, 9) {
		t.Fatalf("lines not active: %#x", c.Bank().Read32(lnk))
	}
	c.Bank().Write32(lnk, hwreg.TwoBitWrite(2*5, hwreg.LineDeactivate))
	if c.LineActive(2, false, 5) || !c.LineActive(2, false, 9) {
		t.Errorf("deactivation of line 5 wrong: %#x", c.Bank().Read32(lnk))
	}
	// Logical id 2*(16+9)+1 is the destination of device 25, line 9 of
	// group 1, which channel 2 serves.
	if got := c.Host(2*25 + 1); got != 2 {
		t.Errorf("Host = %d, want 2", got)
	}
	if got := c.Host(2 * 25); got != -1 {
		t.Errorf("Host of source side = %d, want -1", got)
	}
}

func TestCompletePhysChain(t *testing.T) {
	heap := coherent.NewHeap()
	c := New(heap, 8)
	var irqs int
	c.OnIRQ(func() { irqs++ })
	mem, err := heap.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	bus := (mem.Bus + 15) &^ 15
	next := mem.CPU[bus-mem.Bus:]
	hwreg.PhysLLI{CFG: hwreg.CfgTIM, ELT: hwreg.EltECNT.Put(0, 7), PTR: 0x9000}.Put(next)

	r := c.Registers()
	r.Poke(hwreg.ChanReg(1, hwreg.SDELT), hwreg.EltECNT.Put(0, 100))
	r.Poke(hwreg.ChanReg(1, hwreg.SDLNK), uint32(bus))
	if _, err := c.CompletePhys(1); err == nil {
		t.Errorf("CompletePhys of stopped channel succeeded")
	}
	command(c, 1, hwreg.CmdRun)
	more, err := c.CompletePhys(1)
	if err != nil || !more {
		t.Fatalf("first CompletePhys = %v, %v", more, err)
	}
	if got := hwreg.EltECNT.Get(r.Peek(hwreg.ChanReg(1, hwreg.SDELT))); got != 7 {
		t.Errorf("loaded element count %d, want 7", got)
	}
	if irqs != 0 {
		t.Errorf("interrupt without TIM")
	}
	if err := c.Advance(hwreg.PhysChannelIDBase+1, 3); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := hwreg.EltECNT.Get(r.Peek(hwreg.ChanReg(1, hwreg.SDELT))); got != 4 {
		t.Errorf("element count %d after advance, want 4", got)
	}
	more, err = c.CompletePhys(1)
	if err != nil || more {
		t.Fatalf("last CompletePhys = %v, %v", more, err)
	}
	if irqs != 1 || r.Peek(hwreg.PCTIS) != 1<<1 {
		t.Errorf("terminal count: %d interrupts, PCTIS %#x", irqs, r.Peek(hwreg.PCTIS))
	}
	if c.State(1) != hwreg.StateStopped {
		t.Errorf("channel still in state %d at end of chain", c.State(1))
	}
}

func TestPeriphID(t *testing.T) {
	c := New(coherent.NewHeap(), 8)
	var got [4]uint32
	for i := range got {
		got[i] = c.Bank().Read32(hwreg.PERIPH + uint32(4*i))
	}
	if got != PeriphID {
		t.Errorf("peripheral id %v, want %v", got, PeriphID)
	}
}
