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

package cmd

import (
	"errors"
	"fmt"

	"ux500.dev/dma40/pkg/dma40"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// scenario is a canned exercise of an engine on a simulated controller.
type scenario struct {
	name string
	desc string
	cfg  dma40.Config
	run  func(s *simEngine) error
}

var scenarios = []scenario{
	{
		name: "reserve",
		desc: "reserve every physical channel for memory-to-memory transfers",
		run:  reserveAll,
	},
	{
		name: "logical",
		desc: "1 KiB memory-to-peripheral transfer on a logical channel",
		run:  logicalSingle,
	},
	{
		name: "chain",
		desc: "200000 byte memory-to-memory transfer in byte elements",
		run:  chained,
	},
	{
		name: "shared",
		desc: "two logical pipes sharing a channel, disabled in turn",
		cfg:  dma40.Config{ReservedChannels: []int{4}},
		run:  sharedHalt,
	},
}

func findScenario(name string) (scenario, bool) {
	for _, sc := range scenarios {
		if sc.name == name {
			return sc, true
		}
	}
	return scenario{}, false
}

// runScenario runs sc on a fresh simulated engine and closes it.
func runScenario(sc scenario) (err error) {
	s, err := newSimEngine(sc.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return sc.run(s)
}

func memToMem(length uint32, w dma40.Width) dma40.PipeDescriptor {
	return dma40.PipeDescriptor{
		Direction: dma40.MemToMem,
		Mode:      dma40.ModePhysical,
		Src:       dma40.Endpoint{Width: w, Burst: dma40.Burst4, Increment: true},
		Dst:       dma40.Endpoint{Width: w, Burst: dma40.Burst4, Increment: true},
		Length:    length,
		SrcAddr:   0x4000_0000,
		DstAddr:   0x5000_0000,
	}
}

func logical(dir dma40.Direction, dev int, length uint32) dma40.PipeDescriptor {
	d := dma40.PipeDescriptor{
		Direction: dir,
		Mode:      dma40.ModeLogical,
		Src:       dma40.Endpoint{Width: dma40.Width32, Burst: dma40.Burst1, Increment: true},
		Dst:       dma40.Endpoint{Width: dma40.Width32, Burst: dma40.Burst1, Increment: true},
		Length:    length,
		SrcAddr:   0x4000_0000,
		DstAddr:   0x4000_0000,
	}
	if dir == dma40.MemToPeriph {
		d.Dst = dma40.Endpoint{Device: dev, Width: dma40.Width32, Burst: dma40.Burst1}
		d.DstAddr = 0x8012_0010
	} else {
		d.Src = dma40.Endpoint{Device: dev, Width: dma40.Width32, Burst: dma40.Burst1}
		d.SrcAddr = 0x8012_0010
	}
	return d
}

func reserveAll(s *simEngine) error {
	n := s.e.Config().PhysChannels
	ids := make([]dma40.PipeID, n)
	d := memToMem(4096, dma40.Width32)
	d.Reserve = true
	for i := range ids {
		id, err := s.e.Request(d)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		ids[i] = id
	}
	if _, err := s.e.Request(d); !errors.Is(err, dmaerr.EBUSY) {
		return fmt.Errorf("request with every channel held = %v, want EBUSY", err)
	}
	if got := s.e.Stats().Pipes; got != n {
		return fmt.Errorf("%d pipes after failed request, want %d", got, n)
	}
	if err := s.e.Free(ids[7]); err != nil {
		return err
	}
	id, err := s.e.Request(d)
	if err != nil {
		return fmt.Errorf("request after free: %w", err)
	}
	ids[7] = id
	for _, id := range ids {
		if err := s.e.Free(id); err != nil {
			return err
		}
	}
	return nil
}

func logicalSingle(s *simEngine) error {
	var c completions
	id, err := s.e.Request(logical(dma40.MemToPeriph, 10, 1024))
	if err != nil {
		return err
	}
	if err := s.e.SetCallback(id, &c, nil); err != nil {
		return err
	}
	if err := s.e.Enable(id); err != nil {
		return err
	}
	ch, err := channelOf(s.e)
	if err != nil {
		return err
	}
	if g := hwreg.GroupOf(uint32(ch)); g != 0 {
		return fmt.Errorf("device 10 placed on channel %d of group %d", ch, g)
	}
	if !s.sim.LineActive(ch, false, 10) {
		return fmt.Errorf("event line 10 not active on channel %d", ch)
	}
	if more, err := s.sim.CompleteLogical(2*10 + 1); err != nil || more {
		return fmt.Errorf("completing logical channel: more %t, %v", more, err)
	}
	if err := c.expect(1024); err != nil {
		return err
	}
	return s.e.Free(id)
}

func chained(s *simEngine) error {
	const length = 200000
	plan, err := dma40.PlanChunks(length, dma40.Width8, dma40.Width8, dma40.ModePhysical)
	if err != nil {
		return err
	}
	var c completions
	id, err := s.e.Request(memToMem(length, dma40.Width8))
	if err != nil {
		return err
	}
	if err := s.e.SetCallback(id, &c, nil); err != nil {
		return err
	}
	if err := s.e.Enable(id); err != nil {
		return err
	}
	ch, err := channelOf(s.e)
	if err != nil {
		return err
	}
	n, err := s.sim.RunPhys(ch)
	if err != nil {
		return err
	}
	if n != plan.Count() {
		return fmt.Errorf("controller ran %d descriptors, plan has %d", n, plan.Count())
	}
	if err := c.expect(length); err != nil {
		return err
	}
	if err := s.e.Free(id); err != nil {
		return err
	}
	if got := s.e.Stats().PhysBlocks; got != 0 {
		return fmt.Errorf("%d LLI blocks live after free", got)
	}
	return nil
}

func sharedHalt(s *simEngine) error {
	const ch = 5
	a, err := s.e.Request(logical(dma40.MemToPeriph, 32, 64))
	if err != nil {
		return err
	}
	b, err := s.e.Request(logical(dma40.PeriphToMem, 33, 64))
	if err != nil {
		return err
	}
	for _, id := range []dma40.PipeID{a, b} {
		if err := s.e.Enable(id); err != nil {
			return err
		}
	}
	if users := s.e.Stats().Channels[ch].Users; users != 2 {
		return fmt.Errorf("channel %d has %d users, want 2", ch, users)
	}
	s.sim.Commands(ch)

	if err := s.e.Disable(a); err != nil {
		return err
	}
	if cmds := s.sim.Commands(ch); len(cmds) != 2 || cmds[0] != hwreg.CmdSuspend || cmds[1] != hwreg.CmdRun {
		return fmt.Errorf("commands for first disable %v, want suspend then run", cmds)
	}
	if st := s.sim.State(ch); st != hwreg.StateRunning {
		return fmt.Errorf("channel %d state %d after first disable, want running", ch, st)
	}
	if err := s.e.Disable(b); err != nil {
		return err
	}
	if cmds := s.sim.Commands(ch); len(cmds) == 0 || cmds[len(cmds)-1] != hwreg.CmdStop {
		return fmt.Errorf("commands for last disable %v, want trailing stop", cmds)
	}
	for _, id := range []dma40.PipeID{a, b} {
		if err := s.e.Free(id); err != nil {
			return err
		}
	}
	if st := s.e.Stats().Channels[ch].Status; st != "free" {
		return fmt.Errorf("channel %d is %s after both frees, want free", ch, st)
	}
	return nil
}
