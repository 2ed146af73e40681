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

// Package cmd holds implementations of the dmactl commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"ux500.dev/dma40/dmactl/config"
	"ux500.dev/dma40/pkg/dma40"
	"ux500.dev/dma40/pkg/dma40/dma40sim"
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/sync"
)

// Errorf logs the error and prints it to stderr. It returns ExitFailure so
// commands can end with "return Errorf(...)".
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	return subcommands.ExitFailure
}

// confFrom extracts the configuration Main passes to every command.
func confFrom(args []any) *config.Config {
	return args[0].(*config.Config)
}

// simEngine is an engine driving a simulated controller. Its interrupt
// line calls HandleInterrupt synchronously.
type simEngine struct {
	heap *coherent.Heap
	sim  *dma40sim.Controller
	e    *dma40.Engine
}

func newSimEngine(cfg dma40.Config) (*simEngine, error) {
	heap := coherent.NewHeap()
	sim := dma40sim.New(heap, cfg.WithDefaults().PhysChannels)
	e, err := dma40.New(sim.Bank(), heap, cfg)
	if err != nil {
		return nil, err
	}
	var irqMu sync.Mutex
	sim.OnIRQ(func() {
		irqMu.Lock()
		defer irqMu.Unlock()
		e.HandleInterrupt()
	})
	return &simEngine{heap: heap, sim: sim, e: e}, nil
}

// Close closes the engine and checks nothing leaked.
func (s *simEngine) Close() error {
	if err := s.e.Close(); err != nil {
		return err
	}
	if n := s.heap.InUse(); n != 0 {
		return fmt.Errorf("%d coherent regions leaked", n)
	}
	return nil
}

// channelOf returns the physical channel in use, for engines running a
// single pipe.
func channelOf(e *dma40.Engine) (int, error) {
	for _, c := range e.Stats().Channels {
		if c.Status == "physical" || c.Status == "logical" {
			return int(c.Channel), nil
		}
	}
	return -1, fmt.Errorf("no channel in use")
}

// completions records completer callbacks.
type completions struct {
	mu     sync.Mutex
	bytes  []uint64
	failed []error
}

func (c *completions) TransferComplete(_ dma40.PipeID, n uint64, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytes = append(c.bytes, n)
}

func (c *completions) TransferFailed(_ dma40.PipeID, err error, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, err)
}

// expect checks that exactly one transfer of n bytes completed.
func (c *completions) expect(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failed) != 0 {
		return fmt.Errorf("transfer failed: %v", c.failed[0])
	}
	if len(c.bytes) != 1 || c.bytes[0] != n {
		return fmt.Errorf("completions %v, want one of %d bytes", c.bytes, n)
	}
	return nil
}

var globalRegs = []struct {
	name string
	off  uint32
}{
	{"GCC", hwreg.GCC},
	{"PRSME", hwreg.PRSME},
	{"PRSMO", hwreg.PRSMO},
	{"PRMSE", hwreg.PRMSE},
	{"PRMSO", hwreg.PRMSO},
	{"PRMOE", hwreg.PRMOE},
	{"PRMOO", hwreg.PRMOO},
	{"LCPA", hwreg.LCPA},
	{"LCLA", hwreg.LCLA},
	{"ACTIVE", hwreg.ACTIVE},
	{"ACTIVO", hwreg.ACTIVO},
	{"PCTIS", hwreg.PCTIS},
	{"PCEIS", hwreg.PCEIS},
}

var chanRegs = []struct {
	name string
	off  uint32
}{
	{"SSCFG", hwreg.SSCFG},
	{"SSELT", hwreg.SSELT},
	{"SSPTR", hwreg.SSPTR},
	{"SSLNK", hwreg.SSLNK},
	{"SDCFG", hwreg.SDCFG},
	{"SDELT", hwreg.SDELT},
	{"SDPTR", hwreg.SDPTR},
	{"SDLNK", hwreg.SDLNK},
}

// dumpRegs writes the global registers and those of the first n channels.
// Channels whose registers are all zero are skipped.
func dumpRegs(w io.Writer, b mmio.Bank, n int) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, r := range globalRegs {
		fmt.Fprintf(tw, "%s\t%#03x\t%#08x\n", r.name, r.off, b.Read32(r.off))
	}
	for ch := 0; ch < n; ch++ {
		vals := make([]uint32, len(chanRegs))
		zero := true
		for i, r := range chanRegs {
			vals[i] = b.Read32(hwreg.ChanReg(uint32(ch), r.off))
			zero = zero && vals[i] == 0
		}
		if zero {
			continue
		}
		fmt.Fprintf(tw, "channel %d", ch)
		for i, r := range chanRegs {
			fmt.Fprintf(tw, "\t%s=%#08x", r.name, vals[i])
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// writeStats writes a summary of engine state.
func writeStats(w io.Writer, s dma40.Stats) error {
	fmt.Fprintf(w, "pipes %d, interrupts %d, errors %d, unknown %d\n", s.Pipes, s.Interrupts, s.Errors, s.Unknown)
	fmt.Fprintf(w, "pools: %d physical LLI blocks, %d LCLA blocks, %d scatter-gather slots\n", s.PhysBlocks, s.LCLABlocks, s.SGSlots)
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATUS\tUSERS\tACTIVE\tSTATE")
	for _, c := range s.Channels {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", c.Channel, c.Status, c.Users, c.Active, c.State)
	}
	return tw.Flush()
}

// periphID reads the identity registers without an engine.
func periphID(b mmio.Bank) uint32 {
	var id uint32
	for i := uint32(0); i < 4; i++ {
		id |= (b.Read32(hwreg.PERIPH+4*i) & 0xff) << (8 * i)
	}
	return id
}
