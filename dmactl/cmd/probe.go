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
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"ux500.dev/dma40/pkg/dma40"
	"ux500.dev/dma40/pkg/hw/coherent"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/log"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct {
	regs bool
}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "bring up the controller and report its state"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe [flags] - maps the controller registers through -devmem,
initializes the engine on the coherent carve-out and prints its identity and
channel state. The engine is shut down again before exit.

Without -coherent-size only the identity registers are read.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Probe) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.regs, "regs", false, "also dump registers.")
}

// Execute implements subcommands.Command.Execute.
func (p *Probe) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFrom(args)

	w, err := mmio.Open(conf.DevMem, conf.RegBase, uint32(conf.RegSize), conf.LockFile)
	if err != nil {
		return Errorf("mapping registers: %v", err)
	}
	defer w.Close()

	if conf.CoherentSize == 0 {
		fmt.Printf("PERIPHID %#08x\n", periphID(w))
		if p.regs {
			if err := dumpRegs(os.Stdout, w, conf.PhysChannels); err != nil {
				return Errorf("%v", err)
			}
		}
		return subcommands.ExitSuccess
	}

	mem, err := coherent.OpenDevMem(conf.DevMem, conf.CoherentBase, conf.CoherentSize, conf.BusOffset)
	if err != nil {
		return Errorf("mapping coherent memory: %v", err)
	}
	defer mem.Close()

	e, err := dma40.New(w, mem, conf.Config)
	if err != nil {
		return Errorf("starting engine: %v", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warningf("Closing engine: %v", err)
		}
	}()

	fmt.Printf("PERIPHID %#08x\n", e.PeriphID())
	if p.regs {
		if err := dumpRegs(os.Stdout, w, e.Config().PhysChannels); err != nil {
			return Errorf("%v", err)
		}
	}
	if err := writeStats(os.Stdout, e.Stats()); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
