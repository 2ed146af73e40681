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
)

// Regs implements subcommands.Command for the "regs" command.
type Regs struct {
	scenario string
	stats    bool
}

// Name implements subcommands.Command.Name.
func (*Regs) Name() string {
	return "regs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regs) Synopsis() string {
	return "dump simulated controller registers"
}

// Usage implements subcommands.Command.Usage.
func (*Regs) Usage() string {
	return `regs [flags] - brings up an engine on a simulated controller using the
configured geometry, optionally runs a scenario, and prints the registers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regs) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.scenario, "scenario", "", "scenario to run before dumping. See 'selftest -list'.")
	f.BoolVar(&r.stats, "stats", true, "also print engine statistics.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFrom(args)

	cfg := conf.Config
	var run func(*simEngine) error
	if r.scenario != "" {
		sc, ok := findScenario(r.scenario)
		if !ok {
			return Errorf("unknown scenario %q", r.scenario)
		}
		if sc.cfg.ReservedChannels != nil {
			cfg.ReservedChannels = sc.cfg.ReservedChannels
		}
		run = sc.run
	}

	s, err := newSimEngine(cfg)
	if err != nil {
		return Errorf("starting engine: %v", err)
	}
	defer s.Close()
	if run != nil {
		if err := run(s); err != nil {
			return Errorf("scenario %s: %v", r.scenario, err)
		}
	}

	fmt.Printf("PERIPHID %#08x\n", s.e.PeriphID())
	if err := dumpRegs(os.Stdout, s.sim.Bank(), s.e.Config().PhysChannels); err != nil {
		return Errorf("%v", err)
	}
	if r.stats {
		if err := writeStats(os.Stdout, s.e.Stats()); err != nil {
			return Errorf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}
