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
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"ux500.dev/dma40/pkg/dma40"
)

// Plan implements subcommands.Command for the "plan" command.
type Plan struct {
	srcWidth int
	dstWidth int
	logical  bool
}

// Name implements subcommands.Command.Name.
func (*Plan) Name() string {
	return "plan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Plan) Synopsis() string {
	return "show how a transfer is split into descriptors"
}

// Usage implements subcommands.Command.Usage.
func (*Plan) Usage() string {
	return `plan [flags] <length> - prints the descriptor chain a transfer of
<length> bytes would use and whether it fits the chain budget.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Plan) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.srcWidth, "src-width", 4, "source element width in bytes: 1, 2, 4 or 8.")
	f.IntVar(&p.dstWidth, "dst-width", 4, "destination element width in bytes: 1, 2, 4 or 8.")
	f.BoolVar(&p.logical, "logical", false, "plan for a logical channel instead of a physical one.")
}

// Execute implements subcommands.Command.Execute.
func (p *Plan) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	length, err := strconv.ParseUint(f.Arg(0), 0, 32)
	if err != nil {
		f.Usage()
		return subcommands.ExitUsageError
	}
	mode := dma40.ModePhysical
	if p.logical {
		mode = dma40.ModeLogical
	}
	if err := p.print(os.Stdout, uint32(length), mode); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// print writes the plan, then returns the planning error if any.
func (p *Plan) print(w io.Writer, length uint32, mode dma40.Mode) error {
	plan, err := dma40.PlanChunks(length, dma40.Width(p.srcWidth), dma40.Width(p.dstWidth), mode)
	if plan.Count() > 0 {
		fmt.Fprintf(w, "%d bytes, %v mode: %d descriptors of up to %d bytes, budget %d\n",
			length, mode, plan.Count(), plan.LLISize, plan.Budget)
		for i, c := range plan.Chunks {
			fmt.Fprintf(w, "  %d: %d bytes\n", i, c)
		}
	}
	return err
}
