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
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"ux500.dev/dma40/pkg/log"
)

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct {
	list bool
}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "run the engine against a simulated controller"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest [flags] [scenario...] - runs the named scenarios, or all of
them, each on its own simulated controller.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Selftest) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.list, "list", false, "list scenarios and exit.")
}

// Execute implements subcommands.Command.Execute.
func (s *Selftest) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if s.list {
		for _, sc := range scenarios {
			fmt.Printf("%-8s %s\n", sc.name, sc.desc)
		}
		return subcommands.ExitSuccess
	}
	run := scenarios
	if f.NArg() > 0 {
		run = nil
		for _, name := range f.Args() {
			sc, ok := findScenario(name)
			if !ok {
				return Errorf("unknown scenario %q", name)
			}
			run = append(run, sc)
		}
	}
	if failed := selftest(ctx, os.Stdout, run); failed > 0 {
		return Errorf("%d of %d scenarios failed", failed, len(run))
	}
	return subcommands.ExitSuccess
}

// selftest runs scenarios concurrently and reports each in order. It
// returns the number that failed.
func selftest(ctx context.Context, w io.Writer, run []scenario) int {
	errs := make([]error, len(run))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, sc := range run {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = runScenario(sc)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for i, sc := range run {
		if errs[i] != nil {
			failed++
			log.Warningf("Scenario %s failed: %v", sc.name, errs[i])
			fmt.Fprintf(w, "FAIL %s: %v\n", sc.name, errs[i])
			continue
		}
		fmt.Fprintf(w, "PASS %s\n", sc.name)
	}
	return failed
}
