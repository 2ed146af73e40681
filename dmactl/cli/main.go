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

// Package cli is the main entrypoint for dmactl.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"ux500.dev/dma40/dmactl/cmd"
	"ux500.dev/dma40/dmactl/config"
	"ux500.dev/dma40/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmactl: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	subcommand := flag.CommandLine.Arg(0)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var out io.Writer = os.Stderr
	if conf.LogFile != "" {
		f, err := log.OpenFile(conf.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{
			Command:   subcommand,
			Timestamp: time.Now(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "dmactl: %v\n", err)
			os.Exit(int(subcommands.ExitFailure))
		}
		out = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, out))

	const delimString = `**************** dmactl ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	status := subcommands.Execute(context.Background(), conf)
	if status != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command %q, status: %v", subcommand, status)
	}
	os.Exit(int(status))
}

// forEachCmd invokes the passed callback for each command supported by
// dmactl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Plan), "")
	cb(new(cmd.Selftest), "")

	const hwGroup = "hardware"
	cb(new(cmd.Probe), hwGroup)

	const debugGroup = "debug"
	cb(new(cmd.Regs), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	panic(fmt.Sprintf("invalid log format %q, must be 'text' or 'json'", format))
}
