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

package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// hexUint is a flag accepting decimal, 0x hex or 0 octal values.
type hexUint uint64

func (h *hexUint) String() string { return fmt.Sprintf("%#x", uint64(*h)) }

func (h *hexUint) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*h = hexUint(v)
	return nil
}

// Get implements flag.Getter.
func (h *hexUint) Get() any { return uint64(*h) }

// intList is a comma separated list of integers.
type intList []int

func (l *intList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// Get implements flag.Getter.
func (l *intList) Get() any { return []int(*l) }

// binding ties a flag to the field it sets.
type binding struct {
	name  string
	apply func(c *Config, v any)
}

var bindings = []binding{
	{"reg-base", func(c *Config, v any) { c.RegBase = v.(uint64) }},
	{"reg-size", func(c *Config, v any) { c.RegSize = v.(uint64) }},
	{"devmem", func(c *Config, v any) { c.DevMem = v.(string) }},
	{"coherent-base", func(c *Config, v any) { c.CoherentBase = v.(uint64) }},
	{"coherent-size", func(c *Config, v any) { c.CoherentSize = int(v.(uint64)) }},
	{"bus-offset", func(c *Config, v any) { c.BusOffset = v.(uint64) }},
	{"lock-file", func(c *Config, v any) { c.LockFile = v.(string) }},
	{"debug", func(c *Config, v any) { c.Debug = v.(bool) }},
	{"log-format", func(c *Config, v any) { c.LogFormat = v.(string) }},
	{"log", func(c *Config, v any) { c.LogFile = v.(string) }},
	{"phys-channels", func(c *Config, v any) { c.PhysChannels = v.(int) }},
	{"reserved-channels", func(c *Config, v any) { c.ReservedChannels = v.([]int) }},
	{"phys-lli-blocks", func(c *Config, v any) { c.PhysLLIBlocks = v.(int) }},
	{"sg-blocks", func(c *Config, v any) { c.SGBlocks = v.(int) }},
	{"suspend-retries", func(c *Config, v any) { c.SuspendRetries = v.(int) }},
	{"suspend-interval", func(c *Config, v any) { c.SuspendInterval = v.(time.Duration) }},
	{"lcla-base", func(c *Config, v any) { c.LCLABase = v.(uint64) }},
	{"strict", func(c *Config, v any) { c.Strict = v.(bool) }},
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(fs *flag.FlagSet) {
	d := Default()
	fs.String("config", "", "TOML configuration file. Flags override its values.")

	fs.Var(ptr(hexUint(d.RegBase)), "reg-base", "physical address of the controller registers.")
	fs.Var(ptr(hexUint(d.RegSize)), "reg-size", "size of the register window.")
	fs.String("devmem", d.DevMem, "device giving access to physical memory.")
	fs.Var(ptr(hexUint(d.CoherentBase)), "coherent-base", "physical address of the descriptor memory carve-out.")
	fs.Var(ptr(hexUint(uint64(d.CoherentSize))), "coherent-size", "size of the descriptor memory carve-out.")
	fs.Var(ptr(hexUint(d.BusOffset)), "bus-offset", "offset from CPU physical to bus addresses.")
	fs.String("lock-file", d.LockFile, "lock file guarding exclusive controller access.")

	fs.Bool("debug", d.Debug, "enable debug logging.")
	fs.String("log-format", d.LogFormat, "log format: text (default) or json.")
	fs.String("log", d.LogFile, "file path where logs go. %COMMAND% and %TIMESTAMP% are expanded.")

	fs.Int("phys-channels", d.PhysChannels, "number of physical channels the controller implements.")
	fs.Var(ptr(intList(d.ReservedChannels)), "reserved-channels", "comma separated physical channels never handed out.")
	fs.Int("phys-lli-blocks", d.PhysLLIBlocks, "blocks in the physical LLI pool.")
	fs.Int("sg-blocks", d.SGBlocks, "scatter-gather list slots.")
	fs.Int("suspend-retries", d.SuspendRetries, "bound on the channel suspend poll.")
	fs.Duration("suspend-interval", d.SuspendInterval, "wait between suspend polls.")
	fs.Var(ptr(hexUint(d.LCLABase)), "lcla-base", "bus address of the logical LLI area, 0 to use the register or allocate.")
	fs.Bool("strict", d.Strict, "panic on event group mismatches.")
}

func ptr[T any](v T) *T { return &v }

// NewFromFlags creates a new Config. Defaults come first, then the file
// named by -config, then any flag set on the command line.
func NewFromFlags(fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if path := fs.Lookup("config").Value.String(); path != "" {
		if err := c.Load(path); err != nil {
			return nil, err
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, b := range bindings {
		if !set[b.name] {
			continue
		}
		fl := fs.Lookup(b.name)
		if fl == nil {
			panic(fmt.Sprintf("flag %q not registered", b.name))
		}
		b.apply(c, fl.Value.(flag.Getter).Get())
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
