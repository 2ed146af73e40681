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

// Package config provides basic infrastructure to set configuration settings
// for dmactl. Each setting can come from the TOML configuration file or from
// a command line flag, and flags win.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"ux500.dev/dma40/pkg/dma40"
	"ux500.dev/dma40/pkg/log"
)

// U8500 defaults.
const (
	DefaultRegBase  = 0x801c0000
	DefaultRegSize  = 0x1000
	DefaultDevMem   = "/dev/mem"
	DefaultLockFile = "/run/dmactl.lock"
)

// Config holds the tool configuration. The embedded engine configuration is
// flattened into the top level of the TOML file.
type Config struct {
	dma40.Config

	// RegBase is the physical address of the controller registers.
	RegBase uint64 `toml:"reg_base"`

	// RegSize is the size of the register window.
	RegSize uint64 `toml:"reg_size"`

	// DevMem is the device giving access to physical memory.
	DevMem string `toml:"devmem"`

	// CoherentBase and CoherentSize describe the carve-out descriptor
	// memory is allocated from. CoherentSize 0 disables probing.
	CoherentBase uint64 `toml:"coherent_base"`
	CoherentSize int    `toml:"coherent_size"`

	// BusOffset is added to a CPU physical address to get a bus address.
	BusOffset uint64 `toml:"bus_offset"`

	// LockFile guards the controller against a second dmactl.
	LockFile string `toml:"lock_file"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// LogFile is a log file pattern. Empty means stderr. %COMMAND% and
	// %TIMESTAMP% are substituted.
	LogFile string `toml:"log_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Config:    dma40.Config{}.WithDefaults(),
		RegBase:   DefaultRegBase,
		RegSize:   DefaultRegSize,
		DevMem:    DefaultDevMem,
		LockFile:  DefaultLockFile,
		LogFormat: "text",
	}
}

// Load overlays the TOML file at path onto c. Keys the file does not name
// keep their current values.
func (c *Config) Load(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("loading %q: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("loading %q: unknown keys %v", path, undec)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.RegSize == 0 || c.RegSize > 0xffffffff {
		return fmt.Errorf("reg_size %#x out of range", c.RegSize)
	}
	if c.CoherentSize < 0 {
		return fmt.Errorf("coherent_size %d is negative", c.CoherentSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config: reg base %#x size %#x via %s, lock %s", c.RegBase, c.RegSize, c.DevMem, c.LockFile)
	log.Infof("Config: coherent %#x+%#x, bus offset %#x", c.CoherentBase, c.CoherentSize, c.BusOffset)
	log.Infof("Config: %d physical channels, reserved %v, %d LLI blocks, suspend %d×%v, strict %t",
		c.PhysChannels, c.ReservedChannels, c.PhysLLIBlocks, c.SuspendRetries, c.SuspendInterval, c.Strict)
}
