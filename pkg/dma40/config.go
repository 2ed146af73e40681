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

package dma40

import (
	"fmt"
	"time"

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// Config holds the engine geometry and policies. The zero value selects
// the defaults.
type Config struct {
	// PhysChannels is the number of physical channels the controller
	// implements: 8 to 32, a multiple of 8.
	PhysChannels int `toml:"phys_channels"`

	// ReservedChannels are never handed out, typically because another
	// processor owns them.
	ReservedChannels []int `toml:"reserved_channels"`

	// PhysLLIBlocks is the number of blocks in the physical LLI pool. A
	// chained physical transfer holds up to two.
	PhysLLIBlocks int `toml:"phys_lli_blocks"`

	// SGBlocks is the number of scatter-gather list slots.
	SGBlocks int `toml:"sg_blocks"`

	// SuspendRetries bounds the suspend poll.
	SuspendRetries int `toml:"suspend_retries"`

	// SuspendInterval is the wait between suspend polls.
	SuspendInterval time.Duration `toml:"suspend_interval"`

	// LCLABase is the bus address of the logical LLI area. Zero means use
	// the address already in the LCLA register, or allocate one if that is
	// zero too.
	LCLABase uint64 `toml:"lcla_base"`

	// Strict panics when a logical channel id and its physical channel
	// disagree on the event group, instead of failing the call.
	Strict bool `toml:"strict"`
}

// Defaults.
const (
	DefaultPhysLLIBlocks   = 64
	DefaultSuspendRetries  = 500
	DefaultSuspendInterval = time.Microsecond
)

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.PhysChannels == 0 {
		c.PhysChannels = hwreg.MaxPhysChannels
	}
	if c.PhysLLIBlocks == 0 {
		c.PhysLLIBlocks = DefaultPhysLLIBlocks
	}
	if c.SGBlocks == 0 {
		c.SGBlocks = MaxPipes
	}
	if c.SuspendRetries == 0 {
		c.SuspendRetries = DefaultSuspendRetries
	}
	if c.SuspendInterval == 0 {
		c.SuspendInterval = DefaultSuspendInterval
	}
	return c
}

// Validate reports whether c, after defaults, describes a usable engine.
func (c Config) Validate() error {
	c = c.WithDefaults()
	if c.PhysChannels < 8 || c.PhysChannels > hwreg.MaxPhysChannels || c.PhysChannels%8 != 0 {
		return fmt.Errorf("phys_channels %d must be 8 to %d in steps of 8: %w", c.PhysChannels, hwreg.MaxPhysChannels, dmaerr.EINVAL)
	}
	seen := make(map[int]bool)
	for _, ch := range c.ReservedChannels {
		if ch < 0 || ch >= c.PhysChannels {
			return fmt.Errorf("reserved channel %d out of range: %w", ch, dmaerr.EINVAL)
		}
		if seen[ch] {
			return fmt.Errorf("reserved channel %d listed twice: %w", ch, dmaerr.EINVAL)
		}
		seen[ch] = true
	}
	if c.PhysLLIBlocks < 0 || c.SGBlocks < 0 || c.SuspendRetries < 0 || c.SuspendInterval < 0 {
		return fmt.Errorf("negative pool size or poll bound: %w", dmaerr.EINVAL)
	}
	if c.LCLABase%hwreg.LCLAPerChannel != 0 {
		return fmt.Errorf("lcla_base %#x not aligned to %d: %w", c.LCLABase, hwreg.LCLAPerChannel, dmaerr.EINVAL)
	}
	if c.LCLABase > 0xffffffff {
		return fmt.Errorf("lcla_base %#x beyond 32-bit bus: %w", c.LCLABase, dmaerr.EINVAL)
	}
	return nil
}
