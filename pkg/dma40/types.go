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

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// PipeID is the opaque handle clients use to name an allocated pipe.
type PipeID int

// ChannelID is the engine's internal channel number. Logical channels are
// numbered from their event line: 2*dev for a peripheral source, 2*dev+1 for
// a peripheral destination. Physical-mode channels are numbered from
// hwreg.PhysChannelIDBase. Interrupt status bits index the lookup table by
// ChannelID directly.
type ChannelID uint32

// PhysChan is the index of a physical channel.
type PhysChan uint32

// NoChannel marks a pipe that has no physical channel yet.
const NoChannel = ^PhysChan(0)

// NoChannelID marks a pipe without a channel id.
const NoChannelID = ^ChannelID(0)

// Limits of the controller.
const (
	MaxPhysChannels   = hwreg.MaxPhysChannels
	MaxLogicalPerPhys = hwreg.MaxLogicalPerPhys
	MaxPipes          = hwreg.ChannelIDs
	MaxElements       = hwreg.MaxElements
	EventLines        = hwreg.EventLines

	// MaxPhysLLIs is the longest chain a physical-mode transfer may use.
	MaxPhysLLIs = hwreg.PhysLLIsPerBlock

	// MaxLogicalLLIs is the longest chain a logical-mode transfer may use:
	// the parameter area holds the first descriptor and one LCLA block the
	// rest.
	MaxLogicalLLIs = 1 + hwreg.LogRecordsPerBlock
)

func logicalID(dev int, dst bool) ChannelID {
	if dst {
		return ChannelID(2*dev + 1)
	}
	return ChannelID(2 * dev)
}

func physicalID(ch PhysChan) ChannelID {
	return ChannelID(hwreg.PhysChannelIDBase + uint32(ch))
}

// Logical reports whether id names a logical channel.
func (id ChannelID) Logical() bool {
	return id < hwreg.PhysChannelIDBase
}

// group returns the event group implied by a logical id.
func (id ChannelID) group() int {
	return int(id/2) / hwreg.LinesPerGroup
}

// line returns the event line within its group of a logical id.
func (id ChannelID) line() uint32 {
	return uint32(id/2) % hwreg.LinesPerGroup
}

// Direction is the flow of a transfer.
type Direction int

// Directions.
const (
	MemToPeriph Direction = iota
	PeriphToMem
	MemToMem
	PeriphToPeriph
)

func (d Direction) String() string {
	switch d {
	case MemToPeriph:
		return "mem-to-periph"
	case PeriphToMem:
		return "periph-to-mem"
	case MemToMem:
		return "mem-to-mem"
	case PeriphToPeriph:
		return "periph-to-periph"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func (d Direction) srcPeriph() bool { return d == PeriphToMem || d == PeriphToPeriph }
func (d Direction) dstPeriph() bool { return d == MemToPeriph || d == PeriphToPeriph }

// Mode selects physical or logical channel operation.
type Mode int

// Modes.
const (
	ModePhysical Mode = iota
	ModeLogical
)

func (m Mode) String() string {
	switch m {
	case ModePhysical:
		return "physical"
	case ModeLogical:
		return "logical"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Width is an element size in bytes.
type Width uint32

// Widths.
const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
	Width64 Width = 8
)

func (w Width) valid() bool {
	return w == Width8 || w == Width16 || w == Width32 || w == Width64
}

// esize returns the hardware encoding of w.
func (w Width) esize() uint32 {
	switch w {
	case Width16:
		return 1
	case Width32:
		return 2
	case Width64:
		return 3
	default:
		return 0
	}
}

// Burst is the number of elements moved per peripheral request.
type Burst uint32

// Burst sizes.
const (
	Burst1  Burst = 1
	Burst4  Burst = 4
	Burst8  Burst = 8
	Burst16 Burst = 16
)

func (b Burst) psize() (uint32, bool) {
	switch b {
	case Burst1, 0:
		return 0, true
	case Burst4:
		return 1, true
	case Burst8:
		return 2, true
	case Burst16:
		return 3, true
	default:
		return 0, false
	}
}

// Endian is the byte order of an endpoint.
type Endian int

// Byte orders.
const (
	LittleEndian Endian = iota
	BigEndian
)

// BufferType says how an endpoint's memory is described.
type BufferType int

// Buffer types.
const (
	// SingleBuffer is one contiguous range starting at the pipe address.
	SingleBuffer BufferType = iota

	// ScatterGather requires a list set with SetSG before Enable.
	ScatterGather
)

// Priority is the arbitration class of a channel.
type Priority int

// Priorities.
const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Security is the security class of a physical channel.
type Security int

// Security classes.
const (
	NonSecure Security = iota
	Secure
)

func (s Security) field() uint32 {
	if s == Secure {
		return hwreg.SecSecure
	}
	return hwreg.SecNonSecure
}

func (s Security) String() string {
	if s == Secure {
		return "secure"
	}
	return "non-secure"
}

// Side selects the source or destination half of a transfer.
type Side int

// Sides.
const (
	Src Side = iota
	Dst
)

func (s Side) String() string {
	if s == Src {
		return "src"
	}
	return "dst"
}

// Endpoint describes one end of a transfer.
type Endpoint struct {
	// Device is the peripheral's event line, 0 to EventLines-1. It is
	// ignored for memory endpoints.
	Device int

	Width     Width
	Burst     Burst
	Endian    Endian
	Increment bool
	Buffer    BufferType
}

// SGEntry is one element of a scatter-gather list.
type SGEntry struct {
	Addr uint64
	Len  uint32
}

// PipeDescriptor is the declarative description of a pipe.
type PipeDescriptor struct {
	Direction Direction
	Mode      Mode
	Src       Endpoint
	Dst       Endpoint

	// Length is the transfer length in bytes. It may be left zero and set
	// later with SetCount or SetSG.
	Length uint32

	// SrcAddr and DstAddr are the initial bus addresses, as SetAddr sets.
	SrcAddr uint64
	DstAddr uint64

	// SrcSG and DstSG are optional initial scatter-gather lists, as SetSG
	// sets. The engine keeps its own copy.
	SrcSG []SGEntry
	DstSG []SGEntry

	Priority Priority
	Security Security

	// Reserve claims a physical channel at Request time instead of at
	// the first Enable.
	Reserve bool

	// IRQPerLLI raises a terminal count interrupt on every descriptor.
	// The engine still reports one completion for the whole transfer.
	IRQPerLLI bool

	// NotifyEachLLI additionally reports each descriptor to a completer
	// that implements LLICompleter. It implies IRQPerLLI.
	NotifyEachLLI bool
}

func (d *PipeDescriptor) endpoint(s Side) *Endpoint {
	if s == Src {
		return &d.Src
	}
	return &d.Dst
}

func (d *PipeDescriptor) periph(s Side) bool {
	if s == Src {
		return d.Direction.srcPeriph()
	}
	return d.Direction.dstPeriph()
}

// perLLI reports whether every descriptor raises an interrupt.
func (d *PipeDescriptor) perLLI() bool {
	return d.IRQPerLLI || d.NotifyEachLLI
}

// group returns the event group the transfer is wired to, or -1 for a
// memory-to-memory transfer.
func (d *PipeDescriptor) group() int {
	switch {
	case d.Direction.srcPeriph():
		return d.Src.Device / hwreg.LinesPerGroup
	case d.Direction.dstPeriph():
		return d.Dst.Device / hwreg.LinesPerGroup
	default:
		return -1
	}
}

// logicalID returns the logical channel the transfer uses in logical mode.
func (d *PipeDescriptor) logicalID() ChannelID {
	if d.Direction.srcPeriph() {
		return logicalID(d.Src.Device, false)
	}
	return logicalID(d.Dst.Device, true)
}

func invalid(format string, v ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, v...), dmaerr.EINVAL)
}

// validate checks d for internal consistency.
func (d *PipeDescriptor) validate() error {
	if d.Direction < MemToPeriph || d.Direction > PeriphToPeriph {
		return invalid("bad direction %d", int(d.Direction))
	}
	if d.Mode != ModePhysical && d.Mode != ModeLogical {
		return invalid("bad mode %d", int(d.Mode))
	}
	if d.Direction == MemToMem && d.Mode == ModeLogical {
		return invalid("memory-to-memory transfers need a physical channel")
	}
	for _, s := range []Side{Src, Dst} {
		ep := d.endpoint(s)
		if !ep.Width.valid() {
			return invalid("%v width %d", s, ep.Width)
		}
		if _, ok := ep.Burst.psize(); !ok {
			return invalid("%v burst %d", s, ep.Burst)
		}
		if d.periph(s) && (ep.Device < 0 || ep.Device >= hwreg.EventLines) {
			return invalid("%v device %d out of range", s, ep.Device)
		}
	}
	if d.Direction == PeriphToPeriph {
		sg, dg := d.Src.Device/hwreg.LinesPerGroup, d.Dst.Device/hwreg.LinesPerGroup
		if sg != dg {
			return invalid("peripheral-to-peripheral across event groups %d and %d", sg, dg)
		}
	}
	if d.Priority != PriorityLow && d.Priority != PriorityHigh {
		return invalid("bad priority %d", int(d.Priority))
	}
	if d.Security != NonSecure && d.Security != Secure {
		return invalid("bad security %d", int(d.Security))
	}
	return nil
}
