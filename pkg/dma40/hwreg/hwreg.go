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

// Package hwreg describes the DMA40 register file and in-memory descriptor
// formats. It is shared by the engine and the controller model.
package hwreg

import (
	"encoding/binary"

	"ux500.dev/dma40/pkg/hw/mmio"
)

// Controller geometry.
const (
	MaxPhysChannels    = 32
	EventGroups        = 4
	LinesPerGroup      = 16
	EventLines         = EventGroups * LinesPerGroup
	LogicalChannels    = 2 * EventLines
	MaxLogicalPerPhys  = 16
	ChannelsPerGroup   = MaxPhysChannels / EventGroups
	MaxElements        = 0xffff
	BankSize           = 0x1000
	PhysChannelIDBase  = LogicalChannels
	ChannelIDs         = LogicalChannels + MaxPhysChannels
	StatusBanks        = LogicalChannels / 32
	PhysLLISize        = 16
	PhysLLIsPerBlock   = 8
	PhysLLIAlign       = 32
	LogRecordSize      = 8
	LCLAPerChannel     = 1024
	LogRecordsPerBlock = 8
	LCLABlocksPerChan  = LCLAPerChannel / (LogRecordSize * LogRecordsPerBlock)
	LCPASize           = LogicalChannels * 16
	LCPAAlign          = 1024
)

// Global registers.
const (
	GCC    = 0x000
	PRSME  = 0x008
	PRSMO  = 0x00c
	PRMSE  = 0x010
	PRMSO  = 0x014
	PRMOE  = 0x018
	PRMOO  = 0x01c
	LCPA   = 0x020
	LCLA   = 0x024
	ACTIVE = 0x050
	ACTIVO = 0x054
	PCTIS  = 0x0d0
	PCEIS  = 0x0d8
	LCTIS1 = 0x0e0
	LCEIS1 = 0x0f0
	PERIPH = 0xfe0
)

// GCCEnable turns the controller on.
const GCCEnable = 1

// Saved lists the registers preserved across system suspend, in restore
// order.
var Saved = []uint32{GCC, PRSME, PRSMO, PRMSE, PRMSO, PRMOE, PRMOO, LCPA, LCLA}

// Values of the two-bit security fields.
const (
	SecSecure    = 1
	SecNonSecure = 2
)

// Values of the two-bit mode fields.
const (
	ModePhysical = 1
	ModeLogical  = 2
)

// Commands written to ACTIVE/ACTIVO.
const (
	CmdStop     = 0
	CmdRun      = 1
	CmdSuspend  = 2
	CmdNoChange = 3
)

// States read from ACTIVE/ACTIVO.
const (
	StateStopped        = 0
	StateRunning        = 1
	StateSuspendPending = 2
	StateSuspended      = 3
)

// Logical event line commands written to SSLNK/SDLNK of a logical-mode
// channel.
const (
	LineDeactivate = 0
	LineActivate   = 1
	LineNoChange   = 3
)

// Per-channel register offsets, relative to ChanBase.
const (
	SSCFG = 0x00
	SSELT = 0x04
	SSPTR = 0x08
	SSLNK = 0x0c
	SDCFG = 0x10
	SDELT = 0x14
	SDPTR = 0x18
	SDLNK = 0x1c

	chanRegBase   = 0x400
	chanRegStride = 0x20
)

// ChanReg returns the offset of register reg of physical channel ch.
func ChanReg(ch uint32, reg uint32) uint32 {
	return chanRegBase + chanRegStride*ch + reg
}

// Pair returns the even or odd register of a pair and the shift of ch's
// two-bit field in it.
func Pair(even, odd uint32, ch uint32) (uint32, uint32) {
	if ch%2 == 0 {
		return even, (ch / 2) * 2
	}
	return odd, (ch / 2) * 2
}

// TwoBitWrite returns a word that writes val to the field at shift and
// writes the "no change" pattern to every other field.
func TwoBitWrite(shift, val uint32) uint32 {
	return ^uint32(0)&^(3<<shift) | (val&3)<<shift
}

// TwoBits extracts the field at shift.
func TwoBits(v, shift uint32) uint32 {
	return (v >> shift) & 3
}

// GroupOf returns the event group served by physical channel ch. Group g
// owns channels {2g, 2g+1} + 8k.
func GroupOf(ch uint32) int {
	return int(ch%8) / 2
}

// GroupChannels returns the physical channels of group g below n, in search
// order.
func GroupChannels(g int, n int) []uint32 {
	var out []uint32
	for k := 0; k < MaxPhysChannels/8; k++ {
		for j := 0; j < 2; j++ {
			ch := uint32(2*g + j + 8*k)
			if int(ch) < n {
				out = append(out, ch)
			}
		}
	}
	return out
}

// Physical CFG fields.
var (
	CfgESIZE = mmio.Field{Shift: 0, Width: 2}
	CfgPSIZE = mmio.Field{Shift: 2, Width: 2}
	CfgEVTL  = mmio.Field{Shift: 8, Width: 4}
)

// Physical CFG flags.
const (
	CfgLBE = 1 << 4
	CfgPRI = 1 << 5
	CfgTIM = 1 << 6
	CfgEIM = 1 << 7
)

// ELT fields.
var (
	EltECNT = mmio.Field{Shift: 16, Width: 16}
	EltEIDX = mmio.Field{Shift: 0, Width: 16}
)

// LnkAddrMask selects the next-LLI address of a physical LNK.
const LnkAddrMask = ^uint32(0xf)

// PhysLLI is one physical half-channel descriptor as stored in memory and in
// the live registers.
type PhysLLI struct {
	CFG uint32
	ELT uint32
	PTR uint32
	LNK uint32
}

// Put stores l at the start of b.
func (l PhysLLI) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], l.CFG)
	binary.LittleEndian.PutUint32(b[4:], l.ELT)
	binary.LittleEndian.PutUint32(b[8:], l.PTR)
	binary.LittleEndian.PutUint32(b[12:], l.LNK)
}

// GetPhysLLI loads a descriptor from the start of b.
func GetPhysLLI(b []byte) PhysLLI {
	return PhysLLI{
		CFG: binary.LittleEndian.Uint32(b[0:]),
		ELT: binary.LittleEndian.Uint32(b[4:]),
		PTR: binary.LittleEndian.Uint32(b[8:]),
		LNK: binary.LittleEndian.Uint32(b[12:]),
	}
}

// Logical channel parameter fields. Word 0 is LCSP0 or LCSP2, word 1 is
// LCSP1 or LCSP3.
var (
	LogECNT  = mmio.Field{Shift: 16, Width: 16}
	LogPTRLo = mmio.Field{Shift: 0, Width: 16}
	LogPTRHi = mmio.Field{Shift: 16, Width: 16}
	LogPSIZE = mmio.Field{Shift: 10, Width: 2}
	LogESIZE = mmio.Field{Shift: 8, Width: 2}
	LogLOS   = mmio.Field{Shift: 1, Width: 7}
)

// Logical channel parameter flags, in word 1.
const (
	LogMST  = 1 << 15
	LogTIM  = 1 << 14
	LogEIM  = 1 << 13
	LogINCR = 1 << 12
)

// LogRecord is one logical half-channel descriptor: the pair LCSP0/LCSP1 for
// the source or LCSP2/LCSP3 for the destination.
type LogRecord struct {
	W0 uint32
	W1 uint32
}

// Put stores r at the start of b.
func (r LogRecord) Put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], r.W0)
	binary.LittleEndian.PutUint32(b[4:], r.W1)
}

// GetLogRecord loads a record from the start of b.
func GetLogRecord(b []byte) LogRecord {
	return LogRecord{
		W0: binary.LittleEndian.Uint32(b[0:]),
		W1: binary.LittleEndian.Uint32(b[4:]),
	}
}

// Addr returns the 32-bit address split across both words.
func (r LogRecord) Addr() uint32 {
	return LogPTRHi.Get(r.W1)<<16 | LogPTRLo.Get(r.W0)
}

// Offsets of the source and destination halves in a channel's LCPA entry.
const (
	LCPASrc = 0
	LCPADst = 8
)

// LCPAEntry returns the byte offset of logical channel id in the LCPA.
func LCPAEntry(id uint32) int {
	return int(id) * 16
}

// LCLASlot returns the byte offset of record slot within physical channel
// ch's LCLA area.
func LCLASlot(ch uint32, slot uint32) int {
	return int(ch)*LCLAPerChannel + int(slot)*LogRecordSize
}
