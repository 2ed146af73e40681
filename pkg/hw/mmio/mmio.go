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

// Package mmio provides access to 32-bit memory mapped device registers.
//
// A Bank is a window of registers addressed by byte offset. Window is the
// /dev/mem backed implementation for real hardware; package mmiotest
// provides an in-memory one for tests and simulation.
package mmio

// Bank is a window of 32-bit registers. Offsets are in bytes and must be 4
// byte aligned. Implementations must be safe for concurrent use: interrupt
// handlers and client calls access the same bank.
type Bank interface {
	// Read32 returns the register at off.
	Read32(off uint32) uint32

	// Write32 stores v to the register at off.
	Write32(off uint32, v uint32)
}

// Field describes a bit field inside a register.
type Field struct {
	Shift uint32
	Width uint32
}

// Mask returns the in-place mask of f.
func (f Field) Mask() uint32 {
	return ((1 << f.Width) - 1) << f.Shift
}

// Get extracts f from v.
func (f Field) Get(v uint32) uint32 {
	return (v & f.Mask()) >> f.Shift
}

// Put returns v with f replaced by x. Bits of x beyond the field width are
// dropped.
func (f Field) Put(v, x uint32) uint32 {
	return (v &^ f.Mask()) | ((x << f.Shift) & f.Mask())
}

// Modify performs a read-modify-write of the register at off, replacing the
// bits in mask by val. It is not atomic with respect to other writers of the
// same register; callers serialize.
func Modify(b Bank, off, mask, val uint32) {
	v := b.Read32(off)
	b.Write32(off, (v&^mask)|(val&mask))
}
