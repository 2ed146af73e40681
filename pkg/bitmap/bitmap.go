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

// Package bitmap provides a fixed-size bitmap with first-fit searches. It
// backs every id and block allocator in the DMA engine.
package bitmap

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrFull is returned by searches that find no clear bit.
var ErrFull = errors.New("bitmap has no clear bits")

const wordBits = 64

// Bitmap is a fixed-size set of bit indices. The zero value is an empty
// bitmap of size zero.
//
// Bitmap is not synchronized; callers hold their own lock.
type Bitmap struct {
	// words holds the bits, least significant first.
	words []uint64

	// size is the number of valid bits. Bits at or above size are never
	// returned by a search and may not be set.
	size uint32

	// ones is the number of set bits.
	ones uint32
}

// New returns an empty Bitmap of exactly size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		words: make([]uint64, (size+wordBits-1)/wordBits),
		size:  size,
	}
}

// Size returns the number of valid bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint32 {
	return b.ones
}

func split(i uint32) (int, uint64) {
	return int(i / wordBits), uint64(1) << (i % wordBits)
}

// IsSet returns whether bit i is set. Out of range bits are never set.
func (b *Bitmap) IsSet(i uint32) bool {
	if i >= b.size {
		return false
	}
	w, m := split(i)
	return b.words[w]&m != 0
}

// FirstZero returns the lowest clear bit in [start, size). The error wraps
// ErrFull when there is none, including when start is out of range.
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("search from %d in bitmap of %d bits: %w", start, b.size, ErrFull)
	}
	w, m := split(start)
	// Treat the bits below start as set.
	word := b.words[w] | (m - 1)
	for ; w < len(b.words); w++ {
		if w > int(start/wordBits) {
			word = b.words[w]
		}
		if free := ^word; free != 0 {
			bit := uint32(w*wordBits + bits.TrailingZeros64(free))
			if bit >= b.size {
				break
			}
			return bit, nil
		}
	}
	return 0, ErrFull
}

// Add sets bit i. It panics if i is out of range, since that means the
// caller computed an index the bitmap never handed out.
func (b *Bitmap) Add(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bitmap: Add(%d) out of range [0, %d)", i, b.size))
	}
	w, m := split(i)
	if b.words[w]&m == 0 {
		b.words[w] |= m
		b.ones++
	}
}

// Remove clears bit i. Removing an out of range or clear bit is a no-op.
func (b *Bitmap) Remove(i uint32) {
	if i >= b.size {
		return
	}
	w, m := split(i)
	if b.words[w]&m != 0 {
		b.words[w] &^= m
		b.ones--
	}
}

// TakeFirstZero sets the lowest clear bit at or after start and returns it.
func (b *Bitmap) TakeFirstZero(start uint32) (uint32, error) {
	bit, err := b.FirstZero(start)
	if err != nil {
		return 0, err
	}
	b.Add(bit)
	return bit, nil
}

// ToSlice returns the set bits in increasing order.
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.ones)
	for w, word := range b.words {
		for word != 0 {
			out = append(out, uint32(w*wordBits+bits.TrailingZeros64(word)))
			word &= word - 1
		}
	}
	return out
}
