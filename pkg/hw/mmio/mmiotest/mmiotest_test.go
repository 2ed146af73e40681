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

package mmiotest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadWrite(t *testing.T) {
	b := New(0x10)
	b.Write32(0x4, 0xdeadbeef)
	if got := b.Read32(0x4); got != 0xdeadbeef {
		t.Errorf("Read32 = %#x, want 0xdeadbeef", got)
	}
	if got := b.Read32(0x0); got != 0 {
		t.Errorf("Read32(0) = %#x, want 0", got)
	}
}

func TestW1C(t *testing.T) {
	b := New(0x10)
	b.OnWrite(0x8, W1C)
	b.Poke(0x8, 0b1111)
	b.Write32(0x8, 0b0101)
	if got := b.Peek(0x8); got != 0b1010 {
		t.Errorf("after W1C = %#b, want 0b1010", got)
	}
}

func TestReadHook(t *testing.T) {
	b := New(0x10)
	n := uint32(0)
	b.OnRead(0x0, func(cur uint32) uint32 {
		n++
		return cur + n
	})
	b.Read32(0x0)
	if got := b.Read32(0x0); got != 2 {
		t.Errorf("second read = %d, want 2", got)
	}
	b.OnRead(0x0, nil)
	if got := b.Read32(0x0); got != 0 {
		t.Errorf("read after hook removal = %d, want 0", got)
	}
}

func TestHistory(t *testing.T) {
	b := New(0x10)
	b.Write32(0x0, 1)
	b.Record(true)
	b.Write32(0x4, 2)
	b.Write32(0xc, 3)
	want := []Access{{Off: 0x4, Value: 2}, {Off: 0xc, Value: 3}}
	if diff := cmp.Diff(want, b.History()); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
	if h := b.History(); len(h) != 0 {
		t.Errorf("History not cleared: %v", h)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	b := New(0x10)
	defer func() {
		if recover() == nil {
			t.Errorf("Read32(0x10) did not panic")
		}
	}()
	b.Read32(0x10)
}
