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

package mmio_test

import (
	"errors"
	"testing"

	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/hw/mmio"
	"ux500.dev/dma40/pkg/hw/mmio/mmiotest"
)

func TestField(t *testing.T) {
	f := mmio.Field{Shift: 8, Width: 4}
	if got, want := f.Mask(), uint32(0xf00); got != want {
		t.Errorf("Mask = %#x, want %#x", got, want)
	}
	if got := f.Get(0xabcd); got != 0xb {
		t.Errorf("Get = %#x, want 0xb", got)
	}
	if got := f.Put(0xffff, 0x12); got != 0xf2ff {
		t.Errorf("Put = %#x, want 0xf2ff", got)
	}
}

func TestModify(t *testing.T) {
	b := mmiotest.New(8)
	b.Poke(4, 0xff00ff00)
	mmio.Modify(b, 4, 0x0000ffff, 0x1234)
	if got := b.Peek(4); got != 0xff001234 {
		t.Errorf("Modify = %#x, want 0xff001234", got)
	}
}

func TestPoll(t *testing.T) {
	n := 0
	if err := mmio.Poll(10, 0, func() bool { n++; return n == 3 }); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 3 {
		t.Errorf("cond evaluated %d times, want 3", n)
	}
}

func TestPollTimeout(t *testing.T) {
	n := 0
	err := mmio.Poll(4, 0, func() bool { n++; return false })
	if !errors.Is(err, dmaerr.ETIMEDOUT) {
		t.Fatalf("Poll = %v, want ETIMEDOUT", err)
	}
	if n != 5 {
		t.Errorf("cond evaluated %d times, want 5", n)
	}
}
