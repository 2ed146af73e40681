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

package descpool

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/hw/coherent"
)

func TestAlignment(t *testing.T) {
	h := coherent.NewHeap()
	for _, align := range []int{1, 4, 32, 1024} {
		p, err := New(h, "test", 128, 4, align)
		if err != nil {
			t.Fatalf("New(align=%d): %v", align, err)
		}
		if got := p.Base().Bus % uint64(align); got != 0 {
			t.Errorf("align %d: base %#x misaligned by %d", align, p.Base().Bus, got)
		}
		for i := uint32(0); i < 4; i++ {
			if want := p.Base().Bus + uint64(i)*128; p.BusAddr(i) != want {
				t.Errorf("BusAddr(%d) = %#x, want %#x", i, p.BusAddr(i), want)
			}
		}
		if err := p.Destroy(); err != nil {
			t.Errorf("Destroy: %v", err)
		}
	}
	if _, err := New(h, "bad", 16, 1, 24); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("New with odd alignment = %v, want EINVAL", err)
	}
	if got := h.InUse(); got != 0 {
		t.Errorf("heap still holds %d bytes after Destroy", got)
	}
}

func TestRoundTrip(t *testing.T) {
	p, err := New(coherent.NewHeap(), "rt", 16, 8, 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := p.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != b {
		t.Errorf("alloc/release/alloc returned %d then %d", a, b)
	}
}

func TestExhaustion(t *testing.T) {
	p, err := New(coherent.NewHeap(), "small", 16, 3, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var got []uint32
	for i := 0; i < 3; i++ {
		idx, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
		got = append(got, idx)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	if _, err := p.Alloc(); !errors.Is(err, dmaerr.ENOMEM) {
		t.Errorf("Alloc on full pool = %v, want ENOMEM", err)
	}
	if err := p.Release(1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(1); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("double Release = %v, want EINVAL", err)
	}
	if idx, err := p.Alloc(); err != nil || idx != 1 {
		t.Errorf("Alloc after release = %d, %v; want 1", idx, err)
	}
	if got := p.Live(); got != 3 {
		t.Errorf("Live = %d, want 3", got)
	}
}

func TestAllocFailure(t *testing.T) {
	h := coherent.NewHeap()
	h.Limit = 100
	if _, err := New(h, "big", 64, 4, 1); !errors.Is(err, dmaerr.ENOMEM) {
		t.Errorf("New over heap limit = %v, want ENOMEM", err)
	}
}

func TestFixedPartitions(t *testing.T) {
	h := coherent.NewHeap()
	const base = 0x1000_0000
	p, err := NewFixed(h, "lcla", base, 64, 16, 4)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	for part := uint32(0); part < 4; part++ {
		if err := p.Reserve(part, 0); err != nil {
			t.Fatalf("Reserve(%d, 0): %v", part, err)
		}
	}
	if err := p.Reserve(0, 0); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("Reserve twice = %v, want EINVAL", err)
	}
	a, err := p.AllocFor(2)
	if err != nil {
		t.Fatalf("AllocFor(2): %v", err)
	}
	b, err := p.AllocFor(3)
	if err != nil {
		t.Fatalf("AllocFor(3): %v", err)
	}
	if a != 1 || b != 1 {
		t.Errorf("first blocks = %d, %d; want 1, 1", a, b)
	}
	if got, want := p.BlockFor(2, 1).Bus, uint64(base+2*1024+64); got != want {
		t.Errorf("BlockFor(2, 1) = %#x, want %#x", got, want)
	}
	if got := p.Live(); got != 2 {
		t.Errorf("Live = %d, want 2", got)
	}
	if _, err := p.AllocFor(4); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("AllocFor out of range = %v, want EINVAL", err)
	}
	p.BlockFor(2, 1).Put32(0, 0xabcd)
	r, err := h.MapFixed(base, 4096)
	if err != nil {
		t.Fatalf("MapFixed: %v", err)
	}
	if got := r.Get32(2*1024 + 64); got != 0xabcd {
		t.Errorf("fixed memory reads %#x, want 0xabcd", got)
	}
}

func TestPartitionExhaustion(t *testing.T) {
	p, err := NewFixed(coherent.NewHeap(), "lcla", 0x1000_0000, 8, 4, 2)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := p.AllocFor(0); err != nil {
			t.Fatalf("AllocFor(0) #%d: %v", i, err)
		}
	}
	if _, err := p.AllocFor(0); !errors.Is(err, dmaerr.ENOMEM) {
		t.Errorf("AllocFor on full partition = %v, want ENOMEM", err)
	}
	if idx, err := p.AllocFor(1); err != nil || idx != 0 {
		t.Errorf("AllocFor(1) = %d, %v; other partitions must be independent", idx, err)
	}
}

func TestDestroyThenUse(t *testing.T) {
	p, err := New(coherent.NewHeap(), "gone", 16, 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Alloc(); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := p.Alloc(); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("Alloc after Destroy = %v, want EINVAL", err)
	}
}

func TestConcurrentUnique(t *testing.T) {
	p, err := New(coherent.NewHeap(), "conc", 16, 64, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := make([]uint32, 64)
	var g errgroup.Group
	for i := range got {
		g.Go(func() error {
			idx, err := p.Alloc()
			got[i] = idx
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	seen := make(map[uint32]bool)
	for _, idx := range got {
		if seen[idx] {
			t.Errorf("block %d handed out twice", idx)
		}
		seen[idx] = true
	}
}

func TestElementPool(t *testing.T) {
	p := NewElementPool[int]("sg", 2, 4)
	if got := p.Capacity(); got != 4 {
		t.Errorf("Capacity = %d, want 4", got)
	}
	i, s, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s = append(s, 1, 2, 3, 4)
	if _, _, err := p.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, err := p.Get(); !errors.Is(err, dmaerr.ENOMEM) {
		t.Errorf("Get on empty pool = %v, want ENOMEM", err)
	}
	if err := p.Put(i); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := p.Put(i); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("double Put = %v, want EINVAL", err)
	}
	j, s2, err := p.Get()
	if err != nil || j != i {
		t.Fatalf("Get after Put = %d, %v; want %d", j, err, i)
	}
	if len(s2) != 0 || cap(s2) != 4 || s2[:4][0] != 0 {
		t.Errorf("reused slot not reset: len %d cap %d contents %v", len(s2), cap(s2), s2[:4])
	}
	_ = s
}

func TestNewPartitioned(t *testing.T) {
	h := coherent.NewHeap()
	p, err := NewPartitioned(h, "lcla", 64, 16, 2, 1024)
	if err != nil {
		t.Fatalf("NewPartitioned: %v", err)
	}
	if p.Base().Bus%1024 != 0 {
		t.Errorf("base %#x not 1 KiB aligned", p.Base().Bus)
	}
	if p.Partitions() != 2 || p.BlocksPerPartition() != 16 {
		t.Errorf("geometry = %d x %d, want 2 x 16", p.Partitions(), p.BlocksPerPartition())
	}
	if got, want := p.BlockFor(1, 0).Bus, p.Base().Bus+1024; got != want {
		t.Errorf("BlockFor(1, 0) = %#x, want %#x", got, want)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := h.InUse(); got != 0 {
		t.Errorf("heap holds %d bytes after Destroy", got)
	}
}
