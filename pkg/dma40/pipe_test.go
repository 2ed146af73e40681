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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

func TestPipeTableIDs(t *testing.T) {
	tbl := newPipeTable()
	seen := make(map[PipeID]bool)
	for i := 0; i < MaxPipes; i++ {
		p, err := tbl.alloc(PipeDescriptor{})
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if seen[p.id] {
			t.Fatalf("id %d handed out twice", p.id)
		}
		seen[p.id] = true
	}
	if _, err := tbl.alloc(PipeDescriptor{}); !errors.Is(err, dmaerr.EBUSY) {
		t.Errorf("alloc past capacity = %v, want EBUSY", err)
	}
	tbl.free(17)
	if _, err := tbl.get(17); !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("get of freed id = %v, want EINVAL", err)
	}
	p, err := tbl.alloc(PipeDescriptor{})
	if err != nil || p.id != 17 {
		t.Errorf("realloc = %v, %v, want id 17", p, err)
	}
	if got := tbl.count(); got != MaxPipes {
		t.Errorf("count = %d, want %d", got, MaxPipes)
	}
}

func TestPipeTableBounds(t *testing.T) {
	tbl := newPipeTable()
	for _, id := range []PipeID{-1, MaxPipes, 0} {
		if _, err := tbl.get(id); !errors.Is(err, dmaerr.EINVAL) {
			t.Errorf("get(%d) = %v, want EINVAL", id, err)
		}
	}
	a, _ := tbl.alloc(PipeDescriptor{})
	b, _ := tbl.alloc(PipeDescriptor{})
	if diff := cmp.Diff([]PipeID{a.id, b.id}, tbl.list()); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPipeUnassigned(t *testing.T) {
	p := newPipe(3, PipeDescriptor{Length: 8})
	if p.phys != NoChannel || p.chanID != NoChannelID || !p.invalid {
		t.Errorf("new pipe: phys %d chanID %d invalid %v", p.phys, p.chanID, p.invalid)
	}
	if p.physBlk != [2]int{-1, -1} || p.lclaBlk != [2]int{-1, -1} || p.sgSlot != [2]int{-1, -1} {
		t.Errorf("new pipe holds blocks: %v %v %v", p.physBlk, p.lclaBlk, p.sgSlot)
	}
}

func TestProgressWhole(t *testing.T) {
	var pr progress
	if _, _, _, complete := pr.advance(); complete {
		t.Errorf("unarmed progress completed")
	}
	pr.reset([]uint32{100, 50}, false, false)
	lli, _, total, complete := pr.advance()
	if lli != nil || !complete || total != 150 {
		t.Errorf("advance = %v, %d, %v, want whole transfer of 150", lli, total, complete)
	}
}

func TestProgressPerLLI(t *testing.T) {
	var pr progress
	pr.reset([]uint32{100, 50, 25}, true, true)
	var got []lliDone
	for i := 0; i < 3; i++ {
		lli, notify, total, complete := pr.advance()
		if lli == nil || !notify {
			t.Fatalf("advance %d: lli %v notify %v", i, lli, notify)
		}
		got = append(got, *lli)
		if want := i == 2; complete != want {
			t.Errorf("advance %d complete = %v, want %v", i, complete, want)
		}
		if i == 2 && total != 175 {
			t.Errorf("total = %d, want 175", total)
		}
	}
	want := []lliDone{{0, 100}, {1, 50}, {2, 25}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(lliDone{})); diff != "" {
		t.Errorf("descriptors mismatch (-want +got):\n%s", diff)
	}
	if lli, _, _, complete := pr.advance(); lli != nil || complete {
		t.Errorf("advance past end = %v, %v", lli, complete)
	}
}
