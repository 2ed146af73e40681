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
	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

func TestIRQPerLLIOneCompletion(t *testing.T) {
	r := newRig(t, Config{})
	var rec recorder
	d := memToMem(65535*4*2+8, Width32)
	d.IRQPerLLI = true
	id := r.request(d)
	r.e.SetCallback(id, &rec, nil)
	r.enable(id)
	before := r.e.Stats().Interrupts
	if n, err := r.sim.RunPhys(int(r.physOf(id))); err != nil || n != 3 {
		t.Fatalf("RunPhys = %d, %v", n, err)
	}
	if got := r.e.Stats().Interrupts - before; got != 3 {
		t.Errorf("%d interrupts, want one per descriptor", got)
	}
	if diff := cmp.Diff([]completion{{Pipe: id, N: 65535*4*2 + 8}}, rec.completions()); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	if got := rec.lliEvents(); len(got) != 0 {
		t.Errorf("descriptor events without NotifyEachLLI: %v", got)
	}
}

func TestNotifyEachLLI(t *testing.T) {
	r := newRig(t, Config{})
	var rec recorder
	d := toPeriph(17, ModeLogical, 65535*2+6, Width16)
	d.NotifyEachLLI = true
	id := r.request(d)
	r.e.SetCallback(id, &rec, nil)
	r.enable(id)
	if n, err := r.sim.RunLogical(int(r.chanOf(id))); err != nil || n != 2 {
		t.Fatalf("RunLogical = %d, %v", n, err)
	}
	want := []lliEvent{{Pipe: id, Index: 0, N: 65535 * 2}, {Pipe: id, Index: 1, N: 6}}
	if diff := cmp.Diff(want, rec.lliEvents()); diff != "" {
		t.Errorf("descriptor events mismatch (-want +got):\n%s", diff)
	}
	if got := len(rec.completions()); got != 1 {
		t.Errorf("%d completions, want 1", got)
	}
}

func TestNotifyWithoutLLICompleter(t *testing.T) {
	r := newRig(t, Config{})
	var done []uint64
	d := memToMem(65535*2, Width8)
	d.NotifyEachLLI = true
	id := r.request(d)
	r.e.SetCallback(id, CompleterFuncs{Complete: func(_ PipeID, n uint64, _ any) { done = append(done, n) }}, nil)
	r.enable(id)
	r.sim.RunPhys(int(r.physOf(id)))
	if diff := cmp.Diff([]uint64{65535 * 2}, done); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
}

func TestTransferError(t *testing.T) {
	r := newRig(t, Config{})
	var rec recorder
	id := r.request(fromPeriph(12, ModeLogical, 256, Width32))
	r.e.SetCallback(id, &rec, nil)
	r.enable(id)
	r.sim.Fail(int(r.chanOf(id)))
	errs := rec.failures()
	if len(errs) != 1 || !errors.Is(errs[0], dmaerr.EIO) {
		t.Fatalf("failures = %v, want one EIO", errs)
	}
	if got := r.e.Stats().Errors; got != 1 {
		t.Errorf("error count %d, want 1", got)
	}
	if got := r.sim.Registers().Peek(hwreg.LCEIS1); got != 0 {
		t.Errorf("error status %#x left set", got)
	}
}

func TestErrorSuppressesTerminalCount(t *testing.T) {
	r := newRig(t, Config{})
	var rec recorder
	id := r.request(memToMem(64, Width32))
	r.e.SetCallback(id, &rec, nil)
	r.enable(id)
	bit := uint32(1) << uint32(r.physOf(id))
	r.sim.Registers().Poke(hwreg.PCTIS, bit)
	r.sim.Registers().Poke(hwreg.PCEIS, bit)
	if n := r.e.HandleInterrupt(); n != 1 {
		t.Errorf("HandleInterrupt handled %d events, want 1", n)
	}
	if len(rec.failures()) != 1 || len(rec.completions()) != 0 {
		t.Errorf("failures %v completions %v", rec.failures(), rec.completions())
	}
	for _, off := range []uint32{hwreg.PCTIS, hwreg.PCEIS} {
		if got := r.sim.Registers().Peek(off); got != 0 {
			t.Errorf("status %#x = %#x, want acknowledged", off, got)
		}
	}
}

func TestUnknownChannel(t *testing.T) {
	r := newRig(t, Config{})
	r.sim.Fail(77)
	r.sim.Registers().Poke(hwreg.LCTIS1+4*2, 1<<3)
	r.sim.Registers().Poke(hwreg.PCTIS, 1<<9)
	r.e.HandleInterrupt()
	if got := r.e.Stats().Unknown; got != 3 {
		t.Errorf("unknown count %d, want 3", got)
	}
	for _, off := range []uint32{hwreg.LCEIS1 + 8, hwreg.LCTIS1 + 8, hwreg.PCTIS} {
		if got := r.sim.Registers().Peek(off); got != 0 {
			t.Errorf("status %#x = %#x, want acknowledged", off, got)
		}
	}
}

func TestStrayPhysicalStatus(t *testing.T) {
	r := newRig(t, Config{PhysChannels: 8})
	r.sim.Registers().Poke(hwreg.PCTIS, 1<<20)
	if n := r.e.HandleInterrupt(); n != 0 {
		t.Errorf("HandleInterrupt handled %d events for an unimplemented channel", n)
	}
	if got := r.sim.Registers().Peek(hwreg.PCTIS); got != 0 {
		t.Errorf("stray status %#x left set", got)
	}
}

func TestNoCallback(t *testing.T) {
	r := newRig(t, Config{})
	id := r.request(memToMem(64, Width32))
	r.e.SetCallback(id, &recorder{}, nil)
	r.e.SetCallback(id, nil, nil)
	r.enable(id)
	if _, err := r.sim.RunPhys(int(r.physOf(id))); err != nil {
		t.Fatalf("RunPhys: %v", err)
	}
	r.sim.Fail(int(physicalID(r.physOf(id))))
}
