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

package bitmap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFirstZeroRespectsSize(t *testing.T) {
	b := New(3)
	for want := uint32(0); want < 3; want++ {
		got, err := b.TakeFirstZero(0)
		if err != nil {
			t.Fatalf("TakeFirstZero() #%d failed: %v", want, err)
		}
		if got != want {
			t.Errorf("TakeFirstZero() = %d, want %d", got, want)
		}
	}
	// The backing word still has 61 clear bits, none of them valid.
	if got, err := b.FirstZero(0); !errors.Is(err, ErrFull) {
		t.Errorf("FirstZero() on a full bitmap = %d, %v, want ErrFull", got, err)
	}
	if _, err := b.FirstZero(3); !errors.Is(err, ErrFull) {
		t.Errorf("FirstZero(3) = %v, want ErrFull", err)
	}
}

func TestFirstZeroAcrossBlocks(t *testing.T) {
	b := New(160)
	for i := uint32(0); i < 130; i++ {
		b.Add(i)
	}
	got, err := b.FirstZero(0)
	if err != nil {
		t.Fatalf("FirstZero failed: %v", err)
	}
	if got != 130 {
		t.Errorf("FirstZero() = %d, want 130", got)
	}
	b.Remove(64)
	if got, _ := b.FirstZero(10); got != 64 {
		t.Errorf("FirstZero(10) after Remove(64) = %d, want 64", got)
	}
	if got, _ := b.FirstZero(65); got != 130 {
		t.Errorf("FirstZero(65) = %d, want 130", got)
	}
}

func TestAddRemoveCount(t *testing.T) {
	b := New(100)
	b.Add(5)
	b.Add(5)
	b.Add(70)
	if got := b.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if !b.IsSet(70) || b.IsSet(71) || b.IsSet(1000) {
		t.Errorf("IsSet reports wrong values: 70=%t 71=%t 1000=%t", b.IsSet(70), b.IsSet(71), b.IsSet(1000))
	}
	if diff := cmp.Diff([]uint32{5, 70}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Remove(5)
	b.Remove(5)
	b.Remove(500)
	if got := b.Count(); got != 1 {
		t.Errorf("Count() after removes = %d, want 1", got)
	}
}

func TestAddOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Add out of range did not panic")
		}
	}()
	b := New(8)
	b.Add(8)
}
