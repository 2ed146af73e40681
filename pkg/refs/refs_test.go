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

package refs

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestIncDec(t *testing.T) {
	c := NewCount("test")
	if got := c.IncRef(); got != 1 {
		t.Errorf("IncRef() = %d, want 1", got)
	}
	c.IncRef()
	destroyed := false
	if got := c.DecRef(func() { destroyed = true }); got != 1 || destroyed {
		t.Errorf("DecRef() = %d, destroyed=%t, want 1, false", got, destroyed)
	}
	if got := c.DecRef(func() { destroyed = true }); got != 0 || !destroyed {
		t.Errorf("DecRef() = %d, destroyed=%t, want 0, true", got, destroyed)
	}
}

func TestOverReleasePanics(t *testing.T) {
	c := NewCount("test")
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on zero count did not panic")
		}
	}()
	c.DecRef(nil)
}

func TestTryIncRefBelow(t *testing.T) {
	const limit = 16
	c := NewCount("shared")
	var g errgroup.Group
	var taken [64]bool
	for i := range taken {
		g.Go(func() error {
			taken[i] = c.TryIncRefBelow(limit)
			return nil
		})
	}
	g.Wait()
	n := 0
	for _, ok := range taken {
		if ok {
			n++
		}
	}
	if n != limit {
		t.Errorf("%d references taken, want %d", n, limit)
	}
	if got := c.ReadRefs(); got != limit {
		t.Errorf("ReadRefs() = %d, want %d", got, limit)
	}
}
