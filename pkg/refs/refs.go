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

// Package refs defines Count, a checked reference count for shared hardware
// resources. The zero value holds no references.
package refs

import (
	"fmt"
	"sync/atomic"
)

// Count keeps a reference count using atomic operations. Increment and
// decrement are its only mutators, and both check for corruption: dropping a
// reference that was never taken panics, as does taking one on a count that
// has gone negative.
type Count struct {
	// name identifies the owner in panic messages.
	name string

	refCount atomic.Int64
}

// NewCount returns a Count with no references. name is used in panics.
func NewCount(name string) *Count {
	return &Count{name: name}
}

// SetName sets the name used in panic messages.
func (c *Count) SetName(name string) {
	c.name = name
}

// ReadRefs returns the current number of references. The returned count is
// inherently racy and is unsafe to use without external synchronization.
func (c *Count) ReadRefs() int64 {
	return c.refCount.Load()
}

// IncRef takes a reference and returns the new count.
func (c *Count) IncRef() int64 {
	v := c.refCount.Add(1)
	if v <= 0 {
		panic(fmt.Sprintf("Incrementing non-positive ref count %p on %s", c, c.name))
	}
	return v
}

// TryIncRefBelow takes a reference only if fewer than limit are held. It
// reports whether the reference was taken.
func (c *Count) TryIncRefBelow(limit int64) bool {
	for {
		v := c.refCount.Load()
		if v < 0 {
			panic(fmt.Sprintf("Incrementing negative ref count %p on %s", c, c.name))
		}
		if v >= limit {
			return false
		}
		if c.refCount.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// DecRef drops a reference and returns the remaining count. When the count
// reaches zero destroy, if not nil, is called.
func (c *Count) DecRef(destroy func()) int64 {
	v := c.refCount.Add(-1)
	switch {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p, owned by %s", c, c.name))
	case v == 0:
		if destroy != nil {
			destroy()
		}
	}
	return v
}
