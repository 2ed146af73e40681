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
	"fmt"
	"strings"
	"testing"
	"time"

	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/sync"
)

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) Emit(_ int, level log.Level, _ time.Time, format string, v ...any) {
	if level != log.Warning {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, fmt.Sprintf(format, v...))
}

func (w *warnings) has(sub string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func captureWarnings(t *testing.T) *warnings {
	old := log.Log().Emitter
	w := &warnings{}
	log.SetTarget(w)
	t.Cleanup(func() { log.SetTarget(old) })
	return w
}

func TestReleaseBlockErrorLogged(t *testing.T) {
	r := newRig(t, Config{})
	id := r.request(memToMem(4096, Width32))
	p, err := r.e.pipes.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	w := captureWarnings(t)

	p.mu.Lock()
	r.e.releaseBlock(p, false, 0)
	p.mu.Unlock()
	if want := fmt.Sprintf("Pipe %d: pool", id); !w.has(want) {
		t.Errorf("no %q warning for release of a free block, got %q", want, w.msgs)
	}
}
