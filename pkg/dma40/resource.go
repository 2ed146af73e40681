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

	"ux500.dev/dma40/pkg/dma40/hwreg"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/refs"
	"ux500.dev/dma40/pkg/sync"
)

// resStatus is the ownership state of a physical channel.
type resStatus int

const (
	resFree resStatus = iota
	resPhysical
	resLogical
	// resDraining is a shared channel whose last user left and which is
	// being stopped outside the registry lock. It is never allocated.
	resDraining
	// resFaulted is a channel that failed to stop. It is never allocated
	// again.
	resFaulted
	// resReserved is a channel withheld by configuration.
	resReserved
)

func (s resStatus) String() string {
	switch s {
	case resFree:
		return "free"
	case resPhysical:
		return "physical"
	case resLogical:
		return "logical"
	case resDraining:
		return "draining"
	case resFaulted:
		return "faulted"
	case resReserved:
		return "reserved"
	default:
		return fmt.Sprintf("resStatus(%d)", int(s))
	}
}

// resource is the registry entry for one physical channel.
type resource struct {
	status resStatus

	// users counts logical pipes joined to a shared channel.
	users *refs.Count

	// programmed is set once mode and security have been written for the
	// current owner or group of sharers.
	programmed bool

	// security is the class the channel was claimed with.
	security Security
}

// registry arbitrates physical channels between exclusive physical-mode
// owners and shared logical-mode users.
type registry struct {
	n int

	mu sync.Mutex
	// +checklocks:mu
	ents []resource
}

func newRegistry(n int, reserved []int) *registry {
	r := &registry{n: n, ents: make([]resource, n)}
	for i := range r.ents {
		r.ents[i].users = refs.NewCount(fmt.Sprintf("physical channel %d", i))
	}
	for _, ch := range reserved {
		r.ents[ch].status = resReserved
	}
	return r
}

func (r *registry) candidates(group int) []uint32 {
	if group < 0 {
		all := make([]uint32, r.n)
		for i := range all {
			all[i] = uint32(i)
		}
		return all
	}
	return hwreg.GroupChannels(group, r.n)
}

// allocate assigns a physical channel. group is the event group of the
// peripheral involved, or -1 for memory-to-memory transfers, which may use
// any channel.
func (r *registry) allocate(mode Mode, group int, sec Security) (PhysChan, error) {
	if mode == ModeLogical && group < 0 {
		return NoChannel, invalid("logical mode needs a peripheral event group")
	}
	cands := r.candidates(group)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range cands {
		e := &r.ents[ch]
		switch {
		case e.status == resFree:
			e.security = sec
			e.programmed = false
			if mode == ModeLogical {
				e.status = resLogical
				e.users.IncRef()
			} else {
				e.status = resPhysical
			}
			return PhysChan(ch), nil
		case mode == ModeLogical && e.status == resLogical && e.security == sec:
			if e.users.TryIncRefBelow(MaxLogicalPerPhys) {
				return PhysChan(ch), nil
			}
		}
	}
	return NoChannel, fmt.Errorf("no %v channel in event group %d: %w", mode, group, dmaerr.EBUSY)
}

// release gives up a pipe's hold on ch. For a logical user it reports
// whether that was the last one; the caller must then stop the channel and
// call finishDrain.
//
// Releasing a free channel held in physical mode means the registry is
// corrupt, and panics.
func (r *registry) release(ch PhysChan, mode Mode) (drain bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &r.ents[ch]
	if mode == ModePhysical {
		switch e.status {
		case resPhysical:
			e.status = resFree
			e.programmed = false
			return false, nil
		case resFree:
			panic(fmt.Sprintf("dma40: double free of physical channel %d", ch))
		default:
			log.Warningf("Release of physical channel %d in status %v", ch, e.status)
			return false, invalid("physical channel %d is %v", ch, e.status)
		}
	}
	if e.status != resLogical || e.users.ReadRefs() == 0 {
		log.Warningf("Release of logical user on channel %d in status %v", ch, e.status)
		return false, invalid("channel %d has no logical users", ch)
	}
	e.users.DecRef(func() {
		e.status = resDraining
		drain = true
	})
	return drain, nil
}

// finishDrain completes the release of a drained channel.
func (r *registry) finishDrain(ch PhysChan, stopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &r.ents[ch]
	if e.status != resDraining {
		panic(fmt.Sprintf("dma40: finishDrain of channel %d in status %v", ch, e.status))
	}
	e.programmed = false
	if stopped {
		e.status = resFree
		return
	}
	e.status = resFaulted
}

// needsProgram reports whether the mode and security of ch still have to be
// written. Callers hold the channel's configuration lock so that the check
// and markProgrammed bracket the register writes.
func (r *registry) needsProgram(ch PhysChan) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.ents[ch].programmed
}

func (r *registry) markProgrammed(ch PhysChan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ents[ch].programmed = true
}

// users returns the number of logical users of ch.
func (r *registry) users(ch PhysChan) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.ents[ch].users.ReadRefs())
}

// status returns the status of ch.
func (r *registry) status(ch PhysChan) resStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ents[ch].status
}

// snapshot returns the status and user count of every channel.
func (r *registry) snapshot() ([]resStatus, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := make([]resStatus, r.n)
	us := make([]int, r.n)
	for i := range r.ents {
		st[i] = r.ents[i].status
		us[i] = int(r.ents[i].users.ReadRefs())
	}
	return st, us
}
