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

package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"ux500.dev/dma40/pkg/errors/dmaerr"
	"ux500.dev/dma40/pkg/log"
	"ux500.dev/dma40/pkg/memutil"
)

// Window is a Bank backed by an mmap of a physical address range, usually
// through /dev/mem. A Window owns an exclusive lock file for its lifetime so
// that two processes never program the same controller.
type Window struct {
	mem  []byte
	size uint32
	lock *flock.Flock
}

var _ Bank = (*Window)(nil)

// Open maps size bytes of device at physical address base. lockPath, if
// non-empty, names a lock file that must be free.
func Open(device string, base uint64, size uint32, lockPath string) (*Window, error) {
	var lk *flock.Flock
	if lockPath != "" {
		lk = flock.New(lockPath)
		ok, err := lk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("locking %q: %w", lockPath, err)
		}
		if !ok {
			return nil, fmt.Errorf("controller lock %q held by another process: %w", lockPath, dmaerr.EBUSY)
		}
	}
	fail := func(err error) (*Window, error) {
		if lk != nil {
			lk.Unlock()
		}
		return nil, err
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return fail(fmt.Errorf("opening %q: %w", device, err))
	}
	defer unix.Close(fd)

	mem, err := memutil.MapDevice(fd, int64(base), memutil.PageRound(int(size)))
	if err != nil {
		return fail(err)
	}
	log.Debugf("Mapped %s [%#x, %#x)", device, base, base+uint64(size))
	return &Window{mem: mem, size: size, lock: lk}, nil
}

func (w *Window) reg(off uint32) *uint32 {
	if off%4 != 0 || off+4 > w.size {
		panic(fmt.Sprintf("mmio: register offset %#x outside window of %#x bytes", off, w.size))
	}
	return (*uint32)(unsafe.Pointer(&w.mem[off]))
}

// Read32 implements Bank.Read32.
func (w *Window) Read32(off uint32) uint32 {
	return atomic.LoadUint32(w.reg(off))
}

// Write32 implements Bank.Write32.
func (w *Window) Write32(off uint32, v uint32) {
	atomic.StoreUint32(w.reg(off), v)
}

// Close unmaps the window and drops the lock file.
func (w *Window) Close() error {
	err := memutil.UnmapSlice(w.mem)
	w.mem = nil
	if w.lock != nil {
		if uerr := w.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
		os.Remove(w.lock.Path())
	}
	return err
}
