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

// Package dmaerr contains the error codes returned by the DMA engine,
// exported as *errors.Error pointers. Callers compare with errors.Is, which
// also sees through fmt.Errorf("...: %w") wrapping.
package dmaerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"ux500.dev/dma40/pkg/errors"
)

// The subset of errno values the engine and its collaborators produce.
var (
	EIO       = errors.New(unix.EIO, "I/O error")
	ENOMEM    = errors.New(unix.ENOMEM, "out of memory")
	EFAULT    = errors.New(unix.EFAULT, "bad address")
	EBUSY     = errors.New(unix.EBUSY, "device or resource busy")
	ENODEV    = errors.New(unix.ENODEV, "no such device")
	EINVAL    = errors.New(unix.EINVAL, "invalid argument")
	ENOSPC    = errors.New(unix.ENOSPC, "no space left on device")
	ETIMEDOUT = errors.New(unix.ETIMEDOUT, "connection timed out")
)

// ToErrno returns the errno carried by err, or EIO for a non-nil error that
// does not carry one. ToErrno(nil) is 0.
func ToErrno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var n unix.Errno
	if goerrors.As(err, &n) {
		return n
	}
	return unix.EIO
}

// Code returns the kernel-style negative return code for err.
func Code(err error) int {
	return -int(ToErrno(err))
}
