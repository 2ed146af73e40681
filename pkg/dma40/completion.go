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

// Completer receives the outcome of transfers. Methods are called from the
// interrupt handler and must not sleep or call back into the engine for the
// same pipe.
type Completer interface {
	// TransferComplete reports that n bytes were transferred.
	TransferComplete(p PipeID, n uint64, data any)

	// TransferFailed reports a hardware error. err wraps dmaerr.EIO.
	TransferFailed(p PipeID, err error, data any)
}

// LLICompleter is implemented by completers that also want every finished
// descriptor of pipes with NotifyEachLLI set.
type LLICompleter interface {
	Completer

	// LLIComplete reports that descriptor index, of n bytes, finished.
	LLIComplete(p PipeID, index int, n uint64, data any)
}

// CompleterFuncs adapts functions to Completer. Nil fields are skipped.
type CompleterFuncs struct {
	Complete func(p PipeID, n uint64, data any)
	Failed   func(p PipeID, err error, data any)
}

// TransferComplete implements Completer.TransferComplete.
func (f CompleterFuncs) TransferComplete(p PipeID, n uint64, data any) {
	if f.Complete != nil {
		f.Complete(p, n, data)
	}
}

// TransferFailed implements Completer.TransferFailed.
func (f CompleterFuncs) TransferFailed(p PipeID, err error, data any) {
	if f.Failed != nil {
		f.Failed(p, err, data)
	}
}
