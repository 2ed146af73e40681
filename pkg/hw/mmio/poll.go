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
	"time"

	"github.com/cenkalti/backoff"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

// errNotReady is the retryable error fed to backoff while polling.
var errNotReady = fmt.Errorf("condition not met")

// Poll evaluates cond until it returns true, at most retries+1 times, waiting
// interval between attempts. It never sleeps longer than interval at a time.
// If cond never holds Poll returns an error wrapping dmaerr.ETIMEDOUT.
func Poll(retries uint64, interval time.Duration, cond func() bool) error {
	attempts := uint64(0)
	op := func() error {
		attempts++
		if cond() {
			return nil
		}
		return errNotReady
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if interval > 0 {
		b = backoff.NewConstantBackOff(interval)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, retries)); err != nil {
		return fmt.Errorf("gave up after %d polls: %w", attempts, dmaerr.ETIMEDOUT)
	}
	return nil
}
