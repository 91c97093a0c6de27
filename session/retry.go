// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"time"
)

// DefaultRetryPolicy makes five attempts one second apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Delay: time.Second}

// RetryPolicy is a bounded retry loop with a fixed delay between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
// It returns nil on success and otherwise the last error from fn, or the
// context error if ctx ended first.  A policy with fewer than one attempt
// still calls fn once.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}
		log.Debugf("Attempt %d/%d failed: %v", i+1, attempts, err)
	}
	return err
}
