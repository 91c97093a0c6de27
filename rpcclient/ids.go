// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"sync/atomic"
	"time"
)

// IDSource hands out request ids derived from the wall clock.  Ids are
// strictly increasing for a given source even when the clock stalls or
// steps backwards.
type IDSource struct {
	last int64 // atomic
	now  func() time.Time
}

// processIDs is shared by every Client that does not bring its own source,
// so ids are unique across the process.
var processIDs IDSource

// Next returns a new id.
func (s *IDSource) Next() int64 {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	for {
		next := now().UnixNano()
		last := atomic.LoadInt64(&s.last)
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.last, last, next) {
			return next
		}
	}
}

// NextID returns a process-wide unique request id.
func NextID() int64 {
	return processIDs.Next()
}
