package domain

import (
	"sync/atomic"
	"time"
)

var lastID int64

// NewID returns a board or card identifier. Values are derived from the wall
// clock in nanoseconds and strictly increase within the process, so two
// callers never receive the same id even when the clock does not advance.
func NewID() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastID, last, now) {
			return now
		}
	}
}
