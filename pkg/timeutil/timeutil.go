// Package timeutil is the single clock used across the service so tests can
// pin time for session expiry and retention.
package timeutil

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	nowFn = time.Now
)

// Now returns the current time from the installed clock.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFn()
}

// UnixMilli is Now().UnixMilli(), the wire format for item timestamps.
func UnixMilli() int64 {
	return Now().UnixMilli()
}

// SetClock replaces the clock and returns a function restoring the previous one.
func SetClock(fn func() time.Time) (restore func()) {
	mu.Lock()
	prev := nowFn
	nowFn = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		nowFn = prev
		mu.Unlock()
	}
}
