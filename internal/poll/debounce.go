package poll

import (
	"sync"
	"time"
)

// Debouncer accepts at most one event per key within a cooldown window.
type Debouncer struct {
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewDebouncer creates a debouncer. A nil clock uses time.Now.
func NewDebouncer(cooldown time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{cooldown: cooldown, now: now, last: make(map[string]time.Time)}
}

// Allow reports whether an event for key should be handled, and starts a
// new window when it is. Events inside the window are rejected and do not
// extend it.
func (d *Debouncer) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.last[key] = now
	return true
}
