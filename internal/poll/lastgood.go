package poll

import (
	"sync"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

// Record is a successfully written sample.
type Record struct {
	Measurement core.Measurement
	Source      core.SourceDescriptor
	Time        time.Time
	Seq         uint64
}

// LastGood caches the most recent written record.
type LastGood struct {
	mu  sync.RWMutex
	rec Record
	ok  bool
}

// Store replaces the cached record.
func (c *LastGood) Store(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec, c.ok = r, true
}

// Load returns the cached record, if any.
func (c *LastGood) Load() (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec, c.ok
}
