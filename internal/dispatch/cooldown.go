package dispatch

import (
	"sync"
	"time"
)

// Cooldown is the process-wide rate-limit window: a single deadline before
// which generation calls are assumed to be rejected and are not attempted.
// Any request that observes a rate-limit signal extends the deadline; every
// request reads it before calling out, so concurrent in-flight requests back
// off together.
//
// The deadline only moves forward. It is never cleared explicitly; it simply
// passes, or the process restarts.
//
// Cooldown is an explicit handle passed into the dispatcher, not a package
// global: ownership stays visible at the construction site.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
}

// NewCooldown creates an inactive Cooldown.
func NewCooldown() *Cooldown {
	return &Cooldown{}
}

// Extend moves the deadline to until, unless the current deadline is already
// later. Last-writer-wins on equal observations; an older, shorter deadline
// never silently rewinds a longer one.
func (c *Cooldown) Extend(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.until) {
		c.until = until
	}
}

// Remaining returns how long the window is still active at now, or zero when
// it is not.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.until.After(now) {
		return 0
	}
	return c.until.Sub(now)
}

// Active reports whether the window covers now.
func (c *Cooldown) Active(now time.Time) bool {
	return c.Remaining(now) > 0
}
