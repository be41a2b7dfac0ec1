package credential

import (
	"context"
	"sync"
	"time"
)

// Captured holds the most recent token seen on the host application's own
// requests. The tap calls Set; the latest value wins so rotation is
// picked up on the next acquisition.
type Captured struct {
	mu     sync.RWMutex
	token  string
	seenAt time.Time
}

// NewCaptured creates an empty Captured.
func NewCaptured() *Captured {
	return &Captured{}
}

// Set records a token observed in traffic. Empty tokens are ignored.
// Reports whether the stored value changed.
func (c *Captured) Set(token string) bool {
	if token == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.token != token
	c.token = token
	c.seenAt = time.Now()
	return changed
}

// SeenAt reports when a token was last observed; zero if never.
func (c *Captured) SeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seenAt
}

// Lookup implements Lookup.
func (c *Captured) Lookup(context.Context) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token != "", nil
}
