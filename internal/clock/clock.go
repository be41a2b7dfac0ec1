// Package clock provides the two notions of time the agent uses.
//
// Clock is wall time with cancellable timers; the engine's debounce and
// settle delays and the job-fetch wait are scheduled through it so tests
// can drive them with testutil.ManualClock.
//
// Logical is a monotonic sequence used to order journal entries. It never
// consults wall time, so two events recorded in the same millisecond still
// have a defined order.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. Reports false if it already
	// ran or was stopped.
	Stop() bool
}

// Clock schedules callbacks against wall time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Sleep waits d on c, returning early with ctx's error if ctx is done first.
// A non-positive d returns immediately.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	t := c.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Logical is a monotonic sequence counter, safe for concurrent use.
type Logical struct {
	seq atomic.Int64
}

// NewLogical creates a Logical starting at 0; the first Next returns 1.
func NewLogical() *Logical {
	return &Logical{}
}

// Next increments and returns the sequence.
func (l *Logical) Next() int64 {
	return l.seq.Add(1)
}

// Current returns the last value handed out.
func (l *Logical) Current() int64 {
	return l.seq.Load()
}
