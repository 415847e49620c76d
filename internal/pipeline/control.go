package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"launchpilot/internal/metrics"
)

// Control holds the operator's pause switch. Console and API write it, the
// seller reads it.
type Control struct {
	paused atomic.Bool

	mu      sync.Mutex
	resumed chan struct{}
}

func NewControl() *Control {
	ch := make(chan struct{})
	close(ch)
	return &Control{resumed: ch}
}

// Pause reports whether the state changed.
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused.Load() {
		return false
	}
	c.resumed = make(chan struct{})
	c.paused.Store(true)
	metrics.SellingPaused.Set(1)
	return true
}

// Resume wakes every parked sell. It reports whether the state changed.
func (c *Control) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused.Load() {
		return false
	}
	c.paused.Store(false)
	close(c.resumed)
	metrics.SellingPaused.Set(0)
	return true
}

func (c *Control) Paused() bool {
	return c.paused.Load()
}

// WaitResumed blocks while selling is paused.
func (c *Control) WaitResumed(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resumed
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
