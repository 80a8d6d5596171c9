package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// Gate enforces a minimum interval between consecutive dispatches. It is safe
// for concurrent use: callers reserve the next free slot under the lock and
// sleep outside it, so dispatches are serialized at least interval apart.
type Gate struct {
	interval time.Duration
	clock    clockwork.Clock

	mu   sync.Mutex
	last time.Time // slot granted to the most recent caller
}

// NewGate creates a gate with the given minimum interval. A nil clock means
// the real clock; a non-positive interval disables waiting.
func NewGate(interval time.Duration, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{interval: interval, clock: clock}
}

// Interval returns the configured minimum spacing.
func (g *Gate) Interval() time.Duration {
	if g == nil {
		return 0
	}
	return g.interval
}

// Wait blocks until the caller's reserved slot arrives. If ctx is cancelled
// while waiting the slot is still consumed; the next caller keeps its spacing
// relative to it.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil || g.interval <= 0 {
		return nil
	}

	delay := g.reserve()
	if delay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "resilience: gate wait")
	case <-g.clock.After(delay):
		return nil
	}
}

// reserve claims the next dispatch slot and returns how long to sleep.
func (g *Gate) reserve() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	slot := now
	if !g.last.IsZero() {
		if next := g.last.Add(g.interval); next.After(now) {
			slot = next
		}
	}
	g.last = slot
	return slot.Sub(now)
}
