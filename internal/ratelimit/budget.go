// internal/ratelimit/budget.go
package ratelimit

import (
	"sync"
	"time"
)

// Budget tracks the GraphQL API's point budget as reported by the most
// recent successful response. The API reports the budget post-hoc, so the
// tracker always works from ground truth rather than a predictive estimate.
type Budget struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time

	// now is swappable for tests; nil means time.Now.
	now func() time.Time
}

// NewBudget creates a tracker primed with the API's default full budget so
// the first request of a run is never blocked.
func NewBudget(initial int) *Budget {
	return &Budget{remaining: initial}
}

// Observe overwrites the tracked state with the budget signal extracted from
// a remote response. Negative remaining values are clamped to zero.
func (b *Budget) Observe(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	b.remaining = remaining
	b.resetAt = resetAt
}

// CanProceed reports whether there is budget headroom above the caller's
// reserve threshold. The reserve keeps a small buffer (enough points for one
// more batch) so concurrent in-flight requests never cross zero.
func (b *Budget) CanProceed(reserve int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining > reserve
}

// WaitDuration returns how long to suspend until the budget replenishes,
// clamped to zero once the reset time has passed. Callers consult it only
// after CanProceed reports false or a rate-limit failure is observed.
func (b *Budget) WaitDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.resetAt.Sub(b.clock()())
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns the last observed point count. Used by the health
// endpoint for operator visibility.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

func (b *Budget) clock() func() time.Time {
	if b.now != nil {
		return b.now
	}
	return time.Now
}
