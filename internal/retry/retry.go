// internal/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	crawlerrors "github-star-crawler/internal/errors"
)

// Waiter reports how long to pause when the remote API signals rate
// exhaustion. Satisfied by *ratelimit.Budget.
type Waiter interface {
	WaitDuration() time.Duration
}

// Policy wraps a single fallible remote call with classified retry
// behaviour: bounded exponential backoff for transient failures,
// budget-driven waits for rate limiting, immediate propagation for fatal
// errors. The wrapped operation itself never retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Budget      Waiter
	Logger      *slog.Logger
}

// NewPolicy creates a retry policy bound to a rate budget tracker.
func NewPolicy(maxAttempts int, base, max time.Duration, budget Waiter, logger *slog.Logger) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Budget:      budget,
		Logger:      logger,
	}
}

// Do executes op, absorbing Transient and RateLimited failures according to
// the policy. Only Fatal errors escape: either the operation's own, or a
// Fatal wrapping the last transient cause once the attempt ceiling is spent.
// Rate-limit waits do not consume the transient ceiling; they are bounded by
// wall clock until the budget resets.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempt := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return &crawlerrors.Fatal{Err: err}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if rl, ok := crawlerrors.IsRateLimited(err); ok {
			wait := p.Budget.WaitDuration()
			if wait == 0 && !rl.Reset.IsZero() {
				wait = time.Until(rl.Reset)
			}
			if wait <= 0 {
				wait = p.BaseDelay
			}
			p.Logger.Warn("Rate limit hit, waiting for budget reset", "wait", wait.String())
			if err := sleep(ctx, wait); err != nil {
				return &crawlerrors.Fatal{Err: err}
			}
			continue
		}

		if !crawlerrors.IsTransient(err) {
			return err
		}

		attempt++
		if attempt >= p.MaxAttempts {
			return &crawlerrors.Fatal{Err: fmt.Errorf("retry ceiling of %d attempts exhausted: %w", p.MaxAttempts, lastErr)}
		}

		delay := p.backoff(attempt)
		p.Logger.Warn("Transient failure, backing off", "attempt", attempt, "delay", delay.String(), "error", err)
		if err := sleep(ctx, delay); err != nil {
			return &crawlerrors.Fatal{Err: err}
		}
	}
}

// backoff computes BaseDelay * 2^(attempt-1), capped at MaxDelay, with up to
// 25% jitter added to avoid thundering retries.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	delay += jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
