// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"time"
)

// BreakerState is the state of a navigation Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota // navigation proceeds
	BreakerOpen                       // navigation waits until the cooldown ends
)

func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

// Breaker pauses a run after too many consecutive navigation failures. It
// never aborts: once the cooldown has passed it closes again and the next
// unit of work is attempted.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	state    BreakerState
	failures int
	until    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets how many consecutive failures open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithBreakerCooldown sets how long the breaker stays open.
func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerClock replaces the clock and, when sleep is non-nil, the wait
// used while open.
func WithBreakerClock(now func() time.Time, sleep func(context.Context, time.Duration) error) BreakerOption {
	return func(b *Breaker) {
		b.now = now
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// NewBreaker returns a closed breaker: 5 failures to open, 60s cooldown.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		threshold: 5,
		cooldown:  60 * time.Second,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state, closing the breaker if its cooldown
// has elapsed.
func (b *Breaker) State() BreakerState {
	if b.state == BreakerOpen && !b.now().Before(b.until) {
		b.state = BreakerClosed
		b.failures = 0
	}
	return b.state
}

// Until returns when an open breaker closes.
func (b *Breaker) Until() time.Time { return b.until }

// Wait blocks while the breaker is open. It returns early only when ctx is
// done.
func (b *Breaker) Wait(ctx context.Context) error {
	if b.State() == BreakerClosed {
		return nil
	}
	if err := b.sleep(ctx, b.until.Sub(b.now())); err != nil {
		return err
	}
	b.state = BreakerClosed
	b.failures = 0
	return nil
}

// Success resets the consecutive failure count.
func (b *Breaker) Success() { b.failures = 0 }

// Failure records a failed unit of work and reports whether it opened the
// breaker.
func (b *Breaker) Failure() bool {
	if b.State() == BreakerOpen {
		return false
	}
	b.failures++
	if b.failures < b.threshold {
		return false
	}
	b.state = BreakerOpen
	b.until = b.now().Add(b.cooldown)
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
