// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	now, clock := fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(WithBreakerClock(clock, nil))

	for i := 0; i < 4; i++ {
		assert.False(t, b.Failure())
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Failure())
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, now.Add(60*time.Second), b.Until())

	*now = now.Add(59 * time.Second)
	assert.Equal(t, BreakerOpen, b.State())
	*now = now.Add(time.Second)
	assert.Equal(t, BreakerClosed, b.State())

	// Closing starts a fresh count.
	assert.False(t, b.Failure())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	_, clock := fakeClock(time.Now())
	b := NewBreaker(WithBreakerThreshold(2), WithBreakerClock(clock, nil))
	assert.False(t, b.Failure())
	b.Success()
	assert.False(t, b.Failure())
	assert.True(t, b.Failure())
}

func TestBreaker_WaitSleepsRemainingCooldown(t *testing.T) {
	now, clock := fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var slept time.Duration
	b := NewBreaker(
		WithBreakerThreshold(1),
		WithBreakerCooldown(time.Minute),
		WithBreakerClock(clock, func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		}),
	)
	require.True(t, b.Failure())
	*now = now.Add(20 * time.Second)

	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, 40*time.Second, slept)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_WaitHonoursCancel(t *testing.T) {
	b := NewBreaker(WithBreakerThreshold(1), WithBreakerCooldown(time.Hour))
	require.True(t, b.Failure())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "closed", BreakerClosed.String())
}
