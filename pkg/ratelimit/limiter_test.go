package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenEmpty(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "токен %d должен быть доступен", i)
	}
	assert.False(t, rl.Allow())
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 10.0, rl.Rate())
	assert.InDelta(t, 20.0, rl.Tokens(), 0.5)
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	require.True(t, rl.Allow())

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestExchangeLimiter_PerExchangeBuckets(t *testing.T) {
	el := NewExchangeLimiter(3)

	okx := el.Get("OKX")
	assert.Same(t, okx, el.Get("okx"))
	assert.Equal(t, DefaultExchangeRates["okx"], okx.Rate())

	unknown := el.Get("mexc")
	assert.Equal(t, 3.0, unknown.Rate())

	el.Set("gate", 1)
	assert.Equal(t, 1.0, el.Get("gate").Rate())

	require.NoError(t, el.Wait(context.Background(), "bybit"))
}
