package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/keel/errs"
)

func TestRateLimitPermitsWithinBudget(t *testing.T) {
	var mr, rdb = redisHarness(t)
	var limiter = NewLimiter(rdb)
	var ctx = context.Background()

	for i := 0; i < rateLimit; i++ {
		require.NoError(t, limiter.Allow(ctx, "203.0.113.9"))
	}
	var err = limiter.Allow(ctx, "203.0.113.9")
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))
	require.Equal(t, "RATE_LIMITED", errs.CodeOf(err))

	// Another address keeps its own budget.
	require.NoError(t, limiter.Allow(ctx, "203.0.113.10"))

	mr.FastForward(rateWindow + time.Second)
	require.NoError(t, limiter.Allow(ctx, "203.0.113.9"))
}

func TestRateLimitNamesSecondsUntilReset(t *testing.T) {
	var mr, rdb = redisHarness(t)
	var limiter = NewLimiter(rdb)
	var ctx = context.Background()

	for i := 0; i < rateLimit; i++ {
		require.NoError(t, limiter.Allow(ctx, "203.0.113.9"))
	}
	mr.FastForward(30 * time.Second)

	var err = limiter.Allow(ctx, "203.0.113.9")
	require.Error(t, err)
	require.Contains(t, err.Error(), "retry in 30 seconds")
}

func TestRateLimitSanitizesKeys(t *testing.T) {
	var mr, rdb = redisHarness(t)
	var limiter = NewLimiter(rdb)

	require.NoError(t, limiter.Allow(context.Background(), "2001:db8::beef"))
	require.True(t, mr.Exists("oauth:ratelimit:2001_db8__beef"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	var mr, rdb = redisHarness(t)
	var limiter = NewLimiter(rdb)

	mr.Close()
	require.NoError(t, limiter.Allow(context.Background(), "203.0.113.9"))
}
