package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/pulphealth/pulp/internal/store"
)

// Both backends must pass the same contract. Each case gets a fresh
// limiter plus a way to advance time past the window.
type limiterFixture struct {
	limiter Limiter
	advance func(time.Duration)
}

func newBackends(t *testing.T) map[string]func() limiterFixture {
	t.Helper()
	return map[string]func() limiterFixture{
		"store": func() limiterFixture {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("Failed to start miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return limiterFixture{
				limiter: NewStoreLimiter(store.NewRedisStore(client)),
				advance: mr.FastForward,
			}
		},
		"local": func() limiterFixture {
			now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
			fix := limiterFixture{}
			fix.limiter = NewLocalLimiterWithClock(func() time.Time { return now })
			fix.advance = func(d time.Duration) { now = now.Add(d) }
			return fix
		},
	}
}

func TestLimiterContract(t *testing.T) {
	for name, build := range newBackends(t) {
		t.Run(name+"/allows up to the limit", func(t *testing.T) {
			fix := build()
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				res, err := fix.limiter.Check(ctx, "practice-1", 3, time.Minute)
				assert.NoError(t, err)
				assert.True(t, res.Allowed, "request %d should be allowed", i+1)
				assert.Equal(t, 2-i, res.Remaining)
			}

			res, err := fix.limiter.Check(ctx, "practice-1", 3, time.Minute)
			assert.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
			assert.True(t, res.RetryAfter > 0, "denied request carries a retry hint")
			assert.True(t, res.RetryAfter <= time.Minute)
		})

		t.Run(name+"/window resets", func(t *testing.T) {
			fix := build()
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				_, err := fix.limiter.Check(ctx, "practice-2", 2, time.Minute)
				assert.NoError(t, err)
			}
			res, err := fix.limiter.Check(ctx, "practice-2", 2, time.Minute)
			assert.NoError(t, err)
			assert.False(t, res.Allowed)

			fix.advance(time.Minute + time.Second)

			res, err = fix.limiter.Check(ctx, "practice-2", 2, time.Minute)
			assert.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 1, res.Remaining)
		})

		t.Run(name+"/keys are independent", func(t *testing.T) {
			fix := build()
			ctx := context.Background()

			res, err := fix.limiter.Check(ctx, "practice-a", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, res.Allowed)

			res, err = fix.limiter.Check(ctx, "practice-a", 1, time.Minute)
			assert.NoError(t, err)
			assert.False(t, res.Allowed)

			res, err = fix.limiter.Check(ctx, "practice-b", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

// erroringLimiter stands in for a shared counter with a dead store.
type erroringLimiter struct{}

func (erroringLimiter) Check(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("store down")
}

func TestFallbackLimiterUsesLocalWhenSharedFails(t *testing.T) {
	fallback := NewFallbackLimiter(erroringLimiter{}, NewLocalLimiter())
	ctx := context.Background()

	res, err := fallback.Check(ctx, "practice-1", 2, time.Minute)
	assert.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = fallback.Check(ctx, "practice-1", 2, time.Minute)
	assert.NoError(t, err)

	res, err = fallback.Check(ctx, "practice-1", 2, time.Minute)
	assert.NoError(t, err)
	assert.False(t, res.Allowed, "local fallback still enforces the limit")
}

func TestFallbackLimiterPrefersShared(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fallback := NewFallbackLimiter(NewStoreLimiter(store.NewRedisStore(client)), NewLocalLimiter())

	res, err := fallback.Check(context.Background(), "practice-1", 5, time.Minute)
	assert.NoError(t, err)
	assert.True(t, res.Allowed)

	// The shared counter actually recorded it.
	assert.Equal(t, "1", mustGet(t, mr, "ratelimit:practice-1"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	val, err := mr.Get(key)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return val
}
