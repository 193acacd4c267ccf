package llm

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisLimiter connects to IMPACT_TEST_REDIS_ADDR or skips
func redisLimiter(t *testing.T, rpm, tpm, rpd int64) *RateLimiter {
	t.Helper()
	addr := os.Getenv("IMPACT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IMPACT_TEST_REDIS_ADDR not set")
	}
	rl, err := NewRateLimiter(addr, rpm, tpm, rpd)
	require.NoError(t, err)
	rl.prefix = "impact:test:" + t.Name()
	t.Cleanup(func() {
		ctx := context.Background()
		rl.redis.Del(ctx, rl.keys()...)
		rl.Close()
	})
	return rl
}

func TestRateLimiterInvalidConnection(t *testing.T) {
	rl, err := NewRateLimiter("localhost:1", 0, 0, 0)
	assert.Error(t, err)
	assert.Nil(t, rl)
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(redis.NewClient(&redis.Options{Addr: "localhost:1"}), 0, 0, 0)
	defer rl.Close()
	assert.Equal(t, int64(DefaultRPM), rl.rpmLimit)
	assert.Equal(t, int64(DefaultTPM), rl.tpmLimit)
	assert.Equal(t, int64(DefaultRPD), rl.rpdLimit)
	assert.Len(t, rl.keys(), 3)
}

func TestRateLimiterAllowUnderLimit(t *testing.T) {
	rl := redisLimiter(t, 10, 10_000, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow(ctx, 100))
	}
	rpm, tpm, rpd, err := rl.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rpm)
	assert.Equal(t, int64(500), tpm)
	assert.Equal(t, int64(5), rpd)
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := redisLimiter(t, 2, 10_000, 100)
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx, 1))
	require.NoError(t, rl.Allow(ctx, 1))
	err := rl.Allow(ctx, 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

type stubGenerator struct {
	calls int
	out   string
	err   error
}

func (s *stubGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	return s.out, s.err
}

func (s *stubGenerator) Name() string { return "stub" }

type stubLimiter struct {
	err      error
	lastCost int64
}

func (s *stubLimiter) Allow(ctx context.Context, estimatedTokens int64) error {
	s.lastCost = estimatedTokens
	return s.err
}

func TestWithRateLimit(t *testing.T) {
	gen := &stubGenerator{out: "polished"}
	lim := &stubLimiter{}
	limited := WithRateLimit(gen, lim, 100)

	out, err := limited.Generate(context.Background(), "sys", "12345678")
	require.NoError(t, err)
	assert.Equal(t, "polished", out)
	assert.Equal(t, int64(102), lim.lastCost)
	assert.Equal(t, "stub", limited.Name())

	lim.err = ErrQuotaExceeded
	_, err = limited.Generate(context.Background(), "sys", "x")
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Equal(t, 1, gen.calls, "throttled call never reaches the provider")
}
