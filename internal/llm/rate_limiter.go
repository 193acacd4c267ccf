package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default generation quota shared by every process using the same Redis
const (
	DefaultRPM = 60
	DefaultTPM = 100_000
	DefaultRPD = 5_000
)

// ErrQuotaExceeded is returned when a generation would exceed the quota
var ErrQuotaExceeded = errors.New("generation quota exceeded")

// quotaScript increments the minute, token and day counters atomically and
// reports the first limit reached. Minute keys expire after 70s, day keys
// after 24h.
var quotaScript = redis.NewScript(`
	local rpm = redis.call('INCR', KEYS[1])
	local tpm = redis.call('INCRBY', KEYS[2], ARGV[4])
	local rpd = redis.call('INCR', KEYS[3])

	if rpm == 1 then redis.call('EXPIRE', KEYS[1], 70) end
	if tpm == tonumber(ARGV[4]) then redis.call('EXPIRE', KEYS[2], 70) end
	if rpd == 1 then redis.call('EXPIRE', KEYS[3], 86400) end

	if rpm > tonumber(ARGV[1]) then return {-1, 'RPM', rpm} end
	if tpm > tonumber(ARGV[2]) then return {-2, 'TPM', tpm} end
	if rpd > tonumber(ARGV[3]) then return {-3, 'RPD', rpd} end
	return {0, 'OK', rpm}
`)

// RateLimiter enforces a generation quota stored in Redis so that several
// engine processes share one budget
type RateLimiter struct {
	redis    *redis.Client
	prefix   string
	rpmLimit int64
	tpmLimit int64
	rpdLimit int64
	now      func() time.Time
}

// NewRateLimiter connects to Redis. Non-positive limits use the defaults.
func NewRateLimiter(addr string, rpm, tpm, rpd int64) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return newRateLimiter(client, rpm, tpm, rpd), nil
}

func newRateLimiter(client *redis.Client, rpm, tpm, rpd int64) *RateLimiter {
	if rpm <= 0 {
		rpm = DefaultRPM
	}
	if tpm <= 0 {
		tpm = DefaultTPM
	}
	if rpd <= 0 {
		rpd = DefaultRPD
	}
	return &RateLimiter{
		redis:    client,
		prefix:   "impact:llm",
		rpmLimit: rpm,
		tpmLimit: tpm,
		rpdLimit: rpd,
		now:      time.Now,
	}
}

func (r *RateLimiter) keys() []string {
	now := r.now().UTC()
	minute := now.Format("2006-01-02T15:04")
	return []string{
		fmt.Sprintf("%s:rpm:%s", r.prefix, minute),
		fmt.Sprintf("%s:tpm:%s", r.prefix, minute),
		fmt.Sprintf("%s:rpd:%s", r.prefix, now.Format("2006-01-02")),
	}
}

// Allow records one request of estimatedTokens and returns
// ErrQuotaExceeded when any limit is passed. It never waits: evidence
// generation falls back to deterministic text instead of queueing.
func (r *RateLimiter) Allow(ctx context.Context, estimatedTokens int64) error {
	result, err := quotaScript.Run(ctx, r.redis, r.keys(),
		r.rpmLimit, r.tpmLimit, r.rpdLimit, estimatedTokens).Slice()
	if err != nil {
		return fmt.Errorf("rate limiter Redis operation failed: %w", err)
	}
	if len(result) < 3 {
		return fmt.Errorf("invalid rate limiter response format")
	}
	code, _ := result[0].(int64)
	if code < 0 {
		kind, _ := result[1].(string)
		current, _ := result[2].(int64)
		return fmt.Errorf("%w: %s at %d", ErrQuotaExceeded, kind, current)
	}
	return nil
}

// Usage returns the current (rpm, tpm, rpd) counters
func (r *RateLimiter) Usage(ctx context.Context) (int64, int64, int64, error) {
	keys := r.keys()
	pipe := r.redis.Pipeline()
	rpmCmd := pipe.Get(ctx, keys[0])
	tpmCmd := pipe.Get(ctx, keys[1])
	rpdCmd := pipe.Get(ctx, keys[2])
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, fmt.Errorf("failed to get usage stats: %w", err)
	}
	rpm, _ := rpmCmd.Int64()
	tpm, _ := tpmCmd.Int64()
	rpd, _ := rpdCmd.Int64()
	return rpm, tpm, rpd, nil
}

// Close closes the Redis connection
func (r *RateLimiter) Close() error {
	return r.redis.Close()
}

// Limiter is the quota check consulted before each generation
type Limiter interface {
	Allow(ctx context.Context, estimatedTokens int64) error
}

type limitedGenerator struct {
	Generator
	limiter   Limiter
	maxTokens int
}

// WithRateLimit wraps gen so every call first passes limiter
func WithRateLimit(gen Generator, limiter Limiter, maxTokens int) Generator {
	return &limitedGenerator{Generator: gen, limiter: limiter, maxTokens: maxTokens}
}

func (l *limitedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// rough estimate: 4 characters per token plus the completion budget
	estimate := int64((len(systemPrompt)+len(userPrompt))/4 + l.maxTokens)
	if err := l.limiter.Allow(ctx, estimate); err != nil {
		return "", err
	}
	return l.Generator.Generate(ctx, systemPrompt, userPrompt)
}
