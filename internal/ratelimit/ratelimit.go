// ABOUTME: Sliding-window rate limiter over Redis sorted sets
// ABOUTME: Defines per-endpoint buckets and the client keying strategy

package ratelimit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited indicates the client exhausted its budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrCounterUnavailable indicates the counter backend could not be
	// reached. In production this denies the request.
	ErrCounterUnavailable = errors.New("rate limit counter unavailable")
)

// Bucket names a rate-limit budget.
type Bucket struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// ValidateEmail throttles the email validation endpoint: it is invoked
// on every keystroke-debounced check, so the window is short.
var ValidateEmail = Bucket{Prefix: "rl:validate:", Limit: 5, Window: 10 * time.Second}

// Auth throttles credential ceremonies, which are far less frequent.
var Auth = Bucket{Prefix: "rl:auth:", Limit: 10, Window: 10 * time.Minute}

// counter is the sorted-set surface the limiter needs from Redis.
// Tests substitute a fake.
type counter interface {
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces bucket budgets. The zero value is not usable; a nil
// *Limiter is valid and allows everything.
type Limiter struct {
	counter    counter
	production bool
	logger     *slog.Logger
}

// New creates a limiter backed by the given Redis client.
func New(client *redis.Client, production bool, logger *slog.Logger) *Limiter {
	return &Limiter{
		counter:    &redisCounter{client: client},
		production: production,
		logger:     logger.With("component", "ratelimit"),
	}
}

// Allow records one hit for key in bucket and reports whether the
// request may proceed. A nil limiter always allows.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket, key string) error {
	if l == nil {
		return nil
	}

	count, err := l.counter.Count(ctx, bucket.Prefix+key, bucket.Window)
	if err != nil {
		if l.production {
			l.logger.Error("rate limit counter failed", "bucket", bucket.Prefix, "error", err)
			return fmt.Errorf("counting requests: %w", ErrCounterUnavailable)
		}
		l.logger.Warn("rate limit counter failed, allowing request", "bucket", bucket.Prefix, "error", err)
		return nil
	}

	if count > int64(bucket.Limit) {
		return ErrRateLimited
	}
	return nil
}

// redisCounter implements the sliding window: trim entries older than
// the window, add the current hit, count what remains.
type redisCounter struct {
	client *redis.Client
}

func (c *redisCounter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// ClientKey derives the limiter key for a request: the first hop of
// X-Forwarded-For, then X-Real-IP, then a shared fallback. Behind the
// reverse proxy these headers are trustworthy; direct connections all
// share one bucket.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "unknown"
}

// JitterDelay returns a random delay in [200ms, 500ms). Sleeping this
// long before answering a throttled request makes timing probes less
// useful to an attacker.
func JitterDelay() time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(300))
	if err != nil {
		return 350 * time.Millisecond
	}
	return time.Duration(200+n.Int64()) * time.Millisecond
}
