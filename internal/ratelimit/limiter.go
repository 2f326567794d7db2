// Package ratelimit implements the per-tenant sliding-window rate/quota
// limiter backed by Redis sorted sets, grounded on
// original_source/services/shared/rate_limiter.py for exact semantics: a key
// "rate:{tenant}:{minute_bucket}" accumulates one sorted-set entry per
// request, entries older than 60s are trimmed before counting, and the key
// carries a 120s TTL for passive cleanup. On any Redis error the limiter
// fails open (allows the request) and logs, since rate limiting here is
// explicitly best-effort (spec §5).
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	windowSeconds    = 60
	keyTTL           = 120 * time.Second
	// DefaultLimitPerMinute mirrors the Python service's DEFAULT_RATE_LIMIT.
	DefaultLimitPerMinute = 1000
)

// Limiter is a Redis-backed sliding-window counter, used both for the
// per-request API rate limit and (with a distinct key prefix, via
// [Limiter.Quota]) the Propagation Controller's per-tenant nutrient quota.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
}

// New builds a Limiter against the Redis instance at url. logger defaults
// to slog.Default if nil.
func New(url string, logger *slog.Logger) (*Limiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: redis.NewClient(opts), logger: logger}, nil
}

// Close releases the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}

// Result reports the outcome of a sliding-window check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow checks tenant's per-minute request rate against limitPerMinute using
// key prefix "rate". It fails open on any Redis error.
func (l *Limiter) Allow(ctx context.Context, tenant string, limitPerMinute int) (Result, error) {
	if limitPerMinute <= 0 {
		limitPerMinute = DefaultLimitPerMinute
	}
	return l.slidingWindowCheck(ctx, "rate", tenant, limitPerMinute)
}

// Quota checks tenant's per-minute nutrient-broadcast count against
// limitPerMinute using key prefix "quota". Each call counts as one entry;
// cost does not weight it. It satisfies
// propagation.QuotaChecker via the adapter in [QuotaAdapter].
func (l *Limiter) Quota(ctx context.Context, tenant string, cost, limitPerMinute int) (Result, error) {
	if limitPerMinute <= 0 {
		limitPerMinute = DefaultLimitPerMinute
	}
	return l.slidingWindowCheck(ctx, "quota", tenant, limitPerMinute)
}

func (l *Limiter) slidingWindowCheck(ctx context.Context, prefix, tenant string, limit int) (Result, error) {
	now := time.Now()
	windowStart := now.Add(-windowSeconds * time.Second)
	bucket := now.Unix() / windowSeconds
	key := fmt.Sprintf("%s:%s:%d", prefix, tenant, bucket)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: memberToken(now)})
	pipe.Expire(ctx, key, keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("ratelimit: redis error, failing open", "err", err)
		return Result{Allowed: true, Remaining: limit}, nil
	}

	count := int(countCmd.Val())
	if count >= limit {
		retryAfter := time.Duration(windowSeconds)*time.Second - now.Sub(windowStart)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}

func memberToken(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(buf[:]))
}
