package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the send-throttle tuning parameters.
type Config struct {
	MaxSends int
	Window   time.Duration
	Prefix   string
}

// Limiter caps how often a user may be sent a second-factor code, using
// fixed-window Redis counters shared by every engine instance.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "mes"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether sends are capped at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.MaxSends > 0
}

// AllowSend counts one send for userID and returns ErrRateLimited once the
// window's budget is spent. Rejected sends still count.
func (l *Limiter) AllowSend(ctx context.Context, userID string) error {
	if !l.Enabled() {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.key(userID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSends) {
		return ErrRateLimited
	}

	return nil
}

// Reset clears the user's counter. Called after the user confirms a code.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sends returns the current window's counter for userID.
func (l *Limiter) Sends(ctx context.Context, userID string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) key(userID string) string {
	return l.config.Prefix + ":" + userID
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
