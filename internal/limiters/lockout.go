package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the per-user failure counter.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	// Window bounds how long failures are remembered. Zero keeps the count
	// until it is reset.
	Window time.Duration
	Prefix string
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter counts failed password and second-factor attempts per user.
// Both kinds share one counter so alternating between them buys nothing.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "mlo"
	}
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) key(userID string) string {
	return l.config.Prefix + ":" + userID
}

// RecordFailure increments the failure counter for a user.
// Returns true if the threshold has been reached (caller should lock the account).
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.Window > 0 {
		if err := l.redis.Expire(ctx, l.key(userID), l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return count >= int64(l.config.Threshold), nil
}

// Reset clears the failure counter for a user.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil || !l.config.Enabled || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count for a user.
func (l *LockoutLimiter) FailureCount(ctx context.Context, userID string) (int, error) {
	if l == nil || !l.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
