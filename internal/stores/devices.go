package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrDeviceBackend = errors.New("remembered device backend unavailable")
)

// DeviceStore keeps remembered-device token hashes in one Redis hash per
// user. Each field is a token hash and its value the unix expiry.
type DeviceStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewDeviceStore(redisClient redis.UniversalClient, prefix string) *DeviceStore {
	if prefix == "" {
		prefix = "mrd"
	}
	return &DeviceStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for expiry checks.
func (s *DeviceStore) WithClock(now func() time.Time) *DeviceStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *DeviceStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Remember records tokenHash for userID until now+ttl. The hash key lives
// as long as its newest field.
func (s *DeviceStore) Remember(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	if userID == "" || tokenHash == "" {
		return errors.New("user id and token hash are required")
	}
	if ttl <= 0 {
		return errors.New("remembered device ttl must be positive")
	}
	key := s.key(userID)
	expiresAt := s.now().Add(ttl).Unix()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, tokenHash, expiresAt)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	return nil
}

// Check reports whether tokenHash is a live remembered device of userID.
// An expired entry is removed.
func (s *DeviceStore) Check(ctx context.Context, userID, tokenHash string) (bool, error) {
	if userID == "" || tokenHash == "" {
		return false, nil
	}
	key := s.key(userID)

	raw, err := s.redis.HGet(ctx, key, tokenHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}

	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || s.now().Unix() >= expiresAt {
		if delErr := s.redis.HDel(ctx, key, tokenHash).Err(); delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrDeviceBackend, delErr)
		}
		return false, nil
	}
	return true, nil
}

// Forget removes every remembered device of userID. Forgetting a user with
// no devices succeeds.
func (s *DeviceStore) Forget(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceBackend, err)
	}
	return nil
}
