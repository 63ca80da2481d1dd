package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisUpdateRetries = 4

// RedisStore keeps token records as plain Redis strings under
// "<prefix>:<user>:<provider>:<purpose>".
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Redis-backed Store. An empty prefix defaults to "mtr".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mtr"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k Key) string {
	var b strings.Builder
	b.Grow(len(s.prefix) + len(k.UserID) + len(k.Provider) + len(k.Purpose) + 3)
	b.WriteString(s.prefix)
	b.WriteByte(':')
	b.WriteString(k.UserID)
	b.WriteByte(':')
	b.WriteString(k.Provider)
	b.WriteByte(':')
	b.WriteString(k.Purpose)
	return b.String()
}

// Get returns the stored value and whether it exists.
func (s *RedisStore) Get(ctx context.Context, k Key) (string, bool, error) {
	if !k.Valid() {
		return "", false, ErrInvalidKey
	}
	v, err := s.redis.Get(ctx, s.key(k)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return v, true, nil
}

// Set overwrites the record.
func (s *RedisStore) Set(ctx context.Context, k Key, value string) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	if err := s.redis.Set(ctx, s.key(k), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Remove deletes the record. Removing a missing record succeeds.
func (s *RedisStore) Remove(ctx context.Context, k Key) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	if err := s.redis.Del(ctx, s.key(k)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another
// client modified the key in between.
func (s *RedisStore) Update(ctx context.Context, k Key, fn UpdateFunc) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	key := s.key(k)

	for i := 0; i < redisUpdateRetries; i++ {
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			exists := true
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					return err
				}
				exists = false
				current = ""
			}

			next, op, err := fn(current, exists)
			if err != nil {
				fnErr = err
				return err
			}

			switch op {
			case OpPut:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, next, 0)
					return nil
				})
			case OpDelete:
				if !exists {
					return nil
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	return ErrConflict
}
