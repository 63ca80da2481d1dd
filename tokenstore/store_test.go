package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test"), mr
}

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	s := NewGormStore(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"redis": rs,
		"gorm":  newGormStore(t),
	}
}

var testKey = Key{UserID: "u1", Provider: "RecoveryCodes", Purpose: "TwoFactor:Recovery"}

func TestStoreSetGetRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Set(ctx, testKey, "first"))
			require.NoError(t, s.Set(ctx, testKey, "second"))

			v, ok, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "second", v)

			require.NoError(t, s.Remove(ctx, testKey))
			require.NoError(t, s.Remove(ctx, testKey), "remove must be idempotent")

			_, ok, err = s.Get(ctx, testKey)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreKeysArePurposeScoped(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			other := testKey
			other.Purpose = "TwoFactor:Email"

			require.NoError(t, s.Set(ctx, testKey, "a"))
			require.NoError(t, s.Set(ctx, other, "b"))

			v, _, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.Equal(t, "a", v)
			v, _, err = s.Get(ctx, other)
			require.NoError(t, err)
			require.Equal(t, "b", v)
		})
	}
}

func TestStoreUpdateOps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := s.Update(ctx, testKey, func(current string, exists bool) (string, Op, error) {
				require.False(t, exists)
				return "created", OpPut, nil
			})
			require.NoError(t, err)

			err = s.Update(ctx, testKey, func(current string, exists bool) (string, Op, error) {
				require.True(t, exists)
				require.Equal(t, "created", current)
				return current + "+1", OpPut, nil
			})
			require.NoError(t, err)

			v, _, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.Equal(t, "created+1", v)

			require.NoError(t, s.Update(ctx, testKey, func(string, bool) (string, Op, error) {
				return "", OpKeep, nil
			}))
			v, _, err = s.Get(ctx, testKey)
			require.NoError(t, err)
			require.Equal(t, "created+1", v)

			require.NoError(t, s.Update(ctx, testKey, func(string, bool) (string, Op, error) {
				return "", OpDelete, nil
			}))
			_, ok, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreUpdatePropagatesCallbackError(t *testing.T) {
	sentinel := errors.New("stop")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, testKey, "keep"))

			err := s.Update(ctx, testKey, func(string, bool) (string, Op, error) {
				return "changed", OpPut, sentinel
			})
			require.ErrorIs(t, err, sentinel)

			v, _, err := s.Get(ctx, testKey)
			require.NoError(t, err)
			require.Equal(t, "keep", v)
		})
	}
}

func TestStoreRejectsIncompleteKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bad := Key{UserID: "u1", Provider: "TotpApp"}
			_, _, err := s.Get(ctx, bad)
			require.ErrorIs(t, err, ErrInvalidKey)
			require.ErrorIs(t, s.Set(ctx, bad, "x"), ErrInvalidKey)
			require.ErrorIs(t, s.Remove(ctx, bad), ErrInvalidKey)
		})
	}
}

func TestRedisStoreConcurrentIncrementsAreNotLost(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, testKey, "0"))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, testKey, func(current string, exists bool) (string, Op, error) {
				n, err := strconv.Atoi(current)
				if err != nil {
					return "", OpKeep, err
				}
				return strconv.Itoa(n + 1), OpPut, nil
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	wg.Wait()

	v, _, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(committed), v, "every committed update must be visible")
}

func TestGormStoreConcurrentIncrementsAreNotLost(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "tokens.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db)
	ctx := context.Background()
	require.NoError(t, s.AutoMigrate(ctx))
	require.NoError(t, s.Set(ctx, testKey, "0"))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, testKey, func(current string, exists bool) (string, Op, error) {
				n, err := strconv.Atoi(current)
				if err != nil {
					return "", OpKeep, err
				}
				return strconv.Itoa(n + 1), OpPut, nil
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Positive(t, committed)
	v, _, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(committed), v, "every committed update must be visible")
}

func TestGormStoreTranslatesDuplicateKeyWithoutConfigFlag(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, testKey, "first"))

	err := s.db.WithContext(ctx).Create(&Record{
		UserID: testKey.UserID, Provider: testKey.Provider, Purpose: testKey.Purpose, Value: "second", Version: 1,
	}).Error
	require.Error(t, err)
	require.False(t, s.db.Config.TranslateError)
	require.ErrorIs(t, s.translate(err), gorm.ErrDuplicatedKey)
}

func TestRedisStoreBackendFailure(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, _, err := s.Get(context.Background(), testKey)
	require.ErrorIs(t, err, ErrBackend)
	require.ErrorIs(t, s.Set(context.Background(), testKey, "v"), ErrBackend)
}

func TestRedisStoreCancelledContextWritesNothing(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, testKey, func(string, bool) (string, Op, error) {
		return "partial", OpPut, nil
	})
	require.Error(t, err)
	require.False(t, mr.Exists("test:u1:RecoveryCodes:TwoFactor:Recovery"))
}
