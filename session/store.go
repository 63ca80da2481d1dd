package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the session backend cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when no live session exists for an ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCorrupt is returned when a stored session blob cannot be decoded.
var ErrSessionCorrupt = errors.New("session corrupt")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store persists sessions in Redis with a per-user index set so every
// session of a user can be revoked at once.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session store. Keys are "<prefix>:<sid>" and
// "<prefix>u:<userID>".
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ses"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save writes the session and adds it to the user index in one MULTI.
// A failed Save leaves nothing behind, so no token is ever handed out for a
// session that was not recorded.
//
//	Performance: 1 MULTI (SET + SADD + EXPIRE).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.SessionID == "" || sess.UserID == "" {
		return errors.New("session id and user id are required")
	}
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		// The index lives as long as its longest member; stale IDs are pruned
		// by DeleteAllForUser and ActiveSessionIDs.
		pipe.ExpireGT(ctx, userKey, ttl)
		pipe.ExpireNX(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live session for sessionID. An expired record is removed
// and reported as ErrSessionNotFound.
//
//	Performance: 1 Redis GET.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt <= s.now().Unix() {
		if _, err := s.deleteSessionAndIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete revokes one session. It reports whether the session existed;
// deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		if _, delErr := s.redis.Del(ctx, s.key(sessionID)).Result(); delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return true, nil
	}
	return s.deleteSessionAndIndex(ctx, sess.UserID, sessionID)
}

// DeleteAllForUser revokes every session of userID and returns how many
// live sessions were removed.
//
// The index is read before the MULTI, so a session saved concurrently may
// survive; it is caught by the next call or expires on its own.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		keys = append(keys, s.key(sessionID))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// ActiveSessionIDs returns the session IDs of userID whose records still
// exist, sorted. Index entries left behind by records Redis already expired
// are pruned on the way.
//
//	Performance: 1 SMEMBERS, 1 pipelined EXISTS batch, at most 1 SREM.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	checks := make([]*redis.IntCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			checks[i] = pipe.Exists(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if checks[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	sort.Strings(live)
	return live, nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}
