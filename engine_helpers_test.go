package goMFA

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword  = "correct-password-123"
	testMasterKey = "0123456789abcdef0123456789abcdef-master"
	testHMACKey   = "test-hs256-signing-key-with-32-bytes!!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// Aligned to a TOTP step boundary so Advance(30s) always moves one step.
	return &fakeClock{now: time.Unix(1_700_000_010, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]UserRecord
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]UserRecord{}}
}

func (r *memUserRepo) put(u UserRecord) {
	r.mu.Lock()
	r.users[u.ID] = u
	r.mu.Unlock()
}

func (r *memUserRepo) get(id string) UserRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memUserRepo) FindByID(_ context.Context, userID string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) FindByName(_ context.Context, identifier string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (r *memUserRepo) Update(_ context.Context, user UserRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) mutate(userID string, fn func(*UserRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	r.users[userID] = u
	return nil
}

func (r *memUserRepo) SetLockoutEnd(_ context.Context, userID string, end time.Time) error {
	return r.mutate(userID, func(u *UserRecord) { u.LockoutEnd = end })
}

func (r *memUserRepo) SetLastLogin(_ context.Context, userID string, at time.Time) error {
	return r.mutate(userID, func(u *UserRecord) { u.LastLoginAt = at })
}

func (r *memUserRepo) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	return r.mutate(userID, func(u *UserRecord) { u.TwoFactorEnabled = enabled })
}

func (r *memUserRepo) SetEmailTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	return r.mutate(userID, func(u *UserRecord) { u.EmailTwoFactorEnabled = enabled })
}

type sentCode struct {
	to        string
	code      string
	expiresAt time.Time
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentCode
}

func (s *captureSender) SendTwoFactorCode(_ context.Context, to, code string, expiresAt time.Time) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentCode{to: to, code: code, expiresAt: expiresAt})
	s.mu.Unlock()
	return nil
}

func (s *captureSender) last(t *testing.T) sentCode {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected an email code to be sent")
	}
	return s.sent[len(s.sent)-1]
}

type testEnv struct {
	engine *Engine
	users  *memUserRepo
	sender *captureSender
	clock  *fakeClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	cfg    Config
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.SigningMethod = "hs256"
	cfg.Session.SigningKey = testHMACKey
	cfg.Protection.MasterKey = testMasterKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.TOTP.QRCodeSize = 0
	cfg.Lockout.MaxFailedAttempts = 3
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		users:  newMemUserRepo(),
		sender: &captureSender{},
		clock:  newFakeClock(),
		mr:     mr,
		rdb:    rdb,
		cfg:    cfg,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserRepository(env.users).
		WithEmailSender(env.sender).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	hash, err := engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	env.users.put(UserRecord{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
	})

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) appCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, env.clock.Now(), totp.ValidateOpts{
		Period:    uint(env.cfg.TOTP.Period / time.Second),
		Digits:    otp.Digits(env.cfg.TOTP.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// enableApp enrolls the authenticator for u1 and returns the secret and the
// first recovery batch. The clock is moved one step on so the next code is
// not a replay of the confirmation code.
func (env *testEnv) enableApp(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enr, err := env.engine.BeginEnableApp(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginEnableApp failed: %v", err)
	}
	codes, err := env.engine.ConfirmEnableApp(ctx, "u1", env.appCode(t, enr.Secret))
	if err != nil {
		t.Fatalf("ConfirmEnableApp failed: %v", err)
	}
	env.clock.Advance(env.cfg.TOTP.Period)
	return enr.Secret, codes
}

func (env *testEnv) login(t *testing.T, deviceToken string) *SignInResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{
		Identifier:  "alice",
		Password:    testPassword,
		DeviceToken: deviceToken,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}
