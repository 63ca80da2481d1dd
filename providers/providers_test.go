package providers

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/protect"
	"github.com/MrEthical07/goMFA/tokenstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const (
	testPurpose         = "TwoFactor"
	testEmailPurpose    = "TwoFactor:Email"
	testRecoveryPurpose = "TwoFactor:Recovery"
)

func newTestStore(t *testing.T) (*tokenstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return tokenstore.NewRedisStore(rdb, "t"), mr
}

func newTestHasher(t *testing.T) *CodeHasher {
	t.Helper()
	h, err := NewCodeHasher(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatalf("NewCodeHasher: %v", err)
	}
	return h
}

func newTestProtector(t *testing.T, seed byte) *protect.Protector {
	t.Helper()
	p, err := protect.New(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("protect.New: %v", err)
	}
	return p
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

func newTOTP(t *testing.T, store tokenstore.Store, clock *fixedClock, replay bool) *TOTPProvider {
	t.Helper()
	cfg := DefaultTOTPConfig()
	cfg.EnforceReplay = replay
	p, err := NewTOTPProvider(store, newTestProtector(t, 1), cfg, WithTOTPClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTOTPProvider: %v", err)
	}
	return p
}

func TestTOTPValidateCurrentStep(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_010, 0)}
	p := newTOTP(t, store, clock, true)
	ctx := context.Background()

	enrollment, err := p.Generate(ctx, testPurpose, "u1", "alice@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(enrollment.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", enrollment.URI)
	}

	res, err := p.Validate(ctx, testPurpose, "u1", codeAt(t, enrollment.Secret, clock.Now()))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected valid code, got %+v", res)
	}
}

func TestTOTPDriftWindow(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_010, 0)}
	p := newTOTP(t, store, clock, false)
	ctx := context.Background()

	enrollment, err := p.Generate(ctx, testPurpose, "u1", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cases := []struct {
		offset time.Duration
		want   bool
	}{
		{-60 * time.Second, false},
		{-30 * time.Second, true},
		{0, true},
		{30 * time.Second, true},
		{60 * time.Second, false},
	}
	for _, tc := range cases {
		res, err := p.Validate(ctx, testPurpose, "u1", codeAt(t, enrollment.Secret, clock.Now().Add(tc.offset)))
		if err != nil {
			t.Fatalf("Validate(%v): %v", tc.offset, err)
		}
		if res.OK != tc.want {
			t.Fatalf("offset %v: expected ok=%v, got %+v", tc.offset, tc.want, res)
		}
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_010, 0)}
	p := newTOTP(t, store, clock, true)
	ctx := context.Background()

	enrollment, err := p.Generate(ctx, testPurpose, "u1", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	code := codeAt(t, enrollment.Secret, clock.Now())

	if res, _ := p.Validate(ctx, testPurpose, "u1", code); !res.OK {
		t.Fatalf("first use should succeed: %+v", res)
	}
	res, err := p.Validate(ctx, testPurpose, "u1", code)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonReplay {
		t.Fatalf("expected replay rejection, got %+v", res)
	}

	clock.Advance(30 * time.Second)
	if res, _ := p.Validate(ctx, testPurpose, "u1", codeAt(t, enrollment.Secret, clock.Now())); !res.OK {
		t.Fatalf("next step should succeed: %+v", res)
	}
}

func TestTOTPNoSecretConfigured(t *testing.T) {
	store, _ := newTestStore(t)
	p := newTOTP(t, store, &fixedClock{now: time.Now()}, true)

	res, err := p.Validate(context.Background(), testPurpose, "nobody", "123456")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonNotConfigured {
		t.Fatalf("expected not configured, got %+v", res)
	}
}

func TestTOTPSecretProtectedAtRest(t *testing.T) {
	store, mr := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_010, 0)}
	p := newTOTP(t, store, clock, true)
	ctx := context.Background()

	enrollment, err := p.Generate(ctx, testPurpose, "u1", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	raw, err := mr.Get("t:u1:TotpApp:TwoFactor")
	if err != nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if strings.Contains(raw, enrollment.Secret) {
		t.Fatal("stored record must not contain the plaintext secret")
	}

	other, err := NewTOTPProvider(store, newTestProtector(t, 2), DefaultTOTPConfig(), WithTOTPClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTOTPProvider: %v", err)
	}
	res, err := other.Validate(ctx, testPurpose, "u1", codeAt(t, enrollment.Secret, clock.Now()))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonProtection {
		t.Fatalf("decrypt failure must be an invalid result, got %+v", res)
	}
}

func TestTOTPRemoveIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_010, 0)}
	p := newTOTP(t, store, clock, true)
	ctx := context.Background()

	enrollment, err := p.Generate(ctx, testPurpose, "u1", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := p.Remove(ctx, "u1", testPurpose); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := p.Remove(ctx, "u1", testPurpose); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	res, _ := p.Validate(ctx, testPurpose, "u1", codeAt(t, enrollment.Secret, clock.Now()))
	if res.OK || res.Reason != ReasonNotConfigured {
		t.Fatalf("expected not configured after removal, got %+v", res)
	}
}

func TestTOTPEnrollmentQRCode(t *testing.T) {
	store, _ := newTestStore(t)
	p := newTOTP(t, store, &fixedClock{now: time.Now()}, true)

	enrollment, err := p.Generate(context.Background(), testPurpose, "u1", "alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	img, err := enrollment.QRCodePNG(200)
	if err != nil {
		t.Fatalf("QRCodePNG: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatal("expected PNG output")
	}
}

func newEmail(t *testing.T, store tokenstore.Store, clock *fixedClock) *EmailProvider {
	t.Helper()
	p, err := NewEmailProvider(store, newTestHasher(t), 10*time.Minute, WithEmailClock(clock.Now))
	if err != nil {
		t.Fatalf("NewEmailProvider: %v", err)
	}
	return p
}

func TestEmailCodeSingleUse(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p := newEmail(t, store, clock)
	ctx := context.Background()

	code, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !code.ExpiresAt.Equal(time.Unix(1_700_000_600, 0)) {
		t.Fatalf("unexpected expiry %v", code.ExpiresAt)
	}

	if res, _ := p.Validate(ctx, testEmailPurpose, "u1", strings.ToLower(code.Code)); !res.OK {
		t.Fatalf("expected valid code, got %+v", res)
	}
	res, err := p.Validate(ctx, testEmailPurpose, "u1", code.Code)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonNotRequested {
		t.Fatalf("second use must fail, got %+v", res)
	}
}

func TestEmailCodeRegenerationInvalidatesPrevious(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p := newEmail(t, store, clock)
	ctx := context.Background()

	first, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first.Code == second.Code {
		t.Skip("random collision between consecutive codes")
	}

	if res, _ := p.Validate(ctx, testEmailPurpose, "u1", first.Code); res.OK {
		t.Fatal("old code must fail after regeneration")
	}
	if res, _ := p.Validate(ctx, testEmailPurpose, "u1", second.Code); !res.OK {
		t.Fatalf("new code must validate, got %+v", res)
	}
}

func TestEmailCodeExpiredIsRemoved(t *testing.T) {
	store, mr := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p := newEmail(t, store, clock)
	ctx := context.Background()

	code, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	clock.Advance(11 * time.Minute)

	res, err := p.Validate(ctx, testEmailPurpose, "u1", code.Code)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonExpired {
		t.Fatalf("expected expired, got %+v", res)
	}
	if mr.Exists("t:u1:EmailCode:TwoFactor:Email") {
		t.Fatal("expired record must be removed")
	}

	clock.Advance(-11 * time.Minute)
	if res, _ := p.Validate(ctx, testEmailPurpose, "u1", code.Code); res.OK {
		t.Fatal("removed code must not validate again")
	}
}

func TestEmailCodeMismatchKeepsRecord(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p := newEmail(t, store, clock)
	ctx := context.Background()

	code, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	res, err := p.Validate(ctx, testEmailPurpose, "u1", "BBBBB-BBBBB")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonMismatch {
		t.Fatalf("expected mismatch, got %+v", res)
	}
	if res, _ := p.Validate(ctx, testEmailPurpose, "u1", code.Code); !res.OK {
		t.Fatalf("correct code must still validate after a wrong guess, got %+v", res)
	}
}

func TestEmailCodeMalformedRecord(t *testing.T) {
	store, _ := newTestStore(t)
	p := newEmail(t, store, &fixedClock{now: time.Now()})
	ctx := context.Background()

	key := tokenstore.Key{UserID: "u1", Provider: NameEmail, Purpose: testEmailPurpose}
	if err := store.Set(ctx, key, "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	res, err := p.Validate(ctx, testEmailPurpose, "u1", "BCDFG-HJKMN")
	if err != nil {
		t.Fatalf("malformed payload must not surface as an error: %v", err)
	}
	if res.OK || res.Reason != ReasonMalformed {
		t.Fatalf("expected malformed, got %+v", res)
	}
}

func TestEmailCodeIsUserBound(t *testing.T) {
	store, _ := newTestStore(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p := newEmail(t, store, clock)
	ctx := context.Background()

	code, err := p.Generate(ctx, testEmailPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	key := tokenstore.Key{UserID: "u1", Provider: NameEmail, Purpose: testEmailPurpose}
	payload, _, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	other := key
	other.UserID = "u2"
	if err := store.Set(ctx, other, payload); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if res, _ := p.Validate(ctx, testEmailPurpose, "u2", code.Code); res.OK {
		t.Fatal("a record copied to another user must not validate")
	}
}

func newRecovery(t *testing.T, store tokenstore.Store, n int) *RecoveryProvider {
	t.Helper()
	p, err := NewRecoveryProvider(store, newTestHasher(t), n)
	if err != nil {
		t.Fatalf("NewRecoveryProvider: %v", err)
	}
	return p
}

func TestRecoveryCodesDistinctAndSingleUse(t *testing.T) {
	store, _ := newTestStore(t)
	p := newRecovery(t, store, 10)
	ctx := context.Background()

	codes, err := p.Generate(ctx, testRecoveryPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}

	first := codes[3]
	if res, _ := p.Validate(ctx, testRecoveryPurpose, "u1", first); !res.OK {
		t.Fatalf("first use must succeed, got %+v", res)
	}
	if res, _ := p.Validate(ctx, testRecoveryPurpose, "u1", first); res.OK {
		t.Fatal("second use of the same code must fail")
	}

	n, err := p.CountValid(ctx, "u1", testRecoveryPurpose)
	if err != nil {
		t.Fatalf("CountValid: %v", err)
	}
	if n != 9 {
		t.Fatalf("expected 9 remaining codes, got %d", n)
	}

	for i, c := range codes {
		if i == 3 {
			continue
		}
		if res, _ := p.Validate(ctx, testRecoveryPurpose, "u1", c); !res.OK {
			t.Fatalf("code %d should still validate, got %+v", i, res)
		}
	}
	if n, _ := p.CountValid(ctx, "u1", testRecoveryPurpose); n != 0 {
		t.Fatalf("expected batch exhausted, got %d", n)
	}
}

func TestRecoveryRegenerationInvalidatesOldBatch(t *testing.T) {
	store, _ := newTestStore(t)
	p := newRecovery(t, store, 5)
	ctx := context.Background()

	old, err := p.Generate(ctx, testRecoveryPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fresh, err := p.Generate(ctx, testRecoveryPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	freshSet := map[string]bool{}
	for _, c := range fresh {
		freshSet[c] = true
	}
	for _, c := range old {
		if freshSet[c] {
			continue
		}
		if res, _ := p.Validate(ctx, testRecoveryPurpose, "u1", c); res.OK {
			t.Fatalf("old code %q must not validate after regeneration", c)
		}
	}
	if res, _ := p.Validate(ctx, testRecoveryPurpose, "u1", fresh[0]); !res.OK {
		t.Fatalf("fresh code must validate, got %+v", res)
	}
}

func TestRecoveryConcurrentConsumptionSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	p := newRecovery(t, store, 3)
	ctx := context.Background()

	codes, err := p.Generate(ctx, testRecoveryPurpose, "u1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Validate(ctx, testRecoveryPurpose, "u1", codes[0])
			if err == nil && res.OK {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful consumption, got %d", wins.Load())
	}
}

func TestRecoveryNoCodes(t *testing.T) {
	store, _ := newTestStore(t)
	p := newRecovery(t, store, 3)

	res, err := p.Validate(context.Background(), testRecoveryPurpose, "u1", "BCDFG-HJKMN")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK || res.Reason != ReasonNoCodes {
		t.Fatalf("expected no codes, got %+v", res)
	}
}
