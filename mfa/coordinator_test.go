package mfa

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/protect"
	"github.com/MrEthical07/goMFA/providers"
	"github.com/MrEthical07/goMFA/tokenstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

type fakeFlags struct {
	mu      sync.Mutex
	mfa     map[string]bool
	email   map[string]bool
	failOn  string
	calls   []string
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{mfa: map[string]bool{}, email: map[string]bool{}}
}

func (f *fakeFlags) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "mfa")
	if f.failOn == "mfa" {
		return errors.New("db down")
	}
	f.mfa[userID] = enabled
	return nil
}

func (f *fakeFlags) SetEmailTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "email")
	if f.failOn == "email" {
		return errors.New("db down")
	}
	f.email[userID] = enabled
	return nil
}

type fakeDevices struct {
	forgotten []string
	err       error
}

func (d *fakeDevices) ForgetDevices(_ context.Context, userID string) error {
	if d.err != nil {
		return d.err
	}
	d.forgotten = append(d.forgotten, userID)
	return nil
}

type fixture struct {
	coord   *Coordinator
	flags   *fakeFlags
	devices *fakeDevices
	mr      *miniredis.Miniredis
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := tokenstore.NewRedisStore(rdb, "t")

	protector, err := protect.New(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("protect.New: %v", err)
	}
	hashKey, err := protector.DeriveKey("code-hash", 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	hasher, err := providers.NewCodeHasher(hashKey)
	if err != nil {
		t.Fatalf("NewCodeHasher: %v", err)
	}

	now := time.Unix(1_700_000_010, 0)
	clock := func() time.Time { return now }

	app, err := providers.NewTOTPProvider(store, protector, providers.DefaultTOTPConfig(), providers.WithTOTPClock(clock))
	if err != nil {
		t.Fatalf("NewTOTPProvider: %v", err)
	}
	email, err := providers.NewEmailProvider(store, hasher, 10*time.Minute, providers.WithEmailClock(clock))
	if err != nil {
		t.Fatalf("NewEmailProvider: %v", err)
	}
	recovery, err := providers.NewRecoveryProvider(store, hasher, 4)
	if err != nil {
		t.Fatalf("NewRecoveryProvider: %v", err)
	}

	flags := newFakeFlags()
	devices := &fakeDevices{}
	coord, err := NewCoordinator(Providers{App: app, Email: email, Recovery: recovery}, flags, devices, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return &fixture{coord: coord, flags: flags, devices: devices, mr: mr, now: now}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"app":      MethodApp,
		"TOTP":     MethodApp,
		"email":    MethodEmail,
		"recovery": MethodRecovery,
		"backup":   MethodRecovery,
	}
	for in, want := range cases {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Fatalf("ParseMethod(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMethod("sms"); !errors.Is(err, ErrMethodNotSupported) {
		t.Fatalf("expected ErrMethodNotSupported, got %v", err)
	}
}

func TestResolvePurposesDoNotCollide(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for _, m := range []Method{MethodApp, MethodEmail, MethodRecovery} {
		_, purpose, err := f.coord.Resolve(m)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", m, err)
		}
		if seen[purpose] {
			t.Fatalf("purpose %q reused", purpose)
		}
		seen[purpose] = true
	}
	if _, _, err := f.coord.Resolve(Method(42)); !errors.Is(err, ErrMethodNotSupported) {
		t.Fatalf("expected ErrMethodNotSupported, got %v", err)
	}
}

func TestVerifyTwoFactorDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrollment, err := f.coord.BeginApp(ctx, "u1", "alice")
	if err != nil {
		t.Fatalf("BeginApp: %v", err)
	}
	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if res, err := f.coord.VerifyTwoFactor(ctx, "u1", MethodApp, code); err != nil || !res.OK {
		t.Fatalf("app verify: %+v %v", res, err)
	}

	emailCode, err := f.coord.SendEmailCode(ctx, "u1")
	if err != nil {
		t.Fatalf("SendEmailCode: %v", err)
	}
	if res, _ := f.coord.VerifyTwoFactor(ctx, "u1", MethodRecovery, emailCode.Code); res.OK {
		t.Fatal("email code must not validate as a recovery code")
	}
	if res, err := f.coord.VerifyTwoFactor(ctx, "u1", MethodEmail, emailCode.Code); err != nil || !res.OK {
		t.Fatalf("email verify: %+v %v", res, err)
	}

	if _, err := f.coord.VerifyTwoFactor(ctx, "u1", Method(9), "x"); !errors.Is(err, ErrMethodNotSupported) {
		t.Fatalf("expected ErrMethodNotSupported, got %v", err)
	}
}

func TestEnableFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.coord.EnableApp(ctx, "u1"); err != nil {
		t.Fatalf("EnableApp: %v", err)
	}
	if !f.flags.mfa["u1"] || f.flags.email["u1"] {
		t.Fatalf("unexpected flags after EnableApp: mfa=%v email=%v", f.flags.mfa["u1"], f.flags.email["u1"])
	}
	if err := f.coord.EnableEmail(ctx, "u2"); err != nil {
		t.Fatalf("EnableEmail: %v", err)
	}
	if !f.flags.mfa["u2"] || !f.flags.email["u2"] {
		t.Fatal("EnableEmail must set both flags")
	}
}

func TestDisableAllRemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrollment, err := f.coord.BeginApp(ctx, "u1", "alice")
	if err != nil {
		t.Fatalf("BeginApp: %v", err)
	}
	codes, err := f.coord.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	emailCode, err := f.coord.SendEmailCode(ctx, "u1")
	if err != nil {
		t.Fatalf("SendEmailCode: %v", err)
	}
	if err := f.coord.EnableEmail(ctx, "u1"); err != nil {
		t.Fatalf("EnableEmail: %v", err)
	}

	if err := f.coord.DisableAll(ctx, "u1"); err != nil {
		t.Fatalf("DisableAll: %v", err)
	}

	if f.flags.mfa["u1"] || f.flags.email["u1"] {
		t.Fatal("flags must be cleared")
	}
	if len(f.devices.forgotten) != 1 || f.devices.forgotten[0] != "u1" {
		t.Fatalf("devices not forgotten: %v", f.devices.forgotten)
	}

	appCode, _ := totp.GenerateCode(enrollment.Secret, f.now)
	res, err := f.coord.VerifyTwoFactor(ctx, "u1", MethodApp, appCode)
	if err != nil || res.OK || res.Reason != providers.ReasonNotConfigured {
		t.Fatalf("app after disable: %+v %v", res, err)
	}
	res, err = f.coord.VerifyTwoFactor(ctx, "u1", MethodEmail, emailCode.Code)
	if err != nil || res.OK {
		t.Fatalf("email after disable: %+v %v", res, err)
	}
	res, err = f.coord.VerifyTwoFactor(ctx, "u1", MethodRecovery, codes[0])
	if err != nil || res.OK {
		t.Fatalf("recovery after disable: %+v %v", res, err)
	}
	if keys := f.mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no token records left, got %v", keys)
	}
}

func TestDisableAllStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	f.flags.failOn = "mfa"

	err := f.coord.DisableAll(ctx, "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if n, _ := f.coord.CountRecoveryCodes(ctx, "u1"); n != 4 {
		t.Fatalf("later steps must not run after a failure, recovery count=%d", n)
	}
	if len(f.devices.forgotten) != 0 {
		t.Fatal("devices must not be forgotten after an earlier failure")
	}
}

func TestDisableAllDeviceFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.devices.err = errors.New("redis down")

	err := f.coord.DisableAll(context.Background(), "u1")
	if err == nil || !errors.Is(err, f.devices.err) {
		t.Fatalf("expected device error to surface, got %v", err)
	}
}

func TestAllowedMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	methods, err := f.coord.AllowedMethods(ctx, "u1", false)
	if err != nil {
		t.Fatalf("AllowedMethods: %v", err)
	}
	if len(methods) != 1 || methods[0] != MethodRecovery {
		t.Fatalf("expected only recovery before enrollment, got %v", methods)
	}

	if _, err := f.coord.BeginApp(ctx, "u1", "alice"); err != nil {
		t.Fatalf("BeginApp: %v", err)
	}
	methods, err = f.coord.AllowedMethods(ctx, "u1", true)
	if err != nil {
		t.Fatalf("AllowedMethods: %v", err)
	}
	want := []Method{MethodApp, MethodEmail, MethodRecovery}
	if len(methods) != len(want) {
		t.Fatalf("got %v want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatalf("got %v want %v", methods, want)
		}
	}
}
