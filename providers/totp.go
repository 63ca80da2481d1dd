package providers

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/codegen"
	"github.com/MrEthical07/goMFA/tokenstore"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// SecretProtector encrypts TOTP secrets at rest. *protect.Protector
// implements it.
type SecretProtector interface {
	Protect(purpose, plaintext string) (string, error)
	Unprotect(purpose, protected string) (string, error)
}

// TOTPConfig controls secret generation and code verification.
type TOTPConfig struct {
	Issuer        string
	Digits        int
	Period        time.Duration
	Algorithm     string
	Skew          uint
	SecretSize    int
	EnforceReplay bool
}

// DefaultTOTPConfig returns RFC 6238 defaults: SHA1, 30 second steps,
// 6 digits and one step of drift either way.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:        "goMFA",
		Digits:        6,
		Period:        30 * time.Second,
		Algorithm:     "SHA1",
		Skew:          1,
		SecretSize:    20,
		EnforceReplay: true,
	}
}

// TOTPEnrollment is returned once, at generation time. The stored copy of
// the secret is protected and is never handed out again.
type TOTPEnrollment struct {
	Secret string
	URI    string

	key *otp.Key
}

// QRCodePNG renders the provisioning URI as a square PNG of size pixels.
func (e TOTPEnrollment) QRCodePNG(size int) ([]byte, error) {
	if e.key == nil {
		return nil, errors.New("providers: enrollment has no key")
	}
	img, err := e.key.Image(size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type totpRecord struct {
	Secret    string `json:"sec"`
	Protected bool   `json:"p"`
	LastStep  int64  `json:"lst"`
}

// TOTPProvider implements authenticator-app codes.
type TOTPProvider struct {
	store     tokenstore.Store
	protector SecretProtector
	config    TOTPConfig
	logger    *slog.Logger
	now       func() time.Time
}

// TOTPOption customizes a TOTPProvider.
type TOTPOption func(*TOTPProvider)

// WithTOTPClock overrides the time source.
func WithTOTPClock(now func() time.Time) TOTPOption {
	return func(p *TOTPProvider) { p.now = nowOrDefault(now) }
}

// WithTOTPLogger sets the logger.
func WithTOTPLogger(l *slog.Logger) TOTPOption {
	return func(p *TOTPProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewTOTPProvider builds the provider. protector may be nil, in which case
// secrets are stored unencrypted.
func NewTOTPProvider(store tokenstore.Store, protector SecretProtector, cfg TOTPConfig, opts ...TOTPOption) (*TOTPProvider, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if _, err := totpAlgorithm(cfg.Algorithm); err != nil {
		return nil, err
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("providers: TOTP digits must be 6 or 8")
	}
	if cfg.Period < time.Second {
		return nil, errors.New("providers: TOTP period must be at least one second")
	}
	if cfg.SecretSize < 16 {
		return nil, errors.New("providers: TOTP secret size must be at least 16 bytes")
	}

	p := &TOTPProvider{
		store:     store,
		protector: protector,
		config:    cfg,
		logger:    discardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name used in store keys.
func (p *TOTPProvider) Name() string { return NameTOTP }

// CanGenerate reports whether the provider can issue secrets.
func (p *TOTPProvider) CanGenerate(_ context.Context, userID string) bool {
	return p != nil && p.store != nil && userID != ""
}

func (p *TOTPProvider) key(userID, purpose string) tokenstore.Key {
	return tokenstore.Key{UserID: userID, Provider: NameTOTP, Purpose: purpose}
}

// Generate creates a fresh secret for userID, replacing any previous one for
// purpose. accountName is shown by authenticator apps next to the issuer.
func (p *TOTPProvider) Generate(ctx context.Context, purpose, userID, accountName string) (TOTPEnrollment, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return TOTPEnrollment{}, err
	}
	if accountName == "" {
		accountName = userID
	}

	raw, err := codegen.GenerateSecretBytes(p.config.SecretSize)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	algorithm, _ := totpAlgorithm(p.config.Algorithm)
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.config.Issuer,
		AccountName: accountName,
		Period:      uint(p.config.Period / time.Second),
		Secret:      raw,
		Digits:      otp.Digits(p.config.Digits),
		Algorithm:   algorithm,
	})
	if err != nil {
		return TOTPEnrollment{}, err
	}

	rec := totpRecord{Secret: key.Secret()}
	if p.protector != nil {
		sealed, err := p.protector.Protect(purpose, key.Secret())
		if err != nil {
			return TOTPEnrollment{}, fmt.Errorf("protect totp secret: %w", err)
		}
		rec.Secret = sealed
		rec.Protected = true
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return TOTPEnrollment{}, err
	}

	if err := p.store.Set(ctx, p.key(userID, purpose), string(payload)); err != nil {
		p.logger.ErrorContext(ctx, "totp secret save failed", "user_id", userID, "purpose", purpose, "error", err)
		return TOTPEnrollment{}, err
	}

	p.logger.InfoContext(ctx, "totp secret generated", "user_id", userID, "purpose", purpose)
	return TOTPEnrollment{Secret: key.Secret(), URI: key.URL(), key: key}, nil
}

// Validate checks code against the stored secret. Codes from outside the
// configured skew window fail. With replay enforcement a time step that was
// already accepted cannot be used again.
func (p *TOTPProvider) Validate(ctx context.Context, purpose, userID, code string) (Result, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return Result{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Invalid(ReasonEmptyCode), nil
	}

	now := p.now()
	var res Result
	err := p.store.Update(ctx, p.key(userID, purpose), func(current string, exists bool) (string, tokenstore.Op, error) {
		if !exists {
			res = Invalid(ReasonNotConfigured)
			return "", tokenstore.OpKeep, nil
		}

		var rec totpRecord
		if err := json.Unmarshal([]byte(current), &rec); err != nil || rec.Secret == "" {
			res = Invalid(ReasonMalformed)
			return "", tokenstore.OpKeep, nil
		}

		secret := rec.Secret
		if rec.Protected {
			if p.protector == nil {
				res = Invalid(ReasonProtection)
				return "", tokenstore.OpKeep, nil
			}
			plain, err := p.protector.Unprotect(purpose, rec.Secret)
			if err != nil {
				res = Invalid(ReasonProtection)
				return "", tokenstore.OpKeep, nil
			}
			secret = plain
		}

		step, ok := p.match(secret, code, now)
		if !ok {
			res = Invalid(ReasonMismatch)
			return "", tokenstore.OpKeep, nil
		}
		if !p.config.EnforceReplay {
			res = Valid()
			return "", tokenstore.OpKeep, nil
		}
		if step <= rec.LastStep {
			res = Invalid(ReasonReplay)
			return "", tokenstore.OpKeep, nil
		}

		rec.LastStep = step
		next, err := json.Marshal(rec)
		if err != nil {
			return "", tokenstore.OpKeep, err
		}
		res = Valid()
		return string(next), tokenstore.OpPut, nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "totp validation store failure", "user_id", userID, "purpose", purpose, "error", err)
		return Result{}, err
	}
	if res.Reason == ReasonProtection {
		p.logger.WarnContext(ctx, "totp secret could not be unprotected", "user_id", userID, "purpose", purpose)
	}
	return res, nil
}

// match returns the time step whose code equals code, searching the skew
// window around now.
func (p *TOTPProvider) match(secret, code string, now time.Time) (int64, bool) {
	algorithm, _ := totpAlgorithm(p.config.Algorithm)
	opts := totp.ValidateOpts{
		Period:    uint(p.config.Period / time.Second),
		Digits:    otp.Digits(p.config.Digits),
		Algorithm: algorithm,
	}
	period := int64(opts.Period)
	current := now.Unix() / period
	skew := int64(p.config.Skew)

	matched := int64(-1)
	for i := -skew; i <= skew; i++ {
		step := current + i
		if step < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && matched < 0 {
			matched = step
		}
	}
	return matched, matched >= 0
}

// HasSecret reports whether userID has a secret stored under purpose.
func (p *TOTPProvider) HasSecret(ctx context.Context, userID, purpose string) (bool, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return false, err
	}
	_, ok, err := p.store.Get(ctx, p.key(userID, purpose))
	return ok, err
}

// Remove deletes the stored secret. Removing a missing secret succeeds.
func (p *TOTPProvider) Remove(ctx context.Context, userID, purpose string) error {
	if err := checkArgs(userID, purpose); err != nil {
		return err
	}
	if err := p.store.Remove(ctx, p.key(userID, purpose)); err != nil {
		p.logger.ErrorContext(ctx, "totp secret removal failed", "user_id", userID, "purpose", purpose, "error", err)
		return err
	}
	p.logger.InfoContext(ctx, "totp secret removed", "user_id", userID, "purpose", purpose)
	return nil
}

func totpAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return otp.AlgorithmSHA1, fmt.Errorf("providers: unsupported TOTP algorithm %q", name)
	}
}
