package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goMFA/codegen"
	"github.com/MrEthical07/goMFA/tokenstore"
)

// EmailCode is a freshly generated code ready to be delivered.
type EmailCode struct {
	Code      string
	ExpiresAt time.Time
}

type emailRecord struct {
	Hash      string `json:"thsh"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// EmailProvider implements one-time codes delivered by email. A pending code
// stays valid until it expires or is used; a wrong guess does not burn it.
type EmailProvider struct {
	store  tokenstore.Store
	hasher *CodeHasher
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// EmailOption customizes an EmailProvider.
type EmailOption func(*EmailProvider)

// WithEmailClock overrides the time source.
func WithEmailClock(now func() time.Time) EmailOption {
	return func(p *EmailProvider) { p.now = nowOrDefault(now) }
}

// WithEmailLogger sets the logger.
func WithEmailLogger(l *slog.Logger) EmailOption {
	return func(p *EmailProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewEmailProvider builds the provider. ttl is the lifetime of each code.
func NewEmailProvider(store tokenstore.Store, hasher *CodeHasher, ttl time.Duration, opts ...EmailOption) (*EmailProvider, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if hasher == nil {
		return nil, ErrNilHasher
	}
	if ttl <= 0 {
		return nil, errors.New("providers: email code ttl must be positive")
	}
	p := &EmailProvider{
		store:  store,
		hasher: hasher,
		ttl:    ttl,
		logger: discardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name used in store keys.
func (p *EmailProvider) Name() string { return NameEmail }

// CanGenerate reports whether the provider can issue codes.
func (p *EmailProvider) CanGenerate(_ context.Context, userID string) bool {
	return p != nil && p.store != nil && p.hasher != nil && userID != ""
}

func (p *EmailProvider) key(userID, purpose string) tokenstore.Key {
	return tokenstore.Key{UserID: userID, Provider: NameEmail, Purpose: purpose}
}

// Generate issues a new code, replacing any pending one for purpose.
func (p *EmailProvider) Generate(ctx context.Context, purpose, userID string) (EmailCode, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return EmailCode{}, err
	}

	code, err := codegen.GenerateFormattedCode()
	if err != nil {
		return EmailCode{}, err
	}

	now := p.now().UTC()
	expires := now.Add(p.ttl)
	payload, err := json.Marshal(emailRecord{
		Hash:      p.hasher.Hash(userID, purpose, code),
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
	})
	if err != nil {
		return EmailCode{}, err
	}

	if err := p.store.Set(ctx, p.key(userID, purpose), string(payload)); err != nil {
		p.logger.ErrorContext(ctx, "email code save failed", "user_id", userID, "purpose", purpose, "error", err)
		return EmailCode{}, err
	}

	p.logger.InfoContext(ctx, "email code generated", "user_id", userID, "purpose", purpose, "expires_at", expires.Format(time.RFC3339))
	return EmailCode{Code: code, ExpiresAt: time.Unix(expires.Unix(), 0).UTC()}, nil
}

// Validate checks code against the pending record. Expired and malformed
// records are removed; a match consumes the record.
func (p *EmailProvider) Validate(ctx context.Context, purpose, userID, code string) (Result, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return Result{}, err
	}
	if codegen.Canonicalize(code) == "" {
		return Invalid(ReasonEmptyCode), nil
	}

	now := p.now().Unix()
	var res Result
	err := p.store.Update(ctx, p.key(userID, purpose), func(current string, exists bool) (string, tokenstore.Op, error) {
		if !exists {
			res = Invalid(ReasonNotRequested)
			return "", tokenstore.OpKeep, nil
		}

		var rec emailRecord
		if err := json.Unmarshal([]byte(current), &rec); err != nil || rec.Hash == "" {
			res = Invalid(ReasonMalformed)
			return "", tokenstore.OpDelete, nil
		}
		if now < rec.IssuedAt || now > rec.ExpiresAt {
			res = Invalid(ReasonExpired)
			return "", tokenstore.OpDelete, nil
		}
		if !p.hasher.Verify(userID, purpose, code, rec.Hash) {
			res = Invalid(ReasonMismatch)
			return "", tokenstore.OpKeep, nil
		}

		res = Valid()
		return "", tokenstore.OpDelete, nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "email code validation store failure", "user_id", userID, "purpose", purpose, "error", err)
		return Result{}, err
	}

	switch res.Reason {
	case ReasonExpired:
		p.logger.InfoContext(ctx, "expired email code removed", "user_id", userID, "purpose", purpose)
	case ReasonMalformed:
		p.logger.WarnContext(ctx, "malformed email code record removed", "user_id", userID, "purpose", purpose)
	}
	return res, nil
}

// Remove deletes any pending code.
func (p *EmailProvider) Remove(ctx context.Context, userID, purpose string) error {
	if err := checkArgs(userID, purpose); err != nil {
		return err
	}
	if err := p.store.Remove(ctx, p.key(userID, purpose)); err != nil {
		p.logger.ErrorContext(ctx, "email code removal failed", "user_id", userID, "purpose", purpose, "error", err)
		return err
	}
	p.logger.InfoContext(ctx, "email code removed", "user_id", userID, "purpose", purpose)
	return nil
}
