package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goMFA/codegen"
	"github.com/MrEthical07/goMFA/tokenstore"
)

// maxRecoveryBatch bounds how many codes one batch may hold.
const maxRecoveryBatch = 64

// RecoveryProvider implements single-use recovery codes. The stored array of
// digests is the only source of truth for which codes remain valid.
type RecoveryProvider struct {
	store     tokenstore.Store
	hasher    *CodeHasher
	batchSize int
	logger    *slog.Logger
}

// RecoveryOption customizes a RecoveryProvider.
type RecoveryOption func(*RecoveryProvider)

// WithRecoveryLogger sets the logger.
func WithRecoveryLogger(l *slog.Logger) RecoveryOption {
	return func(p *RecoveryProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewRecoveryProvider builds the provider. batchSize is the number of codes
// issued per generation.
func NewRecoveryProvider(store tokenstore.Store, hasher *CodeHasher, batchSize int, opts ...RecoveryOption) (*RecoveryProvider, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if hasher == nil {
		return nil, ErrNilHasher
	}
	if batchSize < 1 || batchSize > maxRecoveryBatch {
		return nil, fmt.Errorf("providers: recovery batch size must be between 1 and %d", maxRecoveryBatch)
	}
	p := &RecoveryProvider{
		store:     store,
		hasher:    hasher,
		batchSize: batchSize,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name used in store keys.
func (p *RecoveryProvider) Name() string { return NameRecovery }

// CanGenerate reports whether the provider can issue codes.
func (p *RecoveryProvider) CanGenerate(_ context.Context, userID string) bool {
	return p != nil && p.store != nil && p.hasher != nil && userID != ""
}

func (p *RecoveryProvider) key(userID, purpose string) tokenstore.Key {
	return tokenstore.Key{UserID: userID, Provider: NameRecovery, Purpose: purpose}
}

// Generate issues a new batch of pairwise distinct codes and replaces the
// previous batch, which stops validating immediately. The plaintext codes are
// returned for one-time display.
func (p *RecoveryProvider) Generate(ctx context.Context, purpose, userID string) ([]string, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return nil, err
	}

	codes := make([]string, 0, p.batchSize)
	seen := make(map[string]struct{}, p.batchSize)
	for len(codes) < p.batchSize {
		code, err := codegen.GenerateFormattedCode()
		if err != nil {
			return nil, err
		}
		canonical := codegen.Canonicalize(code)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		codes = append(codes, code)
	}

	digests := make([]string, len(codes))
	for i, code := range codes {
		digests[i] = p.hasher.Hash(userID, purpose, code)
	}
	payload, err := json.Marshal(digests)
	if err != nil {
		return nil, err
	}

	if err := p.store.Set(ctx, p.key(userID, purpose), string(payload)); err != nil {
		p.logger.ErrorContext(ctx, "recovery codes save failed", "user_id", userID, "purpose", purpose, "error", err)
		return nil, err
	}

	p.logger.InfoContext(ctx, "recovery codes generated", "user_id", userID, "purpose", purpose, "count", len(codes))
	return codes, nil
}

var errMalformedRecovery = errors.New("malformed recovery code record")

// Validate consumes code if it belongs to the current batch. Exactly the
// matching entry is removed; the rest of the batch stays valid.
func (p *RecoveryProvider) Validate(ctx context.Context, purpose, userID, code string) (Result, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return Result{}, err
	}
	if codegen.Canonicalize(code) == "" {
		return Invalid(ReasonEmptyCode), nil
	}

	var res Result
	err := p.store.Update(ctx, p.key(userID, purpose), func(current string, exists bool) (string, tokenstore.Op, error) {
		if !exists {
			res = Invalid(ReasonNoCodes)
			return "", tokenstore.OpKeep, nil
		}

		digests, err := decodeRecovery(current)
		if err != nil {
			res = Invalid(ReasonMalformed)
			return "", tokenstore.OpKeep, nil
		}
		if len(digests) == 0 {
			res = Invalid(ReasonNoCodes)
			return "", tokenstore.OpKeep, nil
		}

		idx := -1
		for i, digest := range digests {
			if p.hasher.Verify(userID, purpose, code, digest) {
				idx = i
				break
			}
		}
		if idx < 0 {
			res = Invalid(ReasonMismatch)
			return "", tokenstore.OpKeep, nil
		}

		remaining := make([]string, 0, len(digests)-1)
		remaining = append(remaining, digests[:idx]...)
		remaining = append(remaining, digests[idx+1:]...)
		next, err := json.Marshal(remaining)
		if err != nil {
			return "", tokenstore.OpKeep, err
		}
		res = Valid()
		return string(next), tokenstore.OpPut, nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "recovery code validation store failure", "user_id", userID, "purpose", purpose, "error", err)
		return Result{}, err
	}

	switch {
	case res.OK:
		p.logger.InfoContext(ctx, "recovery code consumed", "user_id", userID, "purpose", purpose)
	case res.Reason == ReasonMalformed:
		p.logger.ErrorContext(ctx, "recovery code record unreadable", "user_id", userID, "purpose", purpose)
	}
	return res, nil
}

// CountValid returns how many codes of the current batch are unused.
func (p *RecoveryProvider) CountValid(ctx context.Context, userID, purpose string) (int, error) {
	if err := checkArgs(userID, purpose); err != nil {
		return 0, err
	}
	current, ok, err := p.store.Get(ctx, p.key(userID, purpose))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	digests, err := decodeRecovery(current)
	if err != nil {
		return 0, err
	}
	return len(digests), nil
}

// Remove deletes the whole batch.
func (p *RecoveryProvider) Remove(ctx context.Context, userID, purpose string) error {
	if err := checkArgs(userID, purpose); err != nil {
		return err
	}
	if err := p.store.Remove(ctx, p.key(userID, purpose)); err != nil {
		p.logger.ErrorContext(ctx, "recovery codes removal failed", "user_id", userID, "purpose", purpose, "error", err)
		return err
	}
	p.logger.InfoContext(ctx, "recovery codes removed", "user_id", userID, "purpose", purpose)
	return nil
}

func decodeRecovery(payload string) ([]string, error) {
	var digests []string
	if err := json.Unmarshal([]byte(payload), &digests); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedRecovery, err)
	}
	return digests, nil
}
