package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Provider names used as the second component of token store keys.
const (
	NameTOTP     = "TotpApp"
	NameEmail    = "EmailCode"
	NameRecovery = "RecoveryCodes"
)

// Reason explains why a validation did not succeed. It is meant for logs and
// audit records, never for end users.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotConfigured Reason = "not_configured"
	ReasonNotRequested  Reason = "not_requested"
	ReasonNoCodes       Reason = "no_codes"
	ReasonExpired       Reason = "expired"
	ReasonMismatch      Reason = "mismatch"
	ReasonMalformed     Reason = "malformed"
	ReasonReplay        Reason = "replay"
	ReasonProtection    Reason = "protection_failure"
	ReasonEmptyCode     Reason = "empty_code"
)

// Result is the outcome of a validation. Expected negative outcomes are
// reported here; errors are reserved for store and configuration faults.
type Result struct {
	OK     bool
	Reason Reason
}

// Valid returns a successful Result.
func Valid() Result { return Result{OK: true} }

// Invalid returns a failed Result carrying reason.
func Invalid(reason Reason) Result { return Result{Reason: reason} }

var (
	// ErrNilStore is returned by constructors when no token store is given.
	ErrNilStore = errors.New("providers: token store is nil")
	// ErrNilHasher is returned by constructors when no code hasher is given.
	ErrNilHasher = errors.New("providers: code hasher is nil")
	// ErrEmptyUser is returned when an operation is called without a user ID.
	ErrEmptyUser = errors.New("providers: user id is empty")
	// ErrEmptyPurpose is returned when an operation is called without a purpose.
	ErrEmptyPurpose = errors.New("providers: purpose is empty")
)

// Provider is the contract shared by every second-factor token provider.
// Generation differs per provider (a secret, a code, a batch of codes), so it
// lives on the concrete types.
type Provider interface {
	Name() string
	CanGenerate(ctx context.Context, userID string) bool
	Validate(ctx context.Context, purpose, userID, code string) (Result, error)
	Remove(ctx context.Context, userID, purpose string) error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkArgs(userID, purpose string) error {
	if userID == "" {
		return ErrEmptyUser
	}
	if purpose == "" {
		return ErrEmptyPurpose
	}
	return nil
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
