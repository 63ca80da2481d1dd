package goMFA

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/internal/flows"
	"github.com/MrEthical07/goMFA/mfa"
	"github.com/MrEthical07/goMFA/session"
)

// UserRecord is the account record exchanged with [UserRepository]. The
// failed-attempt counter is not part of it; it lives in Redis.
type UserRecord struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	TwoFactorEnabled      bool
	EmailTwoFactorEnabled bool
	LockoutEnd            time.Time
	LastLoginAt           time.Time
}

// UserRepository is the persistence contract the engine needs for users.
// Lookups of missing users must return an error matching [ErrUserNotFound].
//
// FindByName matches the identifier against the username or the email.
// A zero time passed to SetLockoutEnd clears the lockout.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (UserRecord, error)
	FindByName(ctx context.Context, identifier string) (UserRecord, error)
	Update(ctx context.Context, user UserRecord) error
	SetLockoutEnd(ctx context.Context, userID string, end time.Time) error
	SetLastLogin(ctx context.Context, userID string, at time.Time) error
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
	SetEmailTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
}

// EmailSender delivers email two-factor codes. Delivery itself is the host
// application's concern; the engine only hands over the plaintext code.
type EmailSender interface {
	SendTwoFactorCode(ctx context.Context, to, code string, expiresAt time.Time) error
}

// Method identifies a second-factor method.
type Method = mfa.Method

const (
	// MethodApp is a TOTP authenticator app code.
	MethodApp = mfa.MethodApp
	// MethodEmail is a code delivered by email.
	MethodEmail = mfa.MethodEmail
	// MethodRecovery is a single-use recovery code.
	MethodRecovery = mfa.MethodRecovery
)

// ParseMethod maps "app", "email" or "recovery" to a [Method].
func ParseMethod(s string) (Method, error) {
	return mfa.ParseMethod(s)
}

// SignInState is the position of a sign-in attempt in the state machine.
type SignInState = flows.State

const (
	StateAnonymous       = flows.StateAnonymous
	StatePasswordPending = flows.StatePasswordPending
	StateMFAPending      = flows.StateMFAPending
	StateAuthenticated   = flows.StateAuthenticated
	StateLockedOut       = flows.StateLockedOut
)

// AMRDevice is the amr entry of sessions whose second factor was a
// remembered device.
const AMRDevice = flows.AMRDevice

// SessionKind selects the lifetime of an issued session.
type SessionKind uint8

const (
	// SessionDefault uses Config.Session.DefaultTTL.
	SessionDefault SessionKind = SessionKind(session.KindDefault)
	// SessionPersistent uses Config.Session.PersistentTTL ("remember me").
	SessionPersistent SessionKind = SessionKind(session.KindPersistent)
	// SessionAPI uses Config.Session.APITTL.
	SessionAPI SessionKind = SessionKind(session.KindAPI)
)

func (k SessionKind) String() string {
	switch k {
	case SessionDefault:
		return "default"
	case SessionPersistent:
		return "persistent"
	case SessionAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Valid reports whether k is SessionDefault, SessionPersistent or
// SessionAPI.
func (k SessionKind) Valid() bool {
	return session.Kind(k).Valid()
}

// ParseSessionKind maps "default", "persistent" or "api" to a SessionKind.
// The empty string is SessionDefault.
func ParseSessionKind(s string) (SessionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return SessionDefault, nil
	case "persistent":
		return SessionPersistent, nil
	case "api":
		return SessionAPI, nil
	default:
		return 0, fmt.Errorf("%w: session kind %q", ErrInvalidInput, s)
	}
}

// LoginRequest is the password step of a sign-in.
type LoginRequest struct {
	Identifier string
	Password   string
	Kind       SessionKind
	// DeviceToken is a token previously returned in SignInResult.DeviceToken.
	DeviceToken string
}

// Session is an issued session: the signed token plus what it asserts.
type Session struct {
	ID         string
	Token      string
	Kind       SessionKind
	MFAEnabled bool
	AMR        []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SignInResult reports where a sign-in attempt ended.
//
// StateAuthenticated carries Session (and DeviceToken when a device was
// remembered). StateMFAPending carries ChallengeID, Methods and
// ChallengeExpiresAt. StateLockedOut carries LockoutEnd.
type SignInResult struct {
	State              SignInState
	UserID             string
	Session            *Session
	ChallengeID        string
	Methods            []Method
	ChallengeExpiresAt time.Time
	LockoutEnd         time.Time
	DeviceToken        string
}

// SessionInfo is a validated session.
type SessionInfo struct {
	UserID     string
	SessionID  string
	Kind       SessionKind
	MFAEnabled bool
	AMR        []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SecondFactorSatisfied reports whether the session may be used: either the
// user has no MFA or a second factor is recorded in AMR.
func (s *SessionInfo) SecondFactorSatisfied() bool {
	return s != nil && (!s.MFAEnabled || len(s.AMR) > 0)
}

// AppEnrollment is the one-time view of a new authenticator secret.
type AppEnrollment struct {
	Secret string
	URI    string
	// QRCode is a PNG rendering of URI, empty when TOTP.QRCodeSize is 0.
	QRCode []byte
}

// Action names a sensitive account action that needs a fresh second-factor
// confirmation.
type Action string

const (
	ActionDisableMFA          Action = "disable2fa"
	ActionCreateRecoveryCodes Action = "create2faRecovery"
	ActionRemoveRecoveryCodes Action = "remove2faRecovery"
)

func (a Action) valid() bool {
	switch a {
	case ActionDisableMFA, ActionCreateRecoveryCodes, ActionRemoveRecoveryCodes:
		return true
	}
	return false
}

// Confirmation is the second-factor code that authorizes an [Action].
type Confirmation struct {
	Method Method
	Code   string
}
