package goMFA

import (
	"errors"

	"github.com/MrEthical07/goMFA/mfa"
)

var (
	// ErrInvalidInput is an exported constant or variable used by the MFA engine.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLoginFailed is returned for an unknown user and for a wrong password alike.
	ErrLoginFailed = errors.New("login failed")
	// ErrLockedOut is returned while the user's LockoutEnd lies in the future.
	ErrLockedOut = errors.New("account locked out")
	// ErrInvalidCode is an exported constant or variable used by the MFA engine.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrMethodNotSupported is an exported constant or variable used by the MFA engine.
	ErrMethodNotSupported = mfa.ErrMethodNotSupported
	// ErrMethodNotEnabled is returned when a challenge does not offer the chosen method.
	ErrMethodNotEnabled = errors.New("two-factor method not enabled for this user")
	// ErrChallengeNotFound is an exported constant or variable used by the MFA engine.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the MFA engine.
	ErrChallengeAttemptsExceeded = errors.New("mfa challenge attempts exceeded")
	// ErrMFANotEnabled is returned by account actions that need an enabled second factor.
	ErrMFANotEnabled = errors.New("two-factor authentication not enabled")
	// ErrConfirmationFailed is returned when a sensitive action's second-factor check fails.
	ErrConfirmationFailed = errors.New("second-factor confirmation failed")
	// ErrUnknownAction is an exported constant or variable used by the MFA engine.
	ErrUnknownAction = errors.New("unknown confirmed action")

	// ErrSessionInvalid is an exported constant or variable used by the MFA engine.
	ErrSessionInvalid = errors.New("session token invalid")
	// ErrSessionRevoked is returned for a correctly signed token whose session was deleted.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrMFAAlreadyEnabled is returned when enrolling a method that is
	// already on.
	ErrMFAAlreadyEnabled = errors.New("two-factor method already enabled")

	// ErrUserNotFound must be returned by UserRepository implementations for missing users.
	ErrUserNotFound = errors.New("user not found")
	// ErrDeliveryFailed wraps EmailSender failures.
	ErrDeliveryFailed = errors.New("email code delivery failed")
	// ErrTooManyCodeRequests is returned when a user asked for more email
	// codes than EmailCode.MaxSends allows in one window.
	ErrTooManyCodeRequests = errors.New("too many code requests")
	// ErrStoreUnavailable wraps persistence faults.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the MFA engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
