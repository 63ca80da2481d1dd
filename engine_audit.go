package goMFA

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLockedOut        = "login_locked_out"
	auditEventLockoutTriggered      = "lockout_triggered"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventDeviceRemembered      = "device_remembered"
	auditEventDevicesForgotten      = "devices_forgotten"
	auditEventChallengeAbandoned    = "mfa_challenge_abandoned"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventAppSetupRequested     = "totp_setup_requested"
	auditEventAppEnabled            = "totp_enabled"
	auditEventEmailSetupRequested   = "email_2fa_setup_requested"
	auditEventEmailEnabled          = "email_2fa_enabled"
	auditEventEmailCodeSent         = "email_code_sent"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventRecoveryGenerated     = "recovery_codes_generated"
	auditEventRecoveryRemoved       = "recovery_codes_removed"
	auditEventConfirmationFailure   = "confirmation_failure"
	auditEventConfirmationSucceeded = "confirmation_success"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrLoginFailed        AuditErrorCode = "login_failed"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrMethodNotSupported AuditErrorCode = "method_not_supported"
	auditErrMethodNotEnabled   AuditErrorCode = "method_not_enabled"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrMFANotEnabled      AuditErrorCode = "mfa_not_enabled"
	auditErrAlreadyEnabled     AuditErrorCode = "already_enabled"
	auditErrConfirmationFailed AuditErrorCode = "confirmation_failed"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrEngineNotReady     AuditErrorCode = "engine_not_ready"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// criticalAuditEvent marks events that DropIfFull must not shed: every
// failed step and every change to a user's second factors or lockout.
func criticalAuditEvent(event AuditEvent) bool {
	if !event.Success {
		return true
	}
	switch event.EventType {
	case auditEventLockoutTriggered,
		auditEventAppEnabled,
		auditEventEmailEnabled,
		auditEventMFADisabled,
		auditEventRecoveryGenerated,
		auditEventRecoveryRemoved,
		auditEventDevicesForgotten,
		auditEventLogoutAll:
		return true
	}
	return false
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	method := metadata["method"]
	if method != "" {
		delete(metadata, "method")
		if len(metadata) == 0 {
			metadata = nil
		}
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Method:    method,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrLoginFailed):
		return auditErrLoginFailed
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrMethodNotSupported):
		return auditErrMethodNotSupported
	case errors.Is(err, ErrMethodNotEnabled):
		return auditErrMethodNotEnabled
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrMFANotEnabled):
		return auditErrMFANotEnabled
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrAlreadyEnabled
	case errors.Is(err, ErrConfirmationFailed):
		return auditErrConfirmationFailed
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrTooManyCodeRequests):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrEngineNotReady
	default:
		return auditErrInternal
	}
}
