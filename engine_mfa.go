package goMFA

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goMFA/internal/rate"
)

// BeginEnableApp issues a new authenticator secret for userID and returns it
// once, with its otpauth:// URI and (when TOTP.QRCodeSize > 0) a PNG QR
// code. MFA stays off until ConfirmEnableApp accepts a code. Calling it
// again replaces the pending secret. Users with MFA already on get
// ErrMFAAlreadyEnabled; they must disable it first.
func (e *Engine) BeginEnableApp(ctx context.Context, userID string) (*AppEnrollment, error) {
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		e.emitAudit(ctx, auditEventAppSetupRequested, false, user.ID, "", ErrMFAAlreadyEnabled, nil)
		return nil, ErrMFAAlreadyEnabled
	}
	account := user.Email
	if account == "" {
		account = user.Username
	}

	enr, err := e.coordinator.BeginApp(ctx, user.ID, account)
	if err != nil {
		return nil, fmt.Errorf("%w: begin app enrollment: %v", ErrStoreUnavailable, err)
	}
	out := &AppEnrollment{Secret: enr.Secret, URI: enr.URI}
	if size := e.config.TOTP.QRCodeSize; size > 0 {
		png, err := enr.QRCodePNG(size)
		if err != nil {
			return nil, fmt.Errorf("render provisioning qr code: %w", err)
		}
		out.QRCode = png
	}

	e.metricInc(MetricEnrollmentStarted)
	e.emitAudit(ctx, auditEventAppSetupRequested, true, user.ID, "", nil, nil)
	return out, nil
}

// ConfirmEnableApp verifies an authenticator code against the pending
// secret and turns MFA on. When the user holds no recovery codes a fresh
// batch is generated and returned; otherwise the result is nil.
func (e *Engine) ConfirmEnableApp(ctx context.Context, userID, code string) ([]string, error) {
	return e.confirmEnable(ctx, userID, MethodApp, code, auditEventAppEnabled, appEnrolled, e.coordinator.EnableApp)
}

// BeginEnableEmail emails a code to userID's address. Email two-factor is
// turned on by ConfirmEnableEmail. Users with email two-factor already on
// get ErrMFAAlreadyEnabled.
func (e *Engine) BeginEnableEmail(ctx context.Context, userID string) (time.Time, error) {
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if emailEnrolled(user) {
		e.emitAudit(ctx, auditEventEmailSetupRequested, false, user.ID, "", ErrMFAAlreadyEnabled, nil)
		return time.Time{}, ErrMFAAlreadyEnabled
	}
	expiresAt, err := e.deliverEmailCode(ctx, user.ID)
	if err != nil {
		return time.Time{}, err
	}
	e.metricInc(MetricEnrollmentStarted)
	e.emitAudit(ctx, auditEventEmailSetupRequested, true, userID, "", nil, nil)
	return expiresAt, nil
}

// ConfirmEnableEmail verifies the emailed code and turns on email
// two-factor (and MFA). Recovery codes are handled as in ConfirmEnableApp.
func (e *Engine) ConfirmEnableEmail(ctx context.Context, userID, code string) ([]string, error) {
	return e.confirmEnable(ctx, userID, MethodEmail, code, auditEventEmailEnabled, emailEnrolled, e.coordinator.EnableEmail)
}

// SendEmailCode emails a fresh code to userID, replacing any pending one.
// It is how an email-only user obtains a code for ConfirmAction.
func (e *Engine) SendEmailCode(ctx context.Context, userID string) (time.Time, error) {
	return e.deliverEmailCode(ctx, userID)
}

// ConfirmAction checks a fresh second-factor code before a sensitive
// account action. The user must have MFA enabled and conf.Method must be
// one of their allowed methods.
//
// ConfirmAction may return ErrUnknownAction, ErrMFANotEnabled,
// ErrMethodNotEnabled or ErrConfirmationFailed.
func (e *Engine) ConfirmAction(ctx context.Context, userID string, action Action, conf Confirmation) error {
	if !action.valid() {
		return ErrUnknownAction
	}
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrMFANotEnabled
	}
	if conf.Code == "" {
		return ErrInvalidInput
	}

	methods, err := e.coordinator.AllowedMethods(ctx, user.ID, user.EmailTwoFactorEnabled)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	allowed := false
	for _, m := range methods {
		if m == conf.Method {
			allowed = true
			break
		}
	}
	meta := func() map[string]string {
		return map[string]string{"method": conf.Method.String(), "action": string(action)}
	}
	if !allowed {
		e.emitAudit(ctx, auditEventConfirmationFailure, false, user.ID, "", ErrMethodNotEnabled, meta)
		return ErrMethodNotEnabled
	}

	res, err := e.coordinator.VerifyTwoFactor(ctx, user.ID, conf.Method, conf.Code)
	if err != nil {
		return fmt.Errorf("%w: verify code: %v", ErrStoreUnavailable, err)
	}
	if !res.OK {
		e.metricInc(MetricConfirmationFailure)
		e.emitAudit(ctx, auditEventConfirmationFailure, false, user.ID, "", ErrConfirmationFailed, meta)
		return ErrConfirmationFailed
	}
	if conf.Method == MethodRecovery {
		e.metricInc(MetricRecoveryCodeUsed)
	}
	e.emitAudit(ctx, auditEventConfirmationSucceeded, true, user.ID, "", nil, meta)
	return nil
}

// DisableMFA turns MFA off for userID after a confirmed second factor and
// removes every second-factor artifact: recovery codes, the authenticator
// secret, any pending email code and all remembered devices.
func (e *Engine) DisableMFA(ctx context.Context, userID string, conf Confirmation) error {
	if err := e.ConfirmAction(ctx, userID, ActionDisableMFA, conf); err != nil {
		return err
	}
	if err := e.coordinator.DisableAll(ctx, userID); err != nil {
		e.emitAudit(ctx, auditEventMFADisabled, false, userID, "", ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, "", nil, nil)
	return nil
}

// GenerateRecoveryCodes replaces userID's recovery codes after a confirmed
// second factor. Codes from the previous batch stop working.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, userID string, conf Confirmation) ([]string, error) {
	if err := e.ConfirmAction(ctx, userID, ActionCreateRecoveryCodes, conf); err != nil {
		return nil, err
	}
	return e.generateRecoveryCodes(ctx, userID)
}

// RemoveRecoveryCodes deletes userID's recovery codes after a confirmed
// second factor.
func (e *Engine) RemoveRecoveryCodes(ctx context.Context, userID string, conf Confirmation) error {
	if err := e.ConfirmAction(ctx, userID, ActionRemoveRecoveryCodes, conf); err != nil {
		return err
	}
	if err := e.coordinator.RemoveRecoveryCodes(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventRecoveryRemoved, true, userID, "", nil, nil)
	return nil
}

// CountRecoveryCodes returns how many unused recovery codes userID holds.
func (e *Engine) CountRecoveryCodes(ctx context.Context, userID string) (int, error) {
	if e == nil || e.coordinator == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrInvalidInput
	}
	n, err := e.coordinator.CountRecoveryCodes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (e *Engine) confirmEnable(
	ctx context.Context,
	userID string,
	method Method,
	code string,
	event string,
	enrolled func(UserRecord) bool,
	enable func(context.Context, string) error,
) ([]string, error) {
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enrolled(user) {
		e.emitAudit(ctx, event, false, user.ID, "", ErrMFAAlreadyEnabled, nil)
		return nil, ErrMFAAlreadyEnabled
	}
	if code == "" {
		return nil, ErrInvalidInput
	}
	meta := func() map[string]string { return map[string]string{"method": method.String()} }

	res, err := e.coordinator.VerifyTwoFactor(ctx, user.ID, method, code)
	if err != nil {
		return nil, fmt.Errorf("%w: verify code: %v", ErrStoreUnavailable, err)
	}
	if !res.OK {
		e.emitAudit(ctx, event, false, user.ID, "", ErrInvalidCode, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": string(res.Reason)}
		})
		return nil, ErrInvalidCode
	}
	if err := enable(ctx, user.ID); err != nil {
		e.emitAudit(ctx, event, false, user.ID, "", ErrStoreUnavailable, meta)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, event, true, user.ID, "", nil, meta)
	if method == MethodEmail {
		if err := e.sendLimit.Reset(ctx, user.ID); err != nil {
			e.logger.WarnContext(ctx, "goMFA: send counter reset failed", "user_id", user.ID, "error", err)
		}
	}

	remaining, err := e.coordinator.CountRecoveryCodes(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining > 0 {
		return nil, nil
	}
	return e.generateRecoveryCodes(ctx, user.ID)
}

func (e *Engine) generateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := e.coordinator.GenerateRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricRecoveryCodesGenerated)
	e.emitAudit(ctx, auditEventRecoveryGenerated, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(len(codes))}
	})
	return codes, nil
}

func (e *Engine) deliverEmailCode(ctx context.Context, userID string) (time.Time, error) {
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if e.sender == nil {
		return time.Time{}, fmt.Errorf("%w: no email sender configured", ErrDeliveryFailed)
	}
	if user.Email == "" {
		return time.Time{}, fmt.Errorf("%w: user has no email address", ErrInvalidInput)
	}
	if err := e.sendLimit.AllowSend(ctx, user.ID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricEmailCodeThrottled)
			e.emitAudit(ctx, auditEventEmailCodeSent, false, user.ID, "", ErrTooManyCodeRequests, nil)
			return time.Time{}, ErrTooManyCodeRequests
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, err := e.coordinator.SendEmailCode(ctx, user.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: generate email code: %v", ErrStoreUnavailable, err)
	}
	if err := e.sender.SendTwoFactorCode(ctx, user.Email, code.Code, code.ExpiresAt); err != nil {
		e.logger.ErrorContext(ctx, "goMFA: email code delivery failed", "user_id", user.ID, "error", err)
		e.emitAudit(ctx, auditEventEmailCodeSent, false, user.ID, "", ErrDeliveryFailed, nil)
		return time.Time{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.metricInc(MetricEmailCodeSent)
	e.emitAudit(ctx, auditEventEmailCodeSent, true, user.ID, "", nil, nil)
	return code.ExpiresAt, nil
}

func (e *Engine) findUser(ctx context.Context, userID string) (UserRecord, error) {
	if e == nil || e.users == nil || e.coordinator == nil {
		return UserRecord{}, ErrEngineNotReady
	}
	if userID == "" {
		return UserRecord{}, ErrInvalidInput
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: find user: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

// An app secret can only be enrolled while MFA is off, so a live
// authenticator is never replaced without the disable confirmation.
func appEnrolled(u UserRecord) bool { return u.TwoFactorEnabled }

func emailEnrolled(u UserRecord) bool { return u.EmailTwoFactorEnabled }
