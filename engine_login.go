package goMFA

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goMFA/internal"
	"github.com/MrEthical07/goMFA/internal/flows"
	"github.com/MrEthical07/goMFA/internal/stores"
	"github.com/MrEthical07/goMFA/mfa"
	"github.com/MrEthical07/goMFA/session"
	"github.com/google/uuid"
)

// Login runs the password step of a sign-in.
//
// An unknown identifier and a wrong password both return ErrLoginFailed
// with a nil result. A user whose LockoutEnd lies in the future gets
// ErrLockedOut and a StateLockedOut result even with the right password.
// A user with MFA enabled gets a StateMFAPending result unless
// req.DeviceToken is a live remembered device. A req.Kind outside the
// defined kinds is ErrInvalidInput.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*SignInResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: session kind %d", ErrInvalidInput, req.Kind)
	}
	res, err := flows.RunLogin(ctx, flows.LoginInput{
		Identifier:  req.Identifier,
		Password:    req.Password,
		Kind:        uint8(req.Kind),
		DeviceToken: req.DeviceToken,
	}, e.signInDeps())
	return toSignInResult(res), err
}

// VerifySecondFactor completes the challenge returned by Login with one
// code. On success the session carries mfa_enabled=true and amr=[method];
// when remember is true (and remembered devices are enabled) a device
// token is returned as well.
//
// A wrong code returns ErrInvalidCode together with a StateMFAPending
// result for the same challenge, until the challenge attempt budget or the
// user lockout threshold is reached.
func (e *Engine) VerifySecondFactor(ctx context.Context, challengeID string, method Method, code string, remember bool) (*SignInResult, error) {
	res, err := flows.RunVerifySecondFactor(ctx, flows.SecondFactorInput{
		ChallengeID:    challengeID,
		Method:         method,
		Code:           code,
		RememberDevice: remember,
	}, e.signInDeps())
	return toSignInResult(res), err
}

// AbandonChallenge discards a pending challenge, as on logout while the
// second factor is still outstanding.
func (e *Engine) AbandonChallenge(ctx context.Context, challengeID string) error {
	return flows.RunAbandonChallenge(ctx, challengeID, e.signInDeps())
}

// SendChallengeEmailCode emails a code for a pending challenge that offers
// MethodEmail. It returns the code's expiry.
func (e *Engine) SendChallengeEmailCode(ctx context.Context, challengeID string) (time.Time, error) {
	if e == nil || e.challenges == nil {
		return time.Time{}, ErrEngineNotReady
	}
	if challengeID == "" {
		return time.Time{}, ErrInvalidInput
	}
	record, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		if isChallengeMissing(err) {
			return time.Time{}, ErrChallengeNotFound
		}
		return time.Time{}, fmt.Errorf("%w: load challenge: %v", ErrStoreUnavailable, err)
	}
	if !record.Allows(mfa.MethodEmail) {
		return time.Time{}, ErrMethodNotEnabled
	}
	return e.deliverEmailCode(ctx, record.UserID)
}

// ValidateSession verifies the token and requires its session to still be
// registered. Tokens of revoked sessions fail with ErrSessionRevoked.
// Whether MFA was satisfied is reported by SessionInfo.SecondFactorSatisfied.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	res, err := flows.RunValidateSession(ctx, token, e.sessionDeps())
	if err != nil {
		return nil, err
	}
	kind, _ := ParseSessionKind(res.Claims.Kind)
	info := &SessionInfo{
		UserID:     res.Session.UserID,
		SessionID:  res.Session.SessionID,
		Kind:       kind,
		MFAEnabled: res.Claims.MFAEnabled,
		AMR:        append([]string(nil), res.Claims.AMR...),
		ExpiresAt:  time.Unix(res.Session.ExpiresAt, 0),
	}
	if res.Claims.IssuedAt != nil {
		info.IssuedAt = res.Claims.IssuedAt.Time
	}
	return info, nil
}

// Logout revokes the session behind token. Revoking an already revoked
// session succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	return flows.RunLogout(ctx, token, e.sessionDeps())
}

// LogoutAll revokes every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	return flows.RunLogoutAll(ctx, userID, e.sessionDeps())
}

// ActiveSessions lists the IDs of userID's sessions that are still stored,
// sorted.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	ids, err := e.sessions.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// ForgetDevices drops every remembered device of userID, so the next
// sign-in asks for a second factor again.
func (e *Engine) ForgetDevices(ctx context.Context, userID string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrInvalidInput
	}
	if err := e.devices.Forget(ctx, userID); err != nil {
		e.emitAudit(ctx, auditEventDevicesForgotten, false, userID, "", ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventDevicesForgotten, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) signInDeps() flows.SignInDeps {
	if e == nil {
		return flows.SignInDeps{Errors: signInErrors()}
	}
	return flows.SignInDeps{
		LockoutEnabled:        e.config.Lockout.Enabled,
		LockoutDuration:       e.config.Lockout.Duration,
		ChallengeTTL:          e.config.Challenge.TTL,
		ChallengeMaxAttempts:  e.config.Challenge.MaxAttempts,
		RememberDeviceEnabled: e.config.RememberDevice.Enabled,
		Now:                   e.now,

		FindUserByName: func(ctx context.Context, identifier string) (flows.SignInUser, error) {
			u, err := e.users.FindByName(ctx, identifier)
			return toFlowUser(u), err
		},
		FindUserByID: func(ctx context.Context, userID string) (flows.SignInUser, error) {
			u, err := e.users.FindByID(ctx, userID)
			return toFlowUser(u), err
		},
		IsUserNotFound: func(err error) bool { return errors.Is(err, ErrUserNotFound) },
		VerifyPassword: e.passwords.Verify,
		DummyHash:      e.passwords.DummyHash,
		SetLockoutEnd:  e.users.SetLockoutEnd,
		SetLastLogin:   e.users.SetLastLogin,

		RecordFailure: e.lockout.RecordFailure,
		ResetFailures: e.lockout.Reset,

		AllowedMethods: e.coordinator.AllowedMethods,
		VerifyCode:     e.coordinator.VerifyTwoFactor,

		NewChallengeID:         internal.NewChallengeID,
		SaveChallenge:          e.saveChallenge,
		GetChallenge:           e.loadChallenge,
		DeleteChallenge:        e.challenges.Delete,
		RecordChallengeFailure: e.challenges.RecordFailure,
		IsChallengeMissing:     isChallengeMissing,

		CheckDevice: func(ctx context.Context, userID, token string) (bool, error) {
			return e.devices.Check(ctx, userID, internal.HashDeviceToken(token))
		},
		RememberDevice: e.rememberDevice,
		IssueSession:   e.issueSession,

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		ObserveLatency: func(d time.Duration) {
			e.metrics.Observe(MetricSignInLatency, d)
		},
		EmitAudit: e.emitAudit,
		Warn:      e.logger.Warn,

		Metrics: flows.SignInMetrics{
			LoginSuccess:        int(MetricLoginSuccess),
			LoginFailure:        int(MetricLoginFailure),
			LoginLockedOut:      int(MetricLoginLockedOut),
			LockoutTriggered:    int(MetricLockoutTriggered),
			ChallengeIssued:     int(MetricMFAChallengeIssued),
			MFASuccess:          int(MetricMFASuccess),
			MFAFailure:          int(MetricMFAFailure),
			MFAAttemptsExceeded: int(MetricMFAAttemptsExceeded),
			DeviceRemembered:    int(MetricDeviceRemembered),
			DeviceSkippedMFA:    int(MetricDeviceSkippedMFA),
			RecoveryCodeUsed:    int(MetricRecoveryCodeUsed),
			ChallengeAbandoned:  int(MetricChallengeAbandoned),
		},
		Events: flows.SignInEvents{
			LoginSuccess:        auditEventLoginSuccess,
			LoginFailure:        auditEventLoginFailure,
			LoginLockedOut:      auditEventLoginLockedOut,
			LockoutTriggered:    auditEventLockoutTriggered,
			MFARequired:         auditEventMFARequired,
			MFASuccess:          auditEventMFASuccess,
			MFAFailure:          auditEventMFAFailure,
			MFAAttemptsExceeded: auditEventMFAAttemptsExceeded,
			DeviceRemembered:    auditEventDeviceRemembered,
			ChallengeAbandoned:  auditEventChallengeAbandoned,
		},
		Errors: signInErrors(),
	}
}

func signInErrors() flows.SignInErrors {
	return flows.SignInErrors{
		EngineNotReady:            ErrEngineNotReady,
		InvalidInput:              ErrInvalidInput,
		LoginFailed:               ErrLoginFailed,
		LockedOut:                 ErrLockedOut,
		InvalidCode:               ErrInvalidCode,
		MethodNotEnabled:          ErrMethodNotEnabled,
		ChallengeNotFound:         ErrChallengeNotFound,
		ChallengeAttemptsExceeded: ErrChallengeAttemptsExceeded,
		StoreUnavailable:          ErrStoreUnavailable,
	}
}

func (e *Engine) sessionDeps() flows.SessionDeps {
	errs := flows.SessionErrors{
		EngineNotReady:   ErrEngineNotReady,
		InvalidInput:     ErrInvalidInput,
		SessionInvalid:   ErrSessionInvalid,
		SessionRevoked:   ErrSessionRevoked,
		StoreUnavailable: ErrStoreUnavailable,
	}
	if e == nil {
		return flows.SessionDeps{Errors: errs}
	}
	return flows.SessionDeps{
		ParseToken:       e.tokens.Parse,
		GetSession:       e.sessions.Get,
		DeleteSession:    e.sessions.Delete,
		DeleteAllForUser: e.sessions.DeleteAllForUser,
		IsSessionMissing: func(err error) bool { return errors.Is(err, session.ErrSessionNotFound) },
		MetricInc:        func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:        e.emitAudit,
		Metrics: flows.SessionMetrics{
			SessionRevoked: int(MetricSessionRevoked),
		},
		Events: flows.SessionEvents{
			Logout:    auditEventLogoutSession,
			LogoutAll: auditEventLogoutAll,
		},
		Errors: errs,
	}
}

// issueSession registers the session before signing its token. Either
// failure aborts the sign-in.
func (e *Engine) issueSession(ctx context.Context, user flows.SignInUser, kind uint8, amr []string) (*flows.IssuedSession, error) {
	sk := SessionKind(kind)
	ttl := e.sessionTTL(sk)
	now := e.now()
	expiresAt := now.Add(ttl)
	sid := uuid.NewString()

	rec := &session.Session{
		SessionID:  sid,
		UserID:     user.UserID,
		Kind:       session.Kind(kind),
		MFAEnabled: user.TwoFactorEnabled,
		AMR:        amr,
		CreatedAt:  now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, rec, ttl); err != nil {
		return nil, fmt.Errorf("%w: save session: %v", ErrStoreUnavailable, err)
	}

	token, err := e.tokens.Issue(user.UserID, sid, sk.String(), user.TwoFactorEnabled, amr, now, expiresAt)
	if err != nil {
		if _, delErr := e.sessions.Delete(ctx, sid); delErr != nil {
			e.logger.Warn("goMFA: orphan session cleanup failed", "session_id", sid, "error", delErr)
		}
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	e.metricInc(MetricSessionCreated)

	return &flows.IssuedSession{
		SessionID:  sid,
		Token:      token,
		Kind:       kind,
		MFAEnabled: user.TwoFactorEnabled,
		AMR:        amr,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}, nil
}

func (e *Engine) rememberDevice(ctx context.Context, userID string) (string, error) {
	token, err := internal.NewDeviceToken()
	if err != nil {
		return "", err
	}
	if err := e.devices.Remember(ctx, userID, internal.HashDeviceToken(token), e.config.RememberDevice.TTL); err != nil {
		return "", err
	}
	return token, nil
}

func (e *Engine) saveChallenge(ctx context.Context, id string, rec *flows.ChallengeRecord, ttl time.Duration) error {
	var mask uint8
	for _, m := range rec.Methods {
		mask |= 1 << uint8(m)
	}
	return e.challenges.Save(ctx, id, &stores.Challenge{
		UserID:    rec.UserID,
		Kind:      rec.Kind,
		Methods:   mask,
		ExpiresAt: rec.ExpiresAt.Unix(),
		Attempts:  uint16(rec.Attempts),
	}, ttl)
}

func (e *Engine) loadChallenge(ctx context.Context, id string) (*flows.ChallengeRecord, error) {
	c, err := e.challenges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := &flows.ChallengeRecord{
		UserID:    c.UserID,
		Kind:      c.Kind,
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
		Attempts:  int(c.Attempts),
	}
	for _, m := range []mfa.Method{mfa.MethodApp, mfa.MethodEmail, mfa.MethodRecovery} {
		if c.Methods&(1<<uint8(m)) != 0 {
			rec.Methods = append(rec.Methods, m)
		}
	}
	return rec, nil
}

func isChallengeMissing(err error) bool {
	return errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired)
}

func toFlowUser(u UserRecord) flows.SignInUser {
	return flows.SignInUser{
		UserID:                u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		PasswordHash:          u.PasswordHash,
		TwoFactorEnabled:      u.TwoFactorEnabled,
		EmailTwoFactorEnabled: u.EmailTwoFactorEnabled,
		LockoutEnd:            u.LockoutEnd,
	}
}

func toSignInResult(res *flows.SignInResult) *SignInResult {
	if res == nil {
		return nil
	}
	out := &SignInResult{
		State:              res.State,
		UserID:             res.UserID,
		ChallengeID:        res.ChallengeID,
		Methods:            append([]Method(nil), res.Methods...),
		ChallengeExpiresAt: res.ChallengeExpiresAt,
		LockoutEnd:         res.LockoutEnd,
		DeviceToken:        res.DeviceToken,
	}
	if s := res.Session; s != nil {
		out.Session = &Session{
			ID:         s.SessionID,
			Token:      s.Token,
			Kind:       SessionKind(s.Kind),
			MFAEnabled: s.MFAEnabled,
			AMR:        append([]string(nil), s.AMR...),
			IssuedAt:   s.IssuedAt,
			ExpiresAt:  s.ExpiresAt,
		}
	}
	return out
}
