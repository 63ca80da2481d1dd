package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/mfa"
	"github.com/MrEthical07/goMFA/providers"
)

// State is a sign-in state.
type State uint8

const (
	StateAnonymous State = iota
	StatePasswordPending
	StateMFAPending
	StateAuthenticated
	StateLockedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StatePasswordPending:
		return "password_pending"
	case StateMFAPending:
		return "mfa_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateLockedOut:
		return "locked_out"
	default:
		return "unknown"
	}
}

// AMRDevice is the amr value recorded when a remembered device stood in for
// the second factor.
const AMRDevice = "device"

// SignInUser is a flow-local user model.
type SignInUser struct {
	UserID                string
	Username              string
	Email                 string
	PasswordHash          string
	TwoFactorEnabled      bool
	EmailTwoFactorEnabled bool
	LockoutEnd            time.Time
}

// ChallengeRecord is a flow-local pending second-factor challenge.
type ChallengeRecord struct {
	UserID    string
	Kind      uint8
	Methods   []mfa.Method
	ExpiresAt time.Time
	Attempts  int
}

// Allows reports whether m may complete the challenge.
func (c *ChallengeRecord) Allows(m mfa.Method) bool {
	for _, allowed := range c.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// IssuedSession is what IssueSession returns after the session record was
// written and the token signed.
type IssuedSession struct {
	SessionID  string
	Token      string
	Kind       uint8
	MFAEnabled bool
	AMR        []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SignInResult is the flow-local sign-in response shape.
type SignInResult struct {
	State              State
	UserID             string
	Session            *IssuedSession
	ChallengeID        string
	Methods            []mfa.Method
	ChallengeExpiresAt time.Time
	LockoutEnd         time.Time
	DeviceToken        string
}

// LoginInput is the first sign-in step.
type LoginInput struct {
	Identifier  string
	Password    string
	Kind        uint8
	DeviceToken string
}

// SecondFactorInput completes a pending challenge.
type SecondFactorInput struct {
	ChallengeID    string
	Method         mfa.Method
	Code           string
	RememberDevice bool
}

// SignInMetrics carries metric IDs needed by sign-in flows.
type SignInMetrics struct {
	LoginSuccess        int
	LoginFailure        int
	LoginLockedOut      int
	LockoutTriggered    int
	ChallengeIssued     int
	MFASuccess          int
	MFAFailure          int
	MFAAttemptsExceeded int
	DeviceRemembered    int
	DeviceSkippedMFA    int
	RecoveryCodeUsed    int
	ChallengeAbandoned  int
}

// SignInEvents carries audit event names used by sign-in flows.
type SignInEvents struct {
	LoginSuccess        string
	LoginFailure        string
	LoginLockedOut      string
	LockoutTriggered    string
	MFARequired         string
	MFASuccess          string
	MFAFailure          string
	MFAAttemptsExceeded string
	DeviceRemembered    string
	ChallengeAbandoned  string
}

// SignInErrors carries host-level sentinel errors used by sign-in flows.
type SignInErrors struct {
	EngineNotReady            error
	InvalidInput              error
	LoginFailed               error
	LockedOut                 error
	InvalidCode               error
	MethodNotEnabled          error
	ChallengeNotFound         error
	ChallengeAttemptsExceeded error
	StoreUnavailable          error
}

// SignInDeps captures sign-in dependencies.
type SignInDeps struct {
	LockoutEnabled        bool
	LockoutDuration       time.Duration
	ChallengeTTL          time.Duration
	ChallengeMaxAttempts  int
	RememberDeviceEnabled bool
	Now                   func() time.Time

	FindUserByName func(context.Context, string) (SignInUser, error)
	FindUserByID   func(context.Context, string) (SignInUser, error)
	IsUserNotFound func(error) bool
	VerifyPassword func(password, encodedHash string) (bool, error)
	DummyHash      func() string
	SetLockoutEnd  func(context.Context, string, time.Time) error
	SetLastLogin   func(context.Context, string, time.Time) error

	RecordFailure func(context.Context, string) (bool, error)
	ResetFailures func(context.Context, string) error

	AllowedMethods func(ctx context.Context, userID string, emailEnabled bool) ([]mfa.Method, error)
	VerifyCode     func(context.Context, string, mfa.Method, string) (providers.Result, error)

	NewChallengeID         func() (string, error)
	SaveChallenge          func(context.Context, string, *ChallengeRecord, time.Duration) error
	GetChallenge           func(context.Context, string) (*ChallengeRecord, error)
	DeleteChallenge        func(context.Context, string) (bool, error)
	RecordChallengeFailure func(context.Context, string, int) (bool, error)
	IsChallengeMissing     func(error) bool

	CheckDevice    func(ctx context.Context, userID, deviceToken string) (bool, error)
	RememberDevice func(ctx context.Context, userID string) (string, error)

	IssueSession func(ctx context.Context, user SignInUser, kind uint8, amr []string) (*IssuedSession, error)

	MetricInc      func(int)
	ObserveLatency func(time.Duration)
	EmitAudit      func(ctx context.Context, event string, success bool, userID, sessionID string, err error, metadata func() map[string]string)
	Warn           func(string, ...any)

	Metrics SignInMetrics
	Events  SignInEvents
	Errors  SignInErrors
}

func (deps *SignInDeps) defaults() {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.IsChallengeMissing == nil {
		deps.IsChallengeMissing = func(error) bool { return false }
	}
}

func (deps *SignInDeps) ready() bool {
	return deps.FindUserByName != nil &&
		deps.FindUserByID != nil &&
		deps.VerifyPassword != nil &&
		deps.DummyHash != nil &&
		deps.SetLockoutEnd != nil &&
		deps.RecordFailure != nil &&
		deps.ResetFailures != nil &&
		deps.AllowedMethods != nil &&
		deps.VerifyCode != nil &&
		deps.NewChallengeID != nil &&
		deps.SaveChallenge != nil &&
		deps.GetChallenge != nil &&
		deps.DeleteChallenge != nil &&
		deps.RecordChallengeFailure != nil &&
		deps.IssueSession != nil
}

// RunLogin executes the password step. It returns an authenticated result,
// a pending challenge, or an error. Unknown users and wrong passwords yield
// the same error and no result, so callers cannot tell them apart.
func RunLogin(ctx context.Context, in LoginInput, deps SignInDeps) (*SignInResult, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}
	start := deps.Now()
	defer func() { deps.ObserveLatency(deps.Now().Sub(start)) }()

	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return nil, deps.Errors.InvalidInput
	}

	user, err := deps.FindUserByName(ctx, identifier)
	if err != nil {
		if !deps.IsUserNotFound(err) {
			return nil, fmt.Errorf("%w: find user: %v", deps.Errors.StoreUnavailable, err)
		}
		// Burn the same time a real verification would.
		_, _ = deps.VerifyPassword(in.Password, deps.DummyHash())
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", "", deps.Errors.LoginFailed, func() map[string]string {
			return map[string]string{"reason": "unknown_user"}
		})
		return nil, deps.Errors.LoginFailed
	}

	now := deps.Now()
	if deps.LockoutEnabled && user.LockoutEnd.After(now) {
		return lockedOut(ctx, user.UserID, user.LockoutEnd, "password", deps)
	}

	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		deps.Warn("goMFA: stored password hash could not be verified", "user_id", user.UserID, "error", err)
		ok = false
	}
	if !ok {
		end, locked, err := recordUserFailure(ctx, user.UserID, deps)
		if err != nil {
			return nil, err
		}
		if locked {
			return lockedOut(ctx, user.UserID, end, "password", deps)
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, "", deps.Errors.LoginFailed, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return nil, deps.Errors.LoginFailed
	}

	clearFailures(ctx, user, deps)

	if !user.TwoFactorEnabled {
		return completeSignIn(ctx, user, in.Kind, nil, deps)
	}

	if deps.RememberDeviceEnabled && deps.CheckDevice != nil && in.DeviceToken != "" {
		remembered, err := deps.CheckDevice(ctx, user.UserID, in.DeviceToken)
		if err != nil {
			deps.Warn("goMFA: remembered device check failed", "user_id", user.UserID, "error", err)
		}
		if remembered {
			deps.MetricInc(deps.Metrics.DeviceSkippedMFA)
			return completeSignIn(ctx, user, in.Kind, []string{AMRDevice}, deps)
		}
	}

	methods, err := deps.AllowedMethods(ctx, user.UserID, user.EmailTwoFactorEnabled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}
	challengeID, err := deps.NewChallengeID()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(deps.ChallengeTTL)
	record := &ChallengeRecord{
		UserID:    user.UserID,
		Kind:      in.Kind,
		Methods:   methods,
		ExpiresAt: expiresAt,
	}
	if err := deps.SaveChallenge(ctx, challengeID, record, deps.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: save challenge: %v", deps.Errors.StoreUnavailable, err)
	}

	deps.MetricInc(deps.Metrics.ChallengeIssued)
	deps.EmitAudit(ctx, deps.Events.MFARequired, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"methods": joinMethods(methods)}
	})

	return &SignInResult{
		State:              StateMFAPending,
		UserID:             user.UserID,
		ChallengeID:        challengeID,
		Methods:            methods,
		ChallengeExpiresAt: expiresAt,
	}, nil
}

// RunVerifySecondFactor completes a pending challenge with one code.
//
// A wrong code leaves the challenge pending and counts against both the
// challenge attempt budget and the user's lockout counter. A challenge can
// be completed only once.
func RunVerifySecondFactor(ctx context.Context, in SecondFactorInput, deps SignInDeps) (*SignInResult, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}
	if in.ChallengeID == "" || strings.TrimSpace(in.Code) == "" {
		return nil, deps.Errors.InvalidInput
	}

	record, err := deps.GetChallenge(ctx, in.ChallengeID)
	if err != nil {
		if deps.IsChallengeMissing(err) {
			return nil, deps.Errors.ChallengeNotFound
		}
		return nil, fmt.Errorf("%w: load challenge: %v", deps.Errors.StoreUnavailable, err)
	}

	method := in.Method.String()
	if !record.Allows(in.Method) {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, record.UserID, "", deps.Errors.MethodNotEnabled, func() map[string]string {
			return map[string]string{"method": method}
		})
		return nil, deps.Errors.MethodNotEnabled
	}

	user, err := deps.FindUserByID(ctx, record.UserID)
	if err != nil {
		if deps.IsUserNotFound(err) {
			discardChallenge(ctx, in.ChallengeID, deps)
			return nil, deps.Errors.ChallengeNotFound
		}
		return nil, fmt.Errorf("%w: find user: %v", deps.Errors.StoreUnavailable, err)
	}
	if deps.LockoutEnabled && user.LockoutEnd.After(deps.Now()) {
		discardChallenge(ctx, in.ChallengeID, deps)
		return lockedOut(ctx, user.UserID, user.LockoutEnd, method, deps)
	}
	if !user.TwoFactorEnabled {
		// MFA was turned off after the challenge was issued.
		discardChallenge(ctx, in.ChallengeID, deps)
		return nil, deps.Errors.ChallengeNotFound
	}

	res, err := deps.VerifyCode(ctx, user.UserID, in.Method, in.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: verify code: %v", deps.Errors.StoreUnavailable, err)
	}
	if !res.OK {
		return failSecondFactor(ctx, in.ChallengeID, record, user, method, res.Reason, deps)
	}

	deleted, err := deps.DeleteChallenge(ctx, in.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: delete challenge: %v", deps.Errors.StoreUnavailable, err)
	}
	if !deleted {
		return nil, deps.Errors.ChallengeNotFound
	}
	clearFailures(ctx, user, deps)

	if in.Method == mfa.MethodRecovery {
		deps.MetricInc(deps.Metrics.RecoveryCodeUsed)
	}
	deps.MetricInc(deps.Metrics.MFASuccess)
	deps.EmitAudit(ctx, deps.Events.MFASuccess, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	result, err := completeSignIn(ctx, user, record.Kind, []string{method}, deps)
	if err != nil {
		return nil, err
	}

	if in.RememberDevice && deps.RememberDeviceEnabled && deps.RememberDevice != nil {
		token, err := deps.RememberDevice(ctx, user.UserID)
		if err != nil {
			deps.Warn("goMFA: remember device failed", "user_id", user.UserID, "error", err)
		} else {
			result.DeviceToken = token
			deps.MetricInc(deps.Metrics.DeviceRemembered)
			deps.EmitAudit(ctx, deps.Events.DeviceRemembered, true, user.UserID, result.Session.SessionID, nil, nil)
		}
	}
	return result, nil
}

// RunAbandonChallenge discards a pending challenge, as when the user signs
// out while MFA is pending. Abandoning an unknown challenge succeeds.
func RunAbandonChallenge(ctx context.Context, challengeID string, deps SignInDeps) error {
	deps.defaults()
	if deps.DeleteChallenge == nil {
		return deps.Errors.EngineNotReady
	}
	if challengeID == "" {
		return deps.Errors.InvalidInput
	}
	deleted, err := deps.DeleteChallenge(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("%w: delete challenge: %v", deps.Errors.StoreUnavailable, err)
	}
	if deleted {
		deps.MetricInc(deps.Metrics.ChallengeAbandoned)
		deps.EmitAudit(ctx, deps.Events.ChallengeAbandoned, true, "", "", nil, nil)
	}
	return nil
}

func failSecondFactor(
	ctx context.Context,
	challengeID string,
	record *ChallengeRecord,
	user SignInUser,
	method string,
	reason providers.Reason,
	deps SignInDeps,
) (*SignInResult, error) {
	deps.MetricInc(deps.Metrics.MFAFailure)
	deps.EmitAudit(ctx, deps.Events.MFAFailure, false, user.UserID, "", deps.Errors.InvalidCode, func() map[string]string {
		return map[string]string{"method": method, "reason": string(reason)}
	})

	exceeded, err := deps.RecordChallengeFailure(ctx, challengeID, deps.ChallengeMaxAttempts)
	if err != nil && !deps.IsChallengeMissing(err) {
		return nil, fmt.Errorf("%w: record challenge failure: %v", deps.Errors.StoreUnavailable, err)
	}
	challengeGone := err != nil

	end, locked, err := recordUserFailure(ctx, user.UserID, deps)
	if err != nil {
		return nil, err
	}
	if locked {
		discardChallenge(ctx, challengeID, deps)
		return lockedOut(ctx, user.UserID, end, method, deps)
	}
	if exceeded {
		deps.MetricInc(deps.Metrics.MFAAttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.MFAAttemptsExceeded, false, user.UserID, "", deps.Errors.ChallengeAttemptsExceeded, nil)
		return nil, deps.Errors.ChallengeAttemptsExceeded
	}
	if challengeGone {
		return nil, deps.Errors.ChallengeNotFound
	}

	return &SignInResult{
		State:              StateMFAPending,
		UserID:             user.UserID,
		ChallengeID:        challengeID,
		Methods:            record.Methods,
		ChallengeExpiresAt: record.ExpiresAt,
	}, deps.Errors.InvalidCode
}

// recordUserFailure counts one failure and, when the threshold is reached,
// stamps LockoutEnd on the user and resets the counter.
func recordUserFailure(ctx context.Context, userID string, deps SignInDeps) (time.Time, bool, error) {
	if !deps.LockoutEnabled {
		return time.Time{}, false, nil
	}
	reached, err := deps.RecordFailure(ctx, userID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: record failure: %v", deps.Errors.StoreUnavailable, err)
	}
	if !reached {
		return time.Time{}, false, nil
	}

	end := deps.Now().Add(deps.LockoutDuration)
	if err := deps.SetLockoutEnd(ctx, userID, end); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: set lockout: %v", deps.Errors.StoreUnavailable, err)
	}
	if err := deps.ResetFailures(ctx, userID); err != nil {
		deps.Warn("goMFA: failure counter reset after lockout failed", "user_id", userID, "error", err)
	}
	deps.MetricInc(deps.Metrics.LockoutTriggered)
	deps.EmitAudit(ctx, deps.Events.LockoutTriggered, false, userID, "", deps.Errors.LockedOut, func() map[string]string {
		return map[string]string{"lockout_end": end.UTC().Format(time.RFC3339)}
	})
	return end, true, nil
}

func clearFailures(ctx context.Context, user SignInUser, deps SignInDeps) {
	if !deps.LockoutEnabled {
		return
	}
	if err := deps.ResetFailures(ctx, user.UserID); err != nil {
		deps.Warn("goMFA: failure counter reset failed", "user_id", user.UserID, "error", err)
	}
	if !user.LockoutEnd.IsZero() {
		if err := deps.SetLockoutEnd(ctx, user.UserID, time.Time{}); err != nil {
			deps.Warn("goMFA: clearing expired lockout failed", "user_id", user.UserID, "error", err)
		}
	}
}

func lockedOut(ctx context.Context, userID string, end time.Time, step string, deps SignInDeps) (*SignInResult, error) {
	deps.MetricInc(deps.Metrics.LoginLockedOut)
	deps.EmitAudit(ctx, deps.Events.LoginLockedOut, false, userID, "", deps.Errors.LockedOut, func() map[string]string {
		return map[string]string{"step": step}
	})
	return &SignInResult{State: StateLockedOut, UserID: userID, LockoutEnd: end}, deps.Errors.LockedOut
}

func completeSignIn(ctx context.Context, user SignInUser, kind uint8, amr []string, deps SignInDeps) (*SignInResult, error) {
	sess, err := deps.IssueSession(ctx, user, kind, amr)
	if err != nil {
		return nil, err
	}
	if deps.SetLastLogin != nil {
		if err := deps.SetLastLogin(ctx, user.UserID, deps.Now()); err != nil {
			deps.Warn("goMFA: last login update failed", "user_id", user.UserID, "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, sess.SessionID, nil, func() map[string]string {
		if len(amr) == 0 {
			return nil
		}
		return map[string]string{"amr": strings.Join(amr, ",")}
	})
	return &SignInResult{State: StateAuthenticated, UserID: user.UserID, Session: sess}, nil
}

func discardChallenge(ctx context.Context, challengeID string, deps SignInDeps) {
	if _, err := deps.DeleteChallenge(ctx, challengeID); err != nil {
		deps.Warn("goMFA: challenge delete failed", "error", err)
	}
}

func joinMethods(methods []mfa.Method) string {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return strings.Join(names, ",")
}
