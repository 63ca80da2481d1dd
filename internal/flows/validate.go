package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goMFA/jwt"
	"github.com/MrEthical07/goMFA/session"
)

// SessionMetrics carries metric IDs needed by session flows.
type SessionMetrics struct {
	SessionRevoked int
}

// SessionEvents carries audit event names used by session flows.
type SessionEvents struct {
	Logout    string
	LogoutAll string
}

// SessionErrors carries host-level sentinel errors used by session flows.
type SessionErrors struct {
	EngineNotReady   error
	InvalidInput     error
	SessionInvalid   error
	SessionRevoked   error
	StoreUnavailable error
}

// SessionDeps captures validate and logout dependencies.
type SessionDeps struct {
	ParseToken       func(string) (*jwt.Claims, error)
	GetSession       func(context.Context, string) (*session.Session, error)
	DeleteSession    func(context.Context, string) (bool, error)
	DeleteAllForUser func(context.Context, string) (int, error)
	IsSessionMissing func(error) bool

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID, sessionID string, err error, metadata func() map[string]string)

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

func (deps *SessionDeps) defaults() {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.IsSessionMissing == nil {
		deps.IsSessionMissing = func(error) bool { return false }
	}
}

// ValidateResult is a verified token together with its live session record.
type ValidateResult struct {
	Claims  *jwt.Claims
	Session *session.Session
}

// RunValidateSession verifies the token signature and timestamps and then
// requires the session record to still exist. A signed but revoked token
// fails with SessionRevoked.
func RunValidateSession(ctx context.Context, token string, deps SessionDeps) (*ValidateResult, error) {
	deps.defaults()
	if deps.ParseToken == nil || deps.GetSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if token == "" {
		return nil, deps.Errors.InvalidInput
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.SessionInvalid, err)
	}

	sess, err := deps.GetSession(ctx, claims.SID)
	if err != nil {
		if deps.IsSessionMissing(err) {
			return nil, deps.Errors.SessionRevoked
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}
	if sess.UserID != claims.Subject {
		return nil, deps.Errors.SessionInvalid
	}

	return &ValidateResult{Claims: claims, Session: sess}, nil
}
