package flows

import (
	"context"
	"fmt"
)

// RunLogout revokes the session behind token. Logging out twice succeeds.
func RunLogout(ctx context.Context, token string, deps SessionDeps) error {
	deps.defaults()
	if deps.ParseToken == nil || deps.DeleteSession == nil {
		return deps.Errors.EngineNotReady
	}
	if token == "" {
		return deps.Errors.InvalidInput
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.SessionInvalid, err)
	}

	deleted, err := deps.DeleteSession(ctx, claims.SID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Logout, false, claims.Subject, claims.SID, deps.Errors.StoreUnavailable, nil)
		return fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}
	if deleted {
		deps.MetricInc(deps.Metrics.SessionRevoked)
	}
	deps.EmitAudit(ctx, deps.Events.Logout, true, claims.Subject, claims.SID, nil, nil)
	return nil
}

// RunLogoutAll revokes every session of userID and returns how many were
// live.
func RunLogoutAll(ctx context.Context, userID string, deps SessionDeps) (int, error) {
	deps.defaults()
	if deps.DeleteAllForUser == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return 0, deps.Errors.InvalidInput
	}

	n, err := deps.DeleteAllForUser(ctx, userID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.LogoutAll, false, userID, "", deps.Errors.StoreUnavailable, nil)
		return 0, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}
	for i := 0; i < n; i++ {
		deps.MetricInc(deps.Metrics.SessionRevoked)
	}
	deps.EmitAudit(ctx, deps.Events.LogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return n, nil
}
