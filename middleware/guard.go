package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goMFA "github.com/MrEthical07/goMFA"
)

// SessionValidator is the part of *goMFA.Engine the guards need.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*goMFA.SessionInfo, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session injected by RequireSession or
// RequireMFA.
func SessionFromContext(ctx context.Context) (*goMFA.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*goMFA.SessionInfo)
	return info, ok
}

// RequireSession rejects requests without a valid, unrevoked bearer session
// with 401.
func RequireSession(v SessionValidator) func(http.Handler) http.Handler {
	return guard(v, false)
}

// RequireMFA behaves like RequireSession and additionally answers 403 when
// the session was issued without a second factor on an MFA-enabled account.
func RequireMFA(v SessionValidator) func(http.Handler) http.Handler {
	return guard(v, true)
}

func guard(v SessionValidator, requireMFA bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := v.ValidateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if requireMFA && !info.SecondFactorSatisfied() {
				http.Error(w, "second factor required", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientInfo stores the caller address and User-Agent for audit events.
// Place it behind a trusted proxy's real-IP middleware when one is used.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := goMFA.WithClientIP(r.Context(), ip)
		ctx = goMFA.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
