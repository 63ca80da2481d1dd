package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/go-chi/chi/v5"
)

type stubValidator struct {
	sessions map[string]*goMFA.SessionInfo
}

func (s stubValidator) ValidateSession(_ context.Context, token string) (*goMFA.SessionInfo, error) {
	info, ok := s.sessions[token]
	if !ok {
		return nil, goMFA.ErrSessionRevoked
	}
	return info, nil
}

func newRouter(v SessionValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(ClientInfo)
	whoami := func(w http.ResponseWriter, r *http.Request) {
		info, ok := SessionFromContext(r.Context())
		if !ok {
			http.Error(w, "missing session", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(info.UserID))
	}
	r.With(RequireSession(v)).Get("/me", whoami)
	r.With(RequireMFA(v)).Get("/secure", whoami)
	return r
}

func TestGuards(t *testing.T) {
	v := stubValidator{sessions: map[string]*goMFA.SessionInfo{
		"plain":   {UserID: "u-plain"},
		"mfa":     {UserID: "u-mfa", MFAEnabled: true, AMR: []string{"app"}},
		"skipped": {UserID: "u-skip", MFAEnabled: true},
	}}
	router := newRouter(v)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{name: "no header", path: "/me", want: http.StatusUnauthorized},
		{name: "not bearer", path: "/me", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty bearer", path: "/me", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "revoked", path: "/me", header: "Bearer gone", want: http.StatusUnauthorized},
		{name: "plain session", path: "/me", header: "Bearer plain", want: http.StatusOK, body: "u-plain"},
		{name: "plain session on mfa route", path: "/secure", header: "Bearer plain", want: http.StatusOK, body: "u-plain"},
		{name: "mfa enabled without amr", path: "/secure", header: "Bearer skipped", want: http.StatusForbidden},
		{name: "mfa session", path: "/secure", header: "Bearer mfa", want: http.StatusOK, body: "u-mfa"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestNilValidatorRejects(t *testing.T) {
	h := RequireSession(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
