package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/metrics/export/prometheus"
	"github.com/MrEthical07/goMFA/middleware"
	"github.com/MrEthical07/goMFA/userstore"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type api struct {
	engine *goMFA.Engine
	users  *userstore.Repository
	logger *slog.Logger
}

func newRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientInfo)

	r.Post("/register", a.register)
	r.Post("/login", a.login)
	r.Route("/login/challenge", func(r chi.Router) {
		r.Post("/verify", a.verify)
		r.Post("/email", a.challengeEmail)
		r.Post("/abandon", a.abandon)
	})
	r.Handle("/metrics", prometheus.Handler(a.engine))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(a.engine))
		r.Get("/me", a.me)
		r.Post("/logout", a.logout)
		r.Post("/logout-all", a.logoutAll)
		r.Post("/devices/forget", a.forgetDevices)

		r.Post("/mfa/app/begin", a.beginApp)
		r.Post("/mfa/app/confirm", a.confirmApp)
		r.Post("/mfa/email/begin", a.beginEmail)
		r.Post("/mfa/email/confirm", a.confirmEmail)
		r.Post("/mfa/email/send", a.sendEmail)
		r.Post("/mfa/disable", a.disable)
		r.Get("/mfa/recovery", a.countRecovery)
		r.Post("/mfa/recovery", a.generateRecovery)
		r.Delete("/mfa/recovery", a.removeRecovery)
	})

	r.With(middleware.RequireMFA(a.engine)).Get("/secure", a.me)
	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password too short")
		return
	}
	hash, err := a.engine.HashPassword(req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	user, err := a.users.Create(r.Context(), goMFA.UserRecord{Username: req.Username, Email: req.Email, PasswordHash: hash})
	if errors.Is(err, userstore.ErrDuplicateUser) {
		writeError(w, http.StatusConflict, "username taken")
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

type loginRequest struct {
	Identifier  string `json:"identifier"`
	Password    string `json:"password"`
	Kind        string `json:"kind"`
	DeviceToken string `json:"device_token"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := goMFA.ParseSessionKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown session kind")
		return
	}
	res, err := a.engine.Login(r.Context(), goMFA.LoginRequest{
		Identifier:  req.Identifier,
		Password:    req.Password,
		Kind:        kind,
		DeviceToken: req.DeviceToken,
	})
	a.signInResponse(w, res, err)
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Method      string `json:"method"`
	Code        string `json:"code"`
	Remember    bool   `json:"remember"`
}

func (a *api) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	method, err := goMFA.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown method")
		return
	}
	res, err := a.engine.VerifySecondFactor(r.Context(), req.ChallengeID, method, req.Code, req.Remember)
	a.signInResponse(w, res, err)
}

type challengeRequest struct {
	ChallengeID string `json:"challenge_id"`
}

func (a *api) challengeEmail(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decode(w, r, &req) {
		return
	}
	expiresAt, err := a.engine.SendChallengeEmailCode(r.Context(), req.ChallengeID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]time.Time{"expires_at": expiresAt})
}

func (a *api) abandon(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.AbandonChallenge(r.Context(), req.ChallengeID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	sessions, err := a.engine.ActiveSessions(r.Context(), info.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         info.UserID,
		"session_id":      info.SessionID,
		"kind":            info.Kind.String(),
		"mfa_enabled":     info.MFAEnabled,
		"amr":             info.AMR,
		"expires_at":      info.ExpiresAt,
		"active_sessions": sessions,
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := a.engine.Logout(r.Context(), token); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	n, err := a.engine.LogoutAll(r.Context(), info.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *api) forgetDevices(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.engine.ForgetDevices(r.Context(), info.UserID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) beginApp(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	enr, err := a.engine.BeginEnableApp(r.Context(), info.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	body := map[string]string{"secret": enr.Secret, "uri": enr.URI}
	if len(enr.QRCode) > 0 {
		body["qr_code_png"] = base64.StdEncoding.EncodeToString(enr.QRCode)
	}
	writeJSON(w, http.StatusOK, body)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (a *api) confirmApp(w http.ResponseWriter, r *http.Request) {
	a.confirmEnable(w, r, a.engine.ConfirmEnableApp)
}

func (a *api) confirmEmail(w http.ResponseWriter, r *http.Request) {
	a.confirmEnable(w, r, a.engine.ConfirmEnableEmail)
}

func (a *api) confirmEnable(w http.ResponseWriter, r *http.Request, confirm func(ctx context.Context, userID, code string) ([]string, error)) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	codes, err := confirm(r.Context(), info.UserID, req.Code)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"recovery_codes": codes})
}

func (a *api) beginEmail(w http.ResponseWriter, r *http.Request) {
	a.sendCode(w, r, a.engine.BeginEnableEmail)
}

func (a *api) sendEmail(w http.ResponseWriter, r *http.Request) {
	a.sendCode(w, r, a.engine.SendEmailCode)
}

func (a *api) sendCode(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, userID string) (time.Time, error)) {
	info, _ := middleware.SessionFromContext(r.Context())
	expiresAt, err := send(r.Context(), info.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]time.Time{"expires_at": expiresAt})
}

type confirmationRequest struct {
	Method string `json:"method"`
	Code   string `json:"code"`
}

func (a *api) confirmation(w http.ResponseWriter, r *http.Request) (goMFA.Confirmation, bool) {
	var req confirmationRequest
	if !decode(w, r, &req) {
		return goMFA.Confirmation{}, false
	}
	method, err := goMFA.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown method")
		return goMFA.Confirmation{}, false
	}
	return goMFA.Confirmation{Method: method, Code: req.Code}, true
}

func (a *api) disable(w http.ResponseWriter, r *http.Request) {
	conf, ok := a.confirmation(w, r)
	if !ok {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.engine.DisableMFA(r.Context(), info.UserID, conf); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) generateRecovery(w http.ResponseWriter, r *http.Request) {
	conf, ok := a.confirmation(w, r)
	if !ok {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	codes, err := a.engine.GenerateRecoveryCodes(r.Context(), info.UserID, conf)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"recovery_codes": codes})
}

func (a *api) removeRecovery(w http.ResponseWriter, r *http.Request) {
	conf, ok := a.confirmation(w, r)
	if !ok {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.engine.RemoveRecoveryCodes(r.Context(), info.UserID, conf); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) countRecovery(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	n, err := a.engine.CountRecoveryCodes(r.Context(), info.UserID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": n})
}

func (a *api) signInResponse(w http.ResponseWriter, res *goMFA.SignInResult, err error) {
	if res == nil {
		a.fail(w, err)
		return
	}
	body := map[string]any{"state": res.State.String()}
	switch res.State {
	case goMFA.StateAuthenticated:
		body["token"] = res.Session.Token
		body["expires_at"] = res.Session.ExpiresAt
		body["amr"] = res.Session.AMR
		if res.DeviceToken != "" {
			body["device_token"] = res.DeviceToken
		}
	case goMFA.StateMFAPending:
		methods := make([]string, len(res.Methods))
		for i, m := range res.Methods {
			methods[i] = m.String()
		}
		body["challenge_id"] = res.ChallengeID
		body["methods"] = methods
		body["expires_at"] = res.ChallengeExpiresAt
	case goMFA.StateLockedOut:
		body["lockout_end"] = res.LockoutEnd
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, goMFA.ErrInvalidInput),
		errors.Is(err, goMFA.ErrMethodNotSupported),
		errors.Is(err, goMFA.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, goMFA.ErrLoginFailed),
		errors.Is(err, goMFA.ErrInvalidCode),
		errors.Is(err, goMFA.ErrConfirmationFailed),
		errors.Is(err, goMFA.ErrSessionInvalid),
		errors.Is(err, goMFA.ErrSessionRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, goMFA.ErrMethodNotEnabled),
		errors.Is(err, goMFA.ErrMFANotEnabled):
		return http.StatusForbidden
	case errors.Is(err, goMFA.ErrMFAAlreadyEnabled):
		return http.StatusConflict
	case errors.Is(err, goMFA.ErrChallengeNotFound),
		errors.Is(err, goMFA.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, goMFA.ErrLockedOut),
		errors.Is(err, goMFA.ErrChallengeAttemptsExceeded),
		errors.Is(err, goMFA.ErrTooManyCodeRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, goMFA.ErrDeliveryFailed),
		errors.Is(err, goMFA.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
