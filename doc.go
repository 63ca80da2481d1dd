// Package goMFA provides password sign-in with a second-factor step:
// authenticator-app (TOTP) codes, emailed codes and single-use recovery
// codes, plus revocable, signed session tokens whose amr claim records
// which factor was used.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Sign-in states
//
// [Engine.Login] moves an attempt from anonymous through the password step
// to one of StateAuthenticated, StateMFAPending or StateLockedOut. A pending
// attempt is finished by [Engine.VerifySecondFactor] or discarded by
// [Engine.AbandonChallenge]. Password and second-factor failures share one
// lockout counter.
//
// # Architecture boundaries
//
// goMFA is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (SignInResult, SessionInfo, MetricsSnapshot, etc.). Token
// providers live in providers, method dispatch in mfa, and flow
// orchestration, challenge and device stores, lockout counting and audit
// dispatch under internal/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Log or audit codes, secrets or passwords.
//   - Import any sub-package that re-imports goMFA (no import cycles).
package goMFA
