// Package middleware exposes HTTP middleware that guards routes with goMFA
// sessions.
//
// # Guards
//
//   - [RequireSession] verifies the bearer token and that its session is live.
//   - [RequireMFA] additionally requires the session to carry a second factor.
//   - [ClientInfo] copies the client IP and User-Agent into the request
//     context so engine audit events can record them.
//
// Each guard reads the Authorization header, calls Engine.ValidateSession,
// and injects the resulting SessionInfo into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; all decisions are delegated to
// Engine.ValidateSession.
//
// # What this package must NOT do
//
//   - Parse or create session tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject and the amr check.
package middleware
