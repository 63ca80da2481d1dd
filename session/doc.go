// Package session provides the Redis-backed registry of issued sessions and
// its compact binary encoding.
//
// A session token is only honoured while its record exists here, which is
// what makes logout and "sign out everywhere" effective before the token's
// own expiry.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT sign or parse tokens and does NOT decide whether a second
// factor is required; those belong to the jwt package and the Engine.
//
// # What this package must NOT do
//
//   - Import goMFA, jwt, or any internal package.
//   - Store secrets or codes in [Session] fields.
package session
