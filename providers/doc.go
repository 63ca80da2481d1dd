// Package providers implements the second-factor token providers: TOTP
// authenticator apps, emailed one-time codes and recovery codes.
//
// Every provider keeps its state in a tokenstore.Store under its own
// provider name and a caller-chosen purpose. Validation that mutates state
// (consuming a code, recording the last accepted TOTP step) always runs
// through Store.Update, so two concurrent requests for the same user cannot
// both consume one code.
//
// # What this package must NOT do
//
//   - Log plaintext codes or secrets.
//   - Decide whether a user has MFA enabled; that belongs to the mfa package.
package providers
