// Package protect encrypts secrets at rest with XChaCha20-Poly1305 under
// purpose-scoped keys derived from one master key via HKDF-SHA256.
//
// # What this package must NOT do
//
//   - Persist anything. Callers store the returned envelope.
//   - Log keys, plaintexts or envelopes.
package protect
