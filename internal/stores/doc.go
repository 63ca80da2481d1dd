// Package stores provides Redis-backed, short-lived record stores for the
// sign-in state machine: pending second-factor challenges and remembered
// devices.
//
// # Design
//
// A challenge is a versioned, binary-encoded record with a TTL. Attempt
// counting uses WATCH/MULTI optimistic transactions with a bounded retry on
// contention, and a challenge is deleted once its attempt budget is spent.
// Remembered devices are stored as SHA-256 hashes of the device token; the
// raw token never reaches Redis.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for these records.
// It does NOT generate tokens or codes and does NOT make authentication
// decisions; those belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import goMFA or any sibling internal package.
//   - Log or store plaintext device tokens.
package stores
