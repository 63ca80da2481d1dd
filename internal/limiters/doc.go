// Package limiters provides the Redis failure counter behind account lockout.
//
// [LockoutLimiter] increments with INCR, so concurrent failures from several
// instances are never lost. It is nil-safe: calling any method on a nil
// receiver is a no-op.
//
// # Architecture boundaries
//
// The limiter only counts. Setting LockoutEnd on the user and deciding which
// failures count belong to the sign-in flow.
//
// # What this package must NOT do
//
//   - Import goMFA or any sibling internal package.
//   - Persist lockout state on the user record.
package limiters
