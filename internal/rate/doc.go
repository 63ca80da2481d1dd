// Package rate throttles outbound second-factor code deliveries with
// Redis-backed counters.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// "<prefix>:<userID>", prefix "mes" by default.
//
// # What this package must NOT do
//
//   - Decide lockout policy (that lives in internal/limiters).
//   - Be imported outside the goMFA module.
package rate
