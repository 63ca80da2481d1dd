// Package internal contains helpers that are private to goMFA, such as
// challenge and remember-device token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: sign-in state machine driven by dependency closures
//   - limiters: Redis failure counter behind account lockout
//   - metrics: lock-free counters and latency histograms
//   - rate: per-user throttle on emailed code deliveries
//   - security: configuration posture report
//   - stores: Redis stores for MFA challenges and remembered devices
//
// # What this package must NOT do
//
//   - Export types that appear in the public goMFA API.
//   - Be imported by any package outside the goMFA module.
package internal
