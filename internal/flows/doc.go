// Package flows contains pure-function orchestrators for the sign-in state
// machine and session checks.
//
// Each flow function (RunLogin, RunVerifySecondFactor, RunValidateSession,
// etc.) accepts a typed dependency struct of closures and returns results
// without side effects beyond those dependencies. This keeps the Engine thin
// and lets the state transitions be tested with in-memory fakes.
//
// # Architecture boundaries
//
// Flows coordinate the user repository, the MFA coordinator, the challenge,
// device and session stores, the lockout counter, audit and metrics. They do
// NOT own any of these resources; the Engine does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goMFA (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency closures.
package flows
