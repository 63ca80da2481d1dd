// Package audit implements async event dispatching for sign-in and MFA
// account changes.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] is a buffered async relay that either drops or blocks when full.
//   - [Event] is the structured audit record.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goMFA or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
