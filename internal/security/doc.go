// Package security derives a read-only security posture report from engine
// configuration.
//
// # What this package must NOT do
//
//   - Read live state. The report describes configuration only.
//   - Be imported outside the goMFA module.
package security
