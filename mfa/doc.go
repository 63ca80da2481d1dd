// Package mfa coordinates the second-factor providers: it maps a requested
// method to its provider and purpose, and runs the compound enable and
// disable operations against the user's MFA flags.
package mfa
