// Package jwt signs and verifies goMFA session tokens.
//
// Tokens carry the session ID, whether the user has MFA enabled, and the
// authentication methods (amr) satisfied at sign-in. Parse rejects tokens
// without iat or exp so a token can never outlive its declared window.
package jwt
