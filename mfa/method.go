package mfa

import (
	"fmt"
	"strings"
)

// Method identifies a second-factor method.
type Method uint8

const (
	// MethodApp is a TOTP authenticator app code.
	MethodApp Method = iota + 1
	// MethodEmail is a code sent by email.
	MethodEmail
	// MethodRecovery is a single-use recovery code.
	MethodRecovery
)

// Purposes under which each method stores its tokens. Email and recovery
// derive from the app purpose so their records never collide.
const (
	PurposeApp      = "TwoFactor"
	PurposeEmail    = PurposeApp + ":Email"
	PurposeRecovery = PurposeApp + ":Recovery"
)

// String returns the wire name of m, which is also the amr claim value.
func (m Method) String() string {
	switch m {
	case MethodApp:
		return "app"
	case MethodEmail:
		return "email"
	case MethodRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// ParseMethod maps a wire name ("app", "email", "recovery") to a Method.
// "totp" and "backup" are accepted as aliases.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "app", "totp":
		return MethodApp, nil
	case "email":
		return MethodEmail, nil
	case "recovery", "backup":
		return MethodRecovery, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrMethodNotSupported, s)
	}
}
