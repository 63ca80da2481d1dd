package security

import (
	"strings"
	"time"
)

// PasswordReport mirrors the argon2id parameters in use.
type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is the derived security posture of one engine configuration.
type Report struct {
	SigningAlgorithm       string
	DefaultSessionTTL      time.Duration
	PersistentSessionTTL   time.Duration
	APISessionTTL          time.Duration
	Argon2                 PasswordReport
	TOTPAlgorithm          string
	TOTPDigits             int
	TOTPSkew               uint
	ReplayProtection       bool
	EmailCodeTTL           time.Duration
	EmailThrottleActive    bool
	RecoveryBatchSize      int
	LockoutActive          bool
	ChallengeAttemptCap    int
	RememberDeviceActive   bool
	RememberDeviceTTL      time.Duration
	SecretsProtectedAtRest bool
	AuditActive            bool
	// Warnings lists settings that weaken the posture. Empty for defaults.
	Warnings []string
}

// ReportInput is the flattened configuration BuildReport reads.
type ReportInput struct {
	SigningAlgorithm     string
	DefaultSessionTTL    time.Duration
	PersistentSessionTTL time.Duration
	APISessionTTL        time.Duration
	Password             PasswordReport
	TOTPAlgorithm        string
	TOTPDigits           int
	TOTPSkew             uint
	ReplayProtection     bool
	EmailCodeTTL         time.Duration
	EmailMaxSends        int
	EmailSendWindow      time.Duration
	RecoveryBatchSize    int
	LockoutEnabled       bool
	LockoutThreshold     int
	LockoutDuration      time.Duration
	ChallengeMaxAttempts int
	RememberDevice       bool
	RememberDeviceTTL    time.Duration
	MasterKeySet         bool
	AuditEnabled         bool
}

const (
	longRememberDevice = 90 * 24 * time.Hour
	longEmailCodeTTL   = 30 * time.Minute
	minArgon2Memory    = 19 * 1024
)

// BuildReport derives a Report and its warnings from input.
func BuildReport(input ReportInput) Report {
	lockout := input.LockoutEnabled &&
		input.LockoutThreshold > 0 &&
		input.LockoutDuration > 0

	throttle := input.EmailMaxSends > 0 && input.EmailSendWindow > 0

	rememberDevice := input.RememberDevice && input.RememberDeviceTTL > 0

	r := Report{
		SigningAlgorithm:       strings.ToLower(input.SigningAlgorithm),
		DefaultSessionTTL:      input.DefaultSessionTTL,
		PersistentSessionTTL:   input.PersistentSessionTTL,
		APISessionTTL:          input.APISessionTTL,
		Argon2:                 input.Password,
		TOTPAlgorithm:          strings.ToUpper(input.TOTPAlgorithm),
		TOTPDigits:             input.TOTPDigits,
		TOTPSkew:               input.TOTPSkew,
		ReplayProtection:       input.ReplayProtection,
		EmailCodeTTL:           input.EmailCodeTTL,
		EmailThrottleActive:    throttle,
		RecoveryBatchSize:      input.RecoveryBatchSize,
		LockoutActive:          lockout,
		ChallengeAttemptCap:    input.ChallengeMaxAttempts,
		RememberDeviceActive:   rememberDevice,
		SecretsProtectedAtRest: input.MasterKeySet,
		AuditActive:            input.AuditEnabled,
	}
	if rememberDevice {
		r.RememberDeviceTTL = input.RememberDeviceTTL
	}

	var warnings []string
	if !lockout {
		warnings = append(warnings, "lockout disabled: password and code guessing is only bounded by challenge attempts")
	}
	if input.ChallengeMaxAttempts <= 0 {
		warnings = append(warnings, "challenge attempts are unbounded")
	}
	if !input.ReplayProtection {
		warnings = append(warnings, "TOTP replay protection disabled: a code can be reused within its window")
	}
	if input.TOTPSkew > 1 {
		warnings = append(warnings, "TOTP skew above 1 widens the accepted window")
	}
	if !throttle {
		warnings = append(warnings, "email code sends are not throttled")
	}
	if input.EmailCodeTTL > longEmailCodeTTL {
		warnings = append(warnings, "email codes live longer than 30 minutes")
	}
	if rememberDevice && input.RememberDeviceTTL > longRememberDevice {
		warnings = append(warnings, "remembered devices outlive 90 days")
	}
	if r.SigningAlgorithm == "hs256" {
		warnings = append(warnings, "hs256 session tokens share the signing secret with every verifier")
	}
	if input.Password.Memory < minArgon2Memory {
		warnings = append(warnings, "argon2id memory below 19 MiB")
	}
	r.Warnings = warnings

	return r
}
