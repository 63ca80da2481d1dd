package goMFA

import (
	"strings"

	"github.com/MrEthical07/goMFA/internal/security"
)

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport].
type SecurityReport = security.Report

// PasswordConfigReport contains the Argon2 parameters active in the engine.
type PasswordConfigReport = security.PasswordReport

// SecurityReport describes the configured protections and lists settings
// that weaken them. Services typically log it once at startup.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:     c.Session.SigningMethod,
		DefaultSessionTTL:    c.Session.DefaultTTL,
		PersistentSessionTTL: c.Session.PersistentTTL,
		APISessionTTL:        c.Session.APITTL,
		Password: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		TOTPAlgorithm:        c.TOTP.Algorithm,
		TOTPDigits:           c.TOTP.Digits,
		TOTPSkew:             c.TOTP.Skew,
		ReplayProtection:     c.TOTP.EnforceReplayProtection,
		EmailCodeTTL:         c.EmailCode.TTL,
		EmailMaxSends:        c.EmailCode.MaxSends,
		EmailSendWindow:      c.EmailCode.SendWindow,
		RecoveryBatchSize:    c.Recovery.BatchSize,
		LockoutEnabled:       c.Lockout.Enabled,
		LockoutThreshold:     c.Lockout.MaxFailedAttempts,
		LockoutDuration:      c.Lockout.Duration,
		ChallengeMaxAttempts: c.Challenge.MaxAttempts,
		RememberDevice:       c.RememberDevice.Enabled,
		RememberDeviceTTL:    c.RememberDevice.TTL,
		MasterKeySet:         strings.TrimSpace(c.Protection.MasterKey) != "",
		AuditEnabled:         c.Audit.Enabled,
	})
}
