package internaldefs

import (
	goMFA "github.com/MrEthical07/goMFA"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goMFA.MetricLoginSuccess, Name: "gomfa_login_success_total", Help: "Sign-ins that ended with an issued session."},
	{ID: goMFA.MetricLoginFailure, Name: "gomfa_login_failure_total", Help: "Password steps rejected as unknown user or wrong password."},
	{ID: goMFA.MetricLoginLockedOut, Name: "gomfa_login_locked_out_total", Help: "Sign-in steps rejected because of an active lockout."},
	{ID: goMFA.MetricLockoutTriggered, Name: "gomfa_lockout_triggered_total", Help: "Lockouts started by reaching the failure threshold."},
	{ID: goMFA.MetricMFAChallengeIssued, Name: "gomfa_mfa_challenge_issued_total", Help: "Second-factor challenges issued after a correct password."},
	{ID: goMFA.MetricMFASuccess, Name: "gomfa_mfa_success_total", Help: "Challenges completed with a valid code."},
	{ID: goMFA.MetricMFAFailure, Name: "gomfa_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: goMFA.MetricMFAAttemptsExceeded, Name: "gomfa_mfa_attempts_exceeded_total", Help: "Challenges discarded after too many wrong codes."},
	{ID: goMFA.MetricDeviceRemembered, Name: "gomfa_device_remembered_total", Help: "Devices remembered after a second factor."},
	{ID: goMFA.MetricDeviceSkippedMFA, Name: "gomfa_device_skipped_mfa_total", Help: "Sign-ins completed by a remembered device."},
	{ID: goMFA.MetricSessionCreated, Name: "gomfa_session_created_total", Help: "Sessions issued."},
	{ID: goMFA.MetricSessionRevoked, Name: "gomfa_session_revoked_total", Help: "Sessions revoked by logout."},
	{ID: goMFA.MetricChallengeAbandoned, Name: "gomfa_challenge_abandoned_total", Help: "Pending challenges discarded by the caller."},
	{ID: goMFA.MetricEnrollmentStarted, Name: "gomfa_enrollment_started_total", Help: "Authenticator or email enrollments started."},
	{ID: goMFA.MetricMFAEnabled, Name: "gomfa_mfa_enabled_total", Help: "Second-factor methods enabled."},
	{ID: goMFA.MetricMFADisabled, Name: "gomfa_mfa_disabled_total", Help: "Accounts that turned MFA off."},
	{ID: goMFA.MetricEmailCodeSent, Name: "gomfa_email_code_sent_total", Help: "Email codes handed to the sender."},
	{ID: goMFA.MetricEmailCodeThrottled, Name: "gomfa_email_code_throttled_total", Help: "Email code sends refused by the per-user cap."},
	{ID: goMFA.MetricRecoveryCodesGenerated, Name: "gomfa_recovery_codes_generated_total", Help: "Recovery code batches generated."},
	{ID: goMFA.MetricRecoveryCodeUsed, Name: "gomfa_recovery_code_used_total", Help: "Recovery codes redeemed."},
	{ID: goMFA.MetricConfirmationFailure, Name: "gomfa_confirmation_failure_total", Help: "Failed second-factor confirmations of account actions."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goMFA.MetricSignInLatency, Name: "gomfa_sign_in_latency_seconds", Help: "Wall time of the password step."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
