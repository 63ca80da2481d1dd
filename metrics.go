package goMFA

import (
	internalmetrics "github.com/MrEthical07/goMFA/internal/metrics"
)

// MetricID identifies a counter or histogram in the in-process metrics
// system. Exporters in metrics/export map IDs to external names.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant or variable used by the MFA engine.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the MFA engine.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginLockedOut counts attempts rejected because of an active lockout.
	MetricLoginLockedOut = internalmetrics.MetricLoginLockedOut
	// MetricLockoutTriggered counts lockouts started by reaching the threshold.
	MetricLockoutTriggered = internalmetrics.MetricLockoutTriggered
	// MetricMFAChallengeIssued is an exported constant or variable used by the MFA engine.
	MetricMFAChallengeIssued = internalmetrics.MetricMFAChallengeIssued
	// MetricMFASuccess is an exported constant or variable used by the MFA engine.
	MetricMFASuccess = internalmetrics.MetricMFASuccess
	// MetricMFAFailure is an exported constant or variable used by the MFA engine.
	MetricMFAFailure = internalmetrics.MetricMFAFailure
	// MetricMFAAttemptsExceeded is an exported constant or variable used by the MFA engine.
	MetricMFAAttemptsExceeded = internalmetrics.MetricMFAAttemptsExceeded
	// MetricDeviceRemembered is an exported constant or variable used by the MFA engine.
	MetricDeviceRemembered = internalmetrics.MetricDeviceRemembered
	// MetricDeviceSkippedMFA counts sign-ins completed by a remembered device.
	MetricDeviceSkippedMFA = internalmetrics.MetricDeviceSkippedMFA
	// MetricSessionCreated is an exported constant or variable used by the MFA engine.
	MetricSessionCreated = internalmetrics.MetricSessionCreated
	// MetricSessionRevoked is an exported constant or variable used by the MFA engine.
	MetricSessionRevoked = internalmetrics.MetricSessionRevoked
	// MetricChallengeAbandoned is an exported constant or variable used by the MFA engine.
	MetricChallengeAbandoned = internalmetrics.MetricChallengeAbandoned
	// MetricEnrollmentStarted is an exported constant or variable used by the MFA engine.
	MetricEnrollmentStarted = internalmetrics.MetricEnrollmentStarted
	// MetricMFAEnabled is an exported constant or variable used by the MFA engine.
	MetricMFAEnabled = internalmetrics.MetricMFAEnabled
	// MetricMFADisabled is an exported constant or variable used by the MFA engine.
	MetricMFADisabled = internalmetrics.MetricMFADisabled
	// MetricEmailCodeSent is an exported constant or variable used by the MFA engine.
	MetricEmailCodeSent = internalmetrics.MetricEmailCodeSent
	// MetricEmailCodeThrottled counts sends refused by EmailCode.MaxSends.
	MetricEmailCodeThrottled = internalmetrics.MetricEmailCodeThrottled
	// MetricRecoveryCodesGenerated is an exported constant or variable used by the MFA engine.
	MetricRecoveryCodesGenerated = internalmetrics.MetricRecoveryCodesGenerated
	// MetricRecoveryCodeUsed is an exported constant or variable used by the MFA engine.
	MetricRecoveryCodeUsed = internalmetrics.MetricRecoveryCodeUsed
	// MetricConfirmationFailure counts failed second-factor confirmations of account actions.
	MetricConfirmationFailure = internalmetrics.MetricConfirmationFailure
	// MetricSignInLatency is the only histogram: wall time of the password step.
	MetricSignInLatency = internalmetrics.MetricSignInLatency
)

// Metrics is the lock-free counter set owned by an Engine.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
// Histogram slices hold 8 non-cumulative buckets with upper bounds of 5,
// 10, 25, 50, 100, 250 and 500 ms, then +Inf.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics returns a Metrics configured by cfg. A disabled Metrics accepts
// writes and reports zeros.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
