package goMFA

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/jwt"
)

// Config defines a public type used by goMFA APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	TOTP           TOTPConfig           `mapstructure:"totp"`
	EmailCode      EmailCodeConfig      `mapstructure:"email_code"`
	Recovery       RecoveryConfig       `mapstructure:"recovery"`
	Lockout        LockoutConfig        `mapstructure:"lockout"`
	Session        SessionConfig        `mapstructure:"session"`
	Challenge      ChallengeConfig      `mapstructure:"challenge"`
	RememberDevice RememberDeviceConfig `mapstructure:"remember_device"`
	Password       PasswordConfig       `mapstructure:"password"`
	Protection     ProtectionConfig     `mapstructure:"protection"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Redis          RedisConfig          `mapstructure:"redis"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by goMFA APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer                  string        `mapstructure:"issuer"`
	Digits                  int           `mapstructure:"digits"`
	Period                  time.Duration `mapstructure:"period"`
	Algorithm               string        `mapstructure:"algorithm"` // SHA1 (default), SHA256, SHA512
	Skew                    uint          `mapstructure:"skew"`
	SecretSize              int           `mapstructure:"secret_size"`
	EnforceReplayProtection bool          `mapstructure:"enforce_replay_protection"`
	// QRCodeSize is the edge length in pixels of AppEnrollment.QRCode. Zero
	// disables rendering.
	QRCodeSize int `mapstructure:"qr_code_size"`
}

/*
====================================
EMAIL CODE CONFIG
====================================
*/

// EmailCodeConfig defines a public type used by goMFA APIs.
//
// MaxSends caps how many codes one user may be sent per SendWindow.
// Zero disables the cap.
type EmailCodeConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSends    int           `mapstructure:"max_sends"`
	SendWindow  time.Duration `mapstructure:"send_window"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig defines a public type used by goMFA APIs.
type RecoveryConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the per-user failure counter. Password and
// second-factor failures count against the same threshold.
type LockoutConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	Duration          time.Duration `mapstructure:"duration"`
	// FailureWindow bounds how long failures are remembered. Zero keeps
	// them until a success or a lockout resets the counter.
	FailureWindow time.Duration `mapstructure:"failure_window"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by goMFA APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	PersistentTTL time.Duration `mapstructure:"persistent_ttl"`
	APITTL        time.Duration `mapstructure:"api_ttl"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`

	SigningMethod string `mapstructure:"signing_method"` // "ed25519" (default), "hs256" optional
	// SigningKey is a PEM or raw Ed25519 private key, or the HMAC secret.
	SigningKey string `mapstructure:"signing_key"`
	// VerifyKey is the Ed25519 public key. Derived from SigningKey when empty.
	VerifyKey string        `mapstructure:"verify_key"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls pending second-factor challenges.
type ChallengeConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

/*
====================================
REMEMBER DEVICE CONFIG
====================================
*/

// RememberDeviceConfig controls remembered-device tokens that let a browser
// skip the second factor.
type RememberDeviceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	TTL         time.Duration `mapstructure:"ttl"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory      uint32 `mapstructure:"memory"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

/*
====================================
PROTECTION CONFIG
====================================
*/

// ProtectionConfig holds the master key from which the TOTP secret
// encryption keys and the code hashing key are derived.
type ProtectionConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by goMFA APIs.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by goMFA APIs.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig is used by Build when no client was passed to WithRedis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// TokenPrefix namespaces the default Redis token store.
	TokenPrefix string `mapstructure:"token_prefix"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration with every section filled except
// the secrets (Session.SigningKey and Protection.MasterKey).
func DefaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:                  "goMFA",
			Digits:                  6,
			Period:                  30 * time.Second,
			Algorithm:               "SHA1",
			Skew:                    1,
			SecretSize:              20,
			EnforceReplayProtection: true,
			QRCodeSize:              256,
		},
		EmailCode: EmailCodeConfig{
			TTL:         10 * time.Minute,
			MaxSends:    5,
			SendWindow:  15 * time.Minute,
			RedisPrefix: "mes",
		},
		Recovery: RecoveryConfig{
			BatchSize: 10,
		},
		Lockout: LockoutConfig{
			Enabled:           true,
			MaxFailedAttempts: 5,
			Duration:          5 * time.Minute,
			FailureWindow:     0,
			RedisPrefix:       "mlo",
		},
		Session: SessionConfig{
			DefaultTTL:    time.Hour,
			PersistentTTL: 14 * 24 * time.Hour,
			APITTL:        30 * 24 * time.Hour,
			RedisPrefix:   "ses",
			SigningMethod: string(jwt.MethodEd25519),
			Issuer:        "goMFA",
			Leeway:        30 * time.Second,
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "mch",
		},
		RememberDevice: RememberDeviceConfig{
			Enabled:     true,
			TTL:         30 * 24 * time.Hour,
			RedisPrefix: "mrd",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			TokenPrefix: "mtk",
		},
	}
}

func cloneConfig(cfg Config) Config {
	// Config holds no reference types today; the copy is already deep.
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// -------- TOTP --------
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < time.Second {
		return errors.New("TOTP Period must be >= 1s")
	}
	if c.TOTP.Period%time.Second != 0 {
		return errors.New("TOTP Period must be a whole number of seconds")
	}
	switch strings.ToUpper(strings.TrimSpace(c.TOTP.Algorithm)) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if c.TOTP.SecretSize < 16 {
		return errors.New("TOTP SecretSize must be >= 16")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.QRCodeSize < 0 || (c.TOTP.QRCodeSize > 0 && c.TOTP.QRCodeSize < 64) {
		return errors.New("TOTP QRCodeSize must be 0 or >= 64")
	}

	// -------- EMAIL CODE / RECOVERY --------
	if c.EmailCode.TTL <= 0 {
		return errors.New("EmailCode TTL must be > 0")
	}
	if c.EmailCode.MaxSends < 0 {
		return errors.New("EmailCode MaxSends must be >= 0")
	}
	if c.EmailCode.MaxSends > 0 && c.EmailCode.SendWindow <= 0 {
		return errors.New("EmailCode SendWindow must be > 0 when MaxSends is set")
	}
	if c.Recovery.BatchSize <= 0 {
		return errors.New("Recovery BatchSize must be > 0")
	}

	// -------- LOCKOUT --------
	if c.Lockout.Enabled {
		if c.Lockout.MaxFailedAttempts <= 0 {
			return errors.New("Lockout MaxFailedAttempts must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}
	if c.Lockout.FailureWindow < 0 {
		return errors.New("Lockout FailureWindow must be >= 0")
	}

	// -------- SESSION --------
	if c.Session.DefaultTTL <= 0 {
		return errors.New("Session DefaultTTL must be > 0")
	}
	if c.Session.PersistentTTL <= 0 {
		return errors.New("Session PersistentTTL must be > 0")
	}
	if c.Session.APITTL <= 0 {
		return errors.New("Session APITTL must be > 0")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	switch jwt.SigningMethod(strings.ToLower(c.Session.SigningMethod)) {
	case jwt.MethodEd25519:
		if c.Session.SigningKey == "" {
			return errors.New("ed25519 requires Session SigningKey")
		}
	case jwt.MethodHS256:
		if len(c.Session.SigningKey) < 32 {
			return errors.New("hs256 requires a Session SigningKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Session signing method")
	}

	// -------- CHALLENGE / REMEMBER DEVICE --------
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 || c.Challenge.MaxAttempts > 65535 {
		return errors.New("Challenge MaxAttempts must be between 1 and 65535")
	}
	if c.RememberDevice.Enabled && c.RememberDevice.TTL <= 0 {
		return errors.New("RememberDevice TTL must be > 0")
	}

	// -------- PASSWORD --------
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// -------- PROTECTION --------
	if len(c.Protection.MasterKey) < 32 {
		return errors.New("Protection MasterKey must be at least 32 bytes")
	}

	// -------- AUDIT --------
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
