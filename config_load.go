package goMFA

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig, e.g.
// GOMFA_SESSION_SIGNING_KEY or GOMFA_LOCKOUT_MAX_FAILED_ATTEMPTS.
const EnvPrefix = "GOMFA"

// LoadConfig builds a Config from DefaultConfig, the optional file at path
// (YAML, TOML, JSON or .env, chosen by extension) and GOMFA_* environment
// variables, in increasing precedence. An empty path reads only the
// environment. The result is validated.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setConfigDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Every key must have a default so AutomaticEnv can bind it during
// Unmarshal.
func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("totp.issuer", d.TOTP.Issuer)
	v.SetDefault("totp.digits", d.TOTP.Digits)
	v.SetDefault("totp.period", d.TOTP.Period)
	v.SetDefault("totp.algorithm", d.TOTP.Algorithm)
	v.SetDefault("totp.skew", d.TOTP.Skew)
	v.SetDefault("totp.secret_size", d.TOTP.SecretSize)
	v.SetDefault("totp.enforce_replay_protection", d.TOTP.EnforceReplayProtection)
	v.SetDefault("totp.qr_code_size", d.TOTP.QRCodeSize)

	v.SetDefault("email_code.ttl", d.EmailCode.TTL)
	v.SetDefault("email_code.max_sends", d.EmailCode.MaxSends)
	v.SetDefault("email_code.send_window", d.EmailCode.SendWindow)
	v.SetDefault("email_code.redis_prefix", d.EmailCode.RedisPrefix)
	v.SetDefault("recovery.batch_size", d.Recovery.BatchSize)

	v.SetDefault("lockout.enabled", d.Lockout.Enabled)
	v.SetDefault("lockout.max_failed_attempts", d.Lockout.MaxFailedAttempts)
	v.SetDefault("lockout.duration", d.Lockout.Duration)
	v.SetDefault("lockout.failure_window", d.Lockout.FailureWindow)
	v.SetDefault("lockout.redis_prefix", d.Lockout.RedisPrefix)

	v.SetDefault("session.default_ttl", d.Session.DefaultTTL)
	v.SetDefault("session.persistent_ttl", d.Session.PersistentTTL)
	v.SetDefault("session.api_ttl", d.Session.APITTL)
	v.SetDefault("session.redis_prefix", d.Session.RedisPrefix)
	v.SetDefault("session.signing_method", d.Session.SigningMethod)
	v.SetDefault("session.signing_key", d.Session.SigningKey)
	v.SetDefault("session.verify_key", d.Session.VerifyKey)
	v.SetDefault("session.issuer", d.Session.Issuer)
	v.SetDefault("session.audience", d.Session.Audience)
	v.SetDefault("session.leeway", d.Session.Leeway)

	v.SetDefault("challenge.ttl", d.Challenge.TTL)
	v.SetDefault("challenge.max_attempts", d.Challenge.MaxAttempts)
	v.SetDefault("challenge.redis_prefix", d.Challenge.RedisPrefix)

	v.SetDefault("remember_device.enabled", d.RememberDevice.Enabled)
	v.SetDefault("remember_device.ttl", d.RememberDevice.TTL)
	v.SetDefault("remember_device.redis_prefix", d.RememberDevice.RedisPrefix)

	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)

	v.SetDefault("protection.master_key", d.Protection.MasterKey)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.token_prefix", d.Redis.TokenPrefix)
}
