package goMFA

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/internal/stores"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/MrEthical07/goMFA/mfa"
	"github.com/MrEthical07/goMFA/password"
	"github.com/MrEthical07/goMFA/protect"
	"github.com/MrEthical07/goMFA/providers"
	"github.com/MrEthical07/goMFA/session"
	"github.com/MrEthical07/goMFA/tokenstore"
	"github.com/redis/go-redis/v9"
)

const codeHashKeyLabel = "goMFA/code-hash"

// Builder defines a public type used by goMFA APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	tokens tokenstore.Store

	users     UserRepository
	sender    EmailSender
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for challenges, sessions, remembered
// devices, the lockout counter and (unless WithTokenStore is used) tokens.
// Without it Build dials Config.Redis.Addr and Close closes that client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenStore replaces the default Redis token store, e.g. with
// tokenstore.NewGormStore.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.tokens = store
	return b
}

// WithUserRepository sets the required user persistence.
func (b *Builder) WithUserRepository(users UserRepository) *Builder {
	b.users = users
	return b
}

// WithEmailSender sets the delivery hook for email codes. Without it
// email codes are generated but SendEmailCode fails with ErrDeliveryFailed.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source of every component. Meant for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can be
// used once.
//
// Build may return an error when the configuration is invalid, the user
// repository is missing, or a key cannot be parsed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- REDIS --------
	rdb := b.redis
	ownsRedis := false
	if rdb == nil {
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return nil, errors.New("redis client or Redis Addr required")
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ownsRedis = true
	}
	fail := func(err error) (*Engine, error) {
		if ownsRedis {
			_ = rdb.Close()
		}
		return nil, err
	}

	// -------- SECRET PROTECTION --------
	protector, err := protect.New([]byte(cfg.Protection.MasterKey))
	if err != nil {
		return fail(err)
	}
	hashKey, err := protector.DeriveKey(codeHashKeyLabel, 32)
	if err != nil {
		return fail(err)
	}
	hasher, err := providers.NewCodeHasher(hashKey)
	if err != nil {
		return fail(err)
	}

	// -------- TOKEN PROVIDERS --------
	tokens := b.tokens
	if tokens == nil {
		tokens = tokenstore.NewRedisStore(rdb, cfg.Redis.TokenPrefix)
	}

	app, err := providers.NewTOTPProvider(tokens, protector, providers.TOTPConfig{
		Issuer:        cfg.TOTP.Issuer,
		Digits:        cfg.TOTP.Digits,
		Period:        cfg.TOTP.Period,
		Algorithm:     strings.ToUpper(cfg.TOTP.Algorithm),
		Skew:          cfg.TOTP.Skew,
		SecretSize:    cfg.TOTP.SecretSize,
		EnforceReplay: cfg.TOTP.EnforceReplayProtection,
	}, providers.WithTOTPClock(clock), providers.WithTOTPLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("totp provider: %w", err))
	}
	email, err := providers.NewEmailProvider(tokens, hasher, cfg.EmailCode.TTL,
		providers.WithEmailClock(clock), providers.WithEmailLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("email provider: %w", err))
	}
	recovery, err := providers.NewRecoveryProvider(tokens, hasher, cfg.Recovery.BatchSize,
		providers.WithRecoveryLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("recovery provider: %w", err))
	}

	// -------- EPHEMERAL STATE --------
	devices := stores.NewDeviceStore(rdb, cfg.RememberDevice.RedisPrefix).WithClock(clock)
	challenges := stores.NewChallengeStore(rdb, cfg.Challenge.RedisPrefix).WithClock(clock)
	sessions := session.NewStore(rdb, cfg.Session.RedisPrefix).WithClock(clock)
	lockout := limiters.NewLockoutLimiter(rdb, limiters.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.MaxFailedAttempts,
		Window:    cfg.Lockout.FailureWindow,
		Prefix:    cfg.Lockout.RedisPrefix,
	})
	sendLimit := rate.New(rdb, rate.Config{
		MaxSends: cfg.EmailCode.MaxSends,
		Window:   cfg.EmailCode.SendWindow,
		Prefix:   cfg.EmailCode.RedisPrefix,
	})

	// -------- COORDINATOR --------
	coordinator, err := mfa.NewCoordinator(
		mfa.Providers{App: app, Email: email, Recovery: recovery},
		userFlags{users: b.users},
		deviceForgetter{devices: devices},
		logger,
	)
	if err != nil {
		return fail(err)
	}

	// -------- SESSION TOKENS --------
	var verifyKey []byte
	if cfg.Session.VerifyKey != "" {
		verifyKey = []byte(cfg.Session.VerifyKey)
	}
	tokensManager, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Session.SigningMethod)),
		PrivateKey:    []byte(cfg.Session.SigningKey),
		PublicKey:     verifyKey,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		Now:           clock,
	})
	if err != nil {
		return fail(fmt.Errorf("session tokens: %w", err))
	}

	// -------- PASSWORDS --------
	passwords, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return fail(err)
	}

	// -------- AUDIT / METRICS --------
	sink := b.auditSink
	if sink == nil {
		sink = NoOpSink{}
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvent,
		Now:        clock,
	}, sink)

	b.built = true

	return &Engine{
		config:      cfg,
		redis:       rdb,
		ownsRedis:   ownsRedis,
		users:       b.users,
		sender:      b.sender,
		logger:      logger,
		clock:       clock,
		coordinator: coordinator,
		challenges:  challenges,
		devices:     devices,
		sessions:    sessions,
		lockout:     lockout,
		sendLimit:   sendLimit,
		tokens:      tokensManager,
		passwords:   passwords,
		audit:       dispatcher,
		metrics:     NewMetrics(cfg.Metrics),
	}, nil
}
