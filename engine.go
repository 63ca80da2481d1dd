package goMFA

import (
	"context"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/internal/stores"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/MrEthical07/goMFA/mfa"
	"github.com/MrEthical07/goMFA/password"
	"github.com/MrEthical07/goMFA/session"
	"github.com/redis/go-redis/v9"
)

// Engine defines a public type used by goMFA APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// All methods are safe for concurrent use.
type Engine struct {
	config    Config
	redis     redis.UniversalClient
	ownsRedis bool

	users  UserRepository
	sender EmailSender
	logger *slog.Logger
	clock  func() time.Time

	coordinator *mfa.Coordinator
	challenges  *stores.ChallengeStore
	devices     *stores.DeviceStore
	sessions    *session.Store
	lockout     *limiters.LockoutLimiter
	sendLimit   *rate.Limiter
	tokens      *jwt.Manager
	passwords   *password.Hasher

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close drains the audit dispatcher and closes the Redis client when Build
// created it.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsRedis && e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("goMFA: redis close failed", "error", err)
		}
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// HashPassword returns the argon2id encoding of plain, in the format the
// engine verifies at Login.
func (e *Engine) HashPassword(plain string) (string, error) {
	if e == nil || e.passwords == nil {
		return "", ErrEngineNotReady
	}
	return e.passwords.Hash(plain)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) sessionTTL(kind SessionKind) time.Duration {
	switch kind {
	case SessionPersistent:
		return e.config.Session.PersistentTTL
	case SessionAPI:
		return e.config.Session.APITTL
	default:
		return e.config.Session.DefaultTTL
	}
}

// userFlags adapts a UserRepository to mfa.FlagStore.
type userFlags struct {
	users UserRepository
}

func (f userFlags) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return f.users.SetTwoFactorEnabled(ctx, userID, enabled)
}

func (f userFlags) SetEmailTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return f.users.SetEmailTwoFactorEnabled(ctx, userID, enabled)
}

// deviceForgetter adapts the remembered-device store to mfa.DeviceForgetter.
type deviceForgetter struct {
	devices *stores.DeviceStore
}

func (d deviceForgetter) ForgetDevices(ctx context.Context, userID string) error {
	return d.devices.Forget(ctx, userID)
}
