package mfa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/goMFA/providers"
)

var (
	// ErrMethodNotSupported is returned for a method without a provider.
	ErrMethodNotSupported = errors.New("mfa: two-factor method not supported")
	// ErrMissingProvider is returned by NewCoordinator when a provider is nil.
	ErrMissingProvider = errors.New("mfa: provider missing")
	// ErrMissingFlagStore is returned by NewCoordinator without a FlagStore.
	ErrMissingFlagStore = errors.New("mfa: flag store missing")
)

// FlagStore persists the per-user MFA switches.
type FlagStore interface {
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
	SetEmailTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
}

// DeviceForgetter drops every remembered-device marker of a user.
type DeviceForgetter interface {
	ForgetDevices(ctx context.Context, userID string) error
}

// Providers groups the concrete providers the coordinator dispatches to.
type Providers struct {
	App      *providers.TOTPProvider
	Email    *providers.EmailProvider
	Recovery *providers.RecoveryProvider
}

type binding struct {
	provider providers.Provider
	purpose  string
}

// Coordinator maps methods to providers and runs the compound MFA
// operations. The method table is fixed at construction.
type Coordinator struct {
	bindings map[Method]binding
	p        Providers
	flags    FlagStore
	devices  DeviceForgetter
	logger   *slog.Logger
}

// NewCoordinator wires the providers. devices may be nil when remembered
// devices are not in use; logger may be nil.
func NewCoordinator(p Providers, flags FlagStore, devices DeviceForgetter, logger *slog.Logger) (*Coordinator, error) {
	if p.App == nil || p.Email == nil || p.Recovery == nil {
		return nil, ErrMissingProvider
	}
	if flags == nil {
		return nil, ErrMissingFlagStore
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		bindings: map[Method]binding{
			MethodApp:      {provider: p.App, purpose: PurposeApp},
			MethodEmail:    {provider: p.Email, purpose: PurposeEmail},
			MethodRecovery: {provider: p.Recovery, purpose: PurposeRecovery},
		},
		p:       p,
		flags:   flags,
		devices: devices,
		logger:  logger,
	}, nil
}

// Resolve returns the provider and purpose bound to m.
func (c *Coordinator) Resolve(m Method) (providers.Provider, string, error) {
	b, ok := c.bindings[m]
	if !ok {
		c.logger.Error("two-factor method is not mapped to a provider", "method", m.String())
		return nil, "", fmt.Errorf("%w: %s", ErrMethodNotSupported, m)
	}
	return b.provider, b.purpose, nil
}

// VerifyTwoFactor validates code with the provider bound to m.
func (c *Coordinator) VerifyTwoFactor(ctx context.Context, userID string, m Method, code string) (providers.Result, error) {
	provider, purpose, err := c.Resolve(m)
	if err != nil {
		return providers.Result{}, err
	}
	res, err := provider.Validate(ctx, purpose, userID, code)
	if err != nil {
		return providers.Result{}, err
	}
	if !res.OK {
		c.logger.InfoContext(ctx, "two-factor verification failed", "user_id", userID, "method", m.String(), "reason", string(res.Reason))
	}
	return res, nil
}

// AllowedMethods lists the methods userID can complete a sign-in with: the
// app when a secret is stored, email when emailEnabled, and recovery codes
// always.
func (c *Coordinator) AllowedMethods(ctx context.Context, userID string, emailEnabled bool) ([]Method, error) {
	methods := make([]Method, 0, 3)
	hasApp, err := c.p.App.HasSecret(ctx, userID, PurposeApp)
	if err != nil {
		return nil, fmt.Errorf("allowed methods: %w", err)
	}
	if hasApp {
		methods = append(methods, MethodApp)
	}
	if emailEnabled {
		methods = append(methods, MethodEmail)
	}
	return append(methods, MethodRecovery), nil
}

// BeginApp issues a new authenticator secret. The flag is not touched until
// EnableApp.
func (c *Coordinator) BeginApp(ctx context.Context, userID, accountName string) (providers.TOTPEnrollment, error) {
	return c.p.App.Generate(ctx, PurposeApp, userID, accountName)
}

// EnableApp turns MFA on for userID. Callers verify a code first.
func (c *Coordinator) EnableApp(ctx context.Context, userID string) error {
	if err := c.flags.SetTwoFactorEnabled(ctx, userID, true); err != nil {
		c.logger.ErrorContext(ctx, "enable app two-factor failed", "user_id", userID, "error", err)
		return fmt.Errorf("enable app two-factor: %w", err)
	}
	c.logger.InfoContext(ctx, "app two-factor enabled", "user_id", userID)
	return nil
}

// SendEmailCode issues a new email code, replacing any pending one.
func (c *Coordinator) SendEmailCode(ctx context.Context, userID string) (providers.EmailCode, error) {
	return c.p.Email.Generate(ctx, PurposeEmail, userID)
}

// EnableEmail turns on email two-factor and MFA for userID. Callers verify
// a code first.
func (c *Coordinator) EnableEmail(ctx context.Context, userID string) error {
	if err := c.flags.SetEmailTwoFactorEnabled(ctx, userID, true); err != nil {
		c.logger.ErrorContext(ctx, "enable email two-factor failed", "user_id", userID, "error", err)
		return fmt.Errorf("enable email two-factor: %w", err)
	}
	if err := c.flags.SetTwoFactorEnabled(ctx, userID, true); err != nil {
		c.logger.ErrorContext(ctx, "enable email two-factor failed", "user_id", userID, "error", err)
		return fmt.Errorf("enable email two-factor: %w", err)
	}
	c.logger.InfoContext(ctx, "email two-factor enabled", "user_id", userID)
	return nil
}

// GenerateRecoveryCodes replaces the recovery batch of userID.
func (c *Coordinator) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	return c.p.Recovery.Generate(ctx, PurposeRecovery, userID)
}

// CountRecoveryCodes returns how many recovery codes remain.
func (c *Coordinator) CountRecoveryCodes(ctx context.Context, userID string) (int, error) {
	return c.p.Recovery.CountValid(ctx, userID, PurposeRecovery)
}

// RemoveRecoveryCodes deletes the recovery batch of userID.
func (c *Coordinator) RemoveRecoveryCodes(ctx context.Context, userID string) error {
	return c.p.Recovery.Remove(ctx, userID, PurposeRecovery)
}

// DisableAll turns MFA off and deletes every second-factor artifact of
// userID, in this order: flags, recovery codes, TOTP secret, pending email
// code, remembered devices. The first failing step aborts the sequence and
// its error is returned; the steps already done are not rolled back but each
// of them is safe to repeat.
func (c *Coordinator) DisableAll(ctx context.Context, userID string) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"clear mfa flags", func(ctx context.Context) error {
			if err := c.flags.SetTwoFactorEnabled(ctx, userID, false); err != nil {
				return err
			}
			return c.flags.SetEmailTwoFactorEnabled(ctx, userID, false)
		}},
		{"remove recovery codes", func(ctx context.Context) error {
			return c.p.Recovery.Remove(ctx, userID, PurposeRecovery)
		}},
		{"remove totp secret", func(ctx context.Context) error {
			return c.p.App.Remove(ctx, userID, PurposeApp)
		}},
		{"remove pending email code", func(ctx context.Context) error {
			return c.p.Email.Remove(ctx, userID, PurposeEmail)
		}},
		{"forget remembered devices", func(ctx context.Context) error {
			if c.devices == nil {
				return nil
			}
			return c.devices.ForgetDevices(ctx, userID)
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("disable mfa: %s: %w", step.name, err)
		}
		if err := step.run(ctx); err != nil {
			c.logger.ErrorContext(ctx, "disable mfa step failed", "user_id", userID, "step", step.name, "error", err)
			return fmt.Errorf("disable mfa: %s: %w", step.name, err)
		}
		c.logger.InfoContext(ctx, "disable mfa step done", "user_id", userID, "step", step.name)
	}

	c.logger.InfoContext(ctx, "mfa disabled", "user_id", userID)
	return nil
}
