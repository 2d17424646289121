package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// DefaultEnvKey is the environment variable holding the passphrase.
const DefaultEnvKey = "TOKEN_ENCRYPTION_KEY"

// InsecurePassphrase is the development fallback. Anyone with this source code can
// decrypt credentials protected by it.
const InsecurePassphrase = "dev-key-1234567890"

// ErrNotFound is returned when a provider holds no passphrase.
var ErrNotFound = errors.New("passphrase not found")

// Provider returns the passphrase used to derive the credential encryption key.
type Provider interface {
	Passphrase(ctx context.Context) (string, error)
	// Name identifies the provider in logs.
	Name() string
}

// EnvProvider reads the passphrase from an environment variable.
type EnvProvider struct {
	envKey string
}

// Compile-time check to ensure EnvProvider implements Provider
var _ Provider = (*EnvProvider)(nil)

// NewEnvProvider returns an EnvProvider for envKey, or DefaultEnvKey when empty.
func NewEnvProvider(envKey string) *EnvProvider {
	if envKey == "" {
		envKey = DefaultEnvKey
	}
	return &EnvProvider{envKey: envKey}
}

// Passphrase returns the variable's value or ErrNotFound when unset or empty.
func (e *EnvProvider) Passphrase(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value := os.Getenv(e.envKey)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrNotFound, e.envKey)
	}
	return value, nil
}

// Name implements Provider.
func (e *EnvProvider) Name() string { return "env:" + e.envKey }

// KeyringProvider reads the passphrase from the OS keyring.
type KeyringProvider struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringProvider implements Provider
var _ Provider = (*KeyringProvider)(nil)

// NewKeyringProvider creates a KeyringProvider for the given service and user.
func NewKeyringProvider(service, user string) (*KeyringProvider, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	return &KeyringProvider{service: service, user: user}, nil
}

// Passphrase returns the keyring entry or ErrNotFound when there is none.
func (k *KeyringProvider) Passphrase(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: no keyring entry for %s/%s", ErrNotFound, k.service, k.user)
		}
		return "", fmt.Errorf("reading keyring: %w", err)
	}
	if value == "" {
		return "", fmt.Errorf("%w: empty keyring entry for %s/%s", ErrNotFound, k.service, k.user)
	}
	return value, nil
}

// Store writes the passphrase to the keyring, replacing any existing value.
func (k *KeyringProvider) Store(ctx context.Context, passphrase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}
	return keyring.Set(k.service, k.user, passphrase)
}

// Name implements Provider.
func (k *KeyringProvider) Name() string { return "keyring:" + k.service }

// InsecureProvider returns InsecurePassphrase and warns on every use.
type InsecureProvider struct{}

// Compile-time check to ensure InsecureProvider implements Provider
var _ Provider = InsecureProvider{}

// Passphrase implements Provider.
func (InsecureProvider) Passphrase(ctx context.Context) (string, error) {
	slog.WarnContext(ctx, "using built-in development passphrase for credential encryption; set "+DefaultEnvKey+" or store a passphrase in the keyring")
	return InsecurePassphrase, nil
}

// Name implements Provider.
func (InsecureProvider) Name() string { return "insecure-default" }

// Chain tries each provider in order and returns the first passphrase found.
type Chain []Provider

// Compile-time check to ensure Chain implements Provider
var _ Provider = Chain(nil)

// Passphrase returns the first passphrase found. Errors other than ErrNotFound abort.
func (c Chain) Passphrase(ctx context.Context) (string, error) {
	for _, p := range c {
		value, err := p.Passphrase(ctx)
		if err == nil {
			slog.DebugContext(ctx, "credential passphrase resolved", "provider", p.Name())
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return "", ErrNotFound
}

// Name implements Provider.
func (c Chain) Name() string { return "chain" }

// Optional treats every failure of the wrapped provider as ErrNotFound, so a
// missing keyring backend does not stop a Chain from falling through.
type Optional struct {
	Provider Provider
}

// Compile-time check to ensure Optional implements Provider
var _ Provider = Optional{}

// Passphrase implements Provider.
func (o Optional) Passphrase(ctx context.Context) (string, error) {
	value, err := o.Provider.Passphrase(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.DebugContext(ctx, "passphrase provider unavailable", "provider", o.Provider.Name(), "error", err)
		return "", fmt.Errorf("%w: %s unavailable: %v", ErrNotFound, o.Provider.Name(), err)
	}
	return value, err
}

// Name implements Provider.
func (o Optional) Name() string { return o.Provider.Name() }
