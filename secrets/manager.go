package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Config holds the configuration for the Manager.
type Config struct {
	// AutoClear controls whether resolved secrets clear their memory after Bytes().
	AutoClear bool

	// AuditLogger receives an entry for every lookup. Nil disables auditing.
	AuditLogger AuditLogger
}

// Manager chains providers. Lookups consult providers in registration order
// and the first provider holding a reference serves it, so runner-injected
// environment secrets can shadow a shared secrets backend.
//
// A provider error stops the chain: a later provider never serves a secret
// an earlier provider failed to answer for.
type Manager struct {
	mu          sync.RWMutex
	providers   []Provider
	autoClear   bool
	auditLogger AuditLogger
}

// NewManager creates an empty Manager.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	return &Manager{
		autoClear:   config.AutoClear,
		auditLogger: config.AuditLogger,
	}
}

// Register appends provider to the chain. Provider names must be unique.
func (m *Manager) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	name := provider.Name()
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.Name() == name {
			return fmt.Errorf("provider %q already registered", name)
		}
	}
	m.providers = append(m.providers, provider)
	return nil
}

// Providers returns the provider names in lookup order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve returns the secret from the first provider that holds ref.
func (m *Manager) Resolve(ctx context.Context, ref SecretRef) (*Secret, error) {
	provider, err := m.locate(ctx, ref)
	if err != nil {
		m.audit(ctx, "resolve", ref, err)
		return nil, err
	}

	secret, err := provider.Resolve(ctx, ref)
	m.audit(ctx, "resolve", ref, err)
	if err != nil {
		return nil, WrapProviderError(provider.Name(), ref, err, "failed to resolve secret")
	}
	secret.AutoClear = m.autoClear
	return secret, nil
}

// Exists reports whether any provider holds ref.
func (m *Manager) Exists(ctx context.Context, ref SecretRef) (bool, error) {
	_, err := m.locate(ctx, ref)
	m.audit(ctx, "exists", ref, err)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSecretNotFound) && !IsProviderError(err):
		return false, nil
	default:
		return false, err
	}
}

// locate finds the first provider holding ref.
func (m *Manager) locate(ctx context.Context, ref SecretRef) (Provider, error) {
	m.mu.RLock()
	providers := append([]Provider(nil), m.providers...)
	m.mu.RUnlock()

	if len(providers) == 0 {
		return nil, fmt.Errorf("no secrets provider registered")
	}
	for _, p := range providers {
		ok, err := p.Exists(ctx, ref)
		if err != nil {
			return nil, WrapProviderError(p.Name(), ref, err, "failed to check existence")
		}
		if ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("secret %q not held by any provider: %w", ref.Path, ErrSecretNotFound)
}

// HealthCheck checks every registered provider.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, p := range m.providers {
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider %q unhealthy: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every provider and empties the chain.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", p.Name(), err))
		}
	}
	m.providers = nil
	return errors.Join(errs...)
}

func (m *Manager) audit(ctx context.Context, action string, ref SecretRef, err error) {
	if m.auditLogger != nil {
		m.auditLogger.LogAccess(ctx, action, ref, err == nil, err)
	}
}
