// Package env provides a secret provider backed by process environment
// variables, the way CI runners inject repository secrets.
//
// A reference path such as "registry/password" maps to the variable
// PREFIX + "REGISTRY_PASSWORD": letters are upper-cased and every other
// non-alphanumeric character becomes an underscore.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// Provider resolves secrets from environment variables.
type Provider struct {
	prefix string
	lookup LookupFunc
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrefix sets the variable name prefix (e.g., "FORGE_SECRET_").
func WithPrefix(prefix string) Option {
	return func(p *Provider) {
		p.prefix = prefix
	}
}

// WithLookup replaces os.LookupEnv. Used by tests.
func WithLookup(lookup LookupFunc) Option {
	return func(p *Provider) {
		p.lookup = lookup
	}
}

// New creates an environment provider.
func New(opts ...Option) *Provider {
	p := &Provider{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "env"
}

// HealthCheck always succeeds.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// VariableName returns the environment variable consulted for ref.
func (p *Provider) VariableName(ref secrets.SecretRef) string {
	var b strings.Builder
	b.WriteString(p.prefix)
	for _, r := range ref.Path {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Resolve reads the variable for ref. Empty variables count as missing.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("resolve: %w", secrets.ErrInvalidRef)
	}

	name := p.VariableName(ref)
	value, ok := p.lookup(name)
	if !ok || value == "" {
		return nil, fmt.Errorf("variable %s: %w", name, secrets.ErrSecretNotFound)
	}

	return &secrets.Secret{
		Value:     []byte(value),
		CreatedAt: time.Now(),
	}, nil
}

// Exists reports whether the variable for ref is set and non-empty.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if ref.Path == "" {
		return false, fmt.Errorf("exists: %w", secrets.ErrInvalidRef)
	}
	value, ok := p.lookup(p.VariableName(ref))
	return ok && value != "", nil
}
