// Package memory holds secrets in process memory. It backs tests and local
// dry runs where no secret store is available.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// key addresses one version of a secret. The empty version is the latest.
type key struct {
	path    string
	version string
}

func keyOf(ref secrets.SecretRef) key {
	return key{path: ref.Path, version: ref.Version}
}

// Provider is an in-memory secret store. Values are copied on the way in and
// on the way out, so callers clearing a resolved secret never touch the store.
type Provider struct {
	mu      sync.RWMutex
	secrets map[key]*secrets.Secret
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{secrets: make(map[key]*secrets.Secret)}
}

// FromMap returns a provider holding the latest version of each path.
func FromMap(values map[string]string) *Provider {
	p := New()
	now := time.Now()
	for path, v := range values {
		p.secrets[key{path: path}] = &secrets.Secret{Value: []byte(v), CreatedAt: now}
	}
	return p
}

func (p *Provider) Name() string                      { return "memory" }
func (p *Provider) HealthCheck(context.Context) error { return nil }

// Close zeroes every stored value and empties the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.secrets {
		s.Clear()
		delete(p.secrets, k)
	}
	return nil
}

// Resolve returns a copy of the stored secret.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref.Path, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.secrets[keyOf(ref)]
	if !ok {
		return nil, fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}
	return &secrets.Secret{
		Value:     append([]byte(nil), s.Value...),
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
	}, nil
}

func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists %q: %w", ref.Path, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.secrets[keyOf(ref)]
	return ok, nil
}

// Store saves a copy of value under ref, replacing any previous value.
func (p *Provider) Store(_ context.Context, ref secrets.SecretRef, value []byte) error {
	if ref.Path == "" {
		return fmt.Errorf("store: %w", secrets.ErrInvalidRef)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.secrets[keyOf(ref)]; ok {
		old.Clear()
	}
	p.secrets[keyOf(ref)] = &secrets.Secret{
		Value:     append([]byte(nil), value...),
		Version:   ref.Version,
		CreatedAt: time.Now(),
	}
	return nil
}

// Delete zeroes and removes ref.
func (p *Provider) Delete(_ context.Context, ref secrets.SecretRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.secrets[keyOf(ref)]
	if !ok {
		return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}
	s.Clear()
	delete(p.secrets, keyOf(ref))
	return nil
}
