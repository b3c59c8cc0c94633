package secrets

import (
	"context"
	"fmt"
	"sync"
)

// fakeResolver is an in-package Provider used by tests.
type fakeResolver struct {
	name     string
	mu       sync.Mutex
	values   map[string]string
	resolves int
	existErr error
	issued   []*Secret
}

func (f *fakeResolver) Name() string                      { return f.name }
func (f *fakeResolver) HealthCheck(context.Context) error { return nil }
func (f *fakeResolver) Close() error                      { return nil }

func (f *fakeResolver) Resolve(_ context.Context, ref SecretRef) (*Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	v, ok := f.values[ref.Path]
	if !ok {
		return nil, fmt.Errorf("secret %q: %w", ref.Path, ErrSecretNotFound)
	}
	s := &Secret{Value: []byte(v)}
	f.issued = append(f.issued, s)
	return s, nil
}

func (f *fakeResolver) Exists(_ context.Context, ref SecretRef) (bool, error) {
	if f.existErr != nil {
		return false, f.existErr
	}
	_, ok := f.values[ref.Path]
	return ok, nil
}
