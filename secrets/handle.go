package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handle is a scoped reference to a named credential. The value is resolved
// lazily inside Use and zeroed as soon as the callback returns. A Handle
// cannot be rendered into logs or serialized output.
type Handle struct {
	name       string
	ref        SecretRef
	resolver   Resolver
	oneTimeUse bool
	consumed   bool
	cleared    bool
	mu         sync.Mutex
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithOneTimeUse sets whether the handle is consumed by its first Use.
// Default is true.
func WithOneTimeUse(oneTime bool) HandleOption {
	return func(h *Handle) {
		h.oneTimeUse = oneTime
	}
}

// NewHandle creates a Handle for ref. The name is the logical credential
// name used in error messages.
func NewHandle(name string, ref SecretRef, resolver Resolver, opts ...HandleOption) *Handle {
	h := &Handle{
		name:       name,
		ref:        ref,
		resolver:   resolver,
		oneTimeUse: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the logical credential name.
func (h *Handle) Name() string {
	return h.name
}

// Use resolves the secret and passes its value to fn. The value slice is
// zeroed after fn returns and must not be retained.
func (h *Handle) Use(ctx context.Context, fn func(value []byte) error) error {
	h.mu.Lock()
	if h.cleared {
		h.mu.Unlock()
		return fmt.Errorf("credential %q: %w", h.name, ErrHandleCleared)
	}
	if h.oneTimeUse && h.consumed {
		h.mu.Unlock()
		return fmt.Errorf("credential %q: %w", h.name, ErrHandleConsumed)
	}
	h.consumed = true
	h.mu.Unlock()

	if h.resolver == nil {
		return fmt.Errorf("credential %q: no resolver configured", h.name)
	}

	secret, err := h.resolver.Resolve(ctx, h.ref)
	if err != nil {
		return fmt.Errorf("credential %q: %w", h.name, err)
	}
	defer secret.Clear()

	return fn(secret.Value)
}

// Consumed reports whether a one-time handle has been used.
func (h *Handle) Consumed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.oneTimeUse && h.consumed
}

// Clear invalidates the handle. Any later Use fails with ErrHandleCleared.
// Safe to call multiple times.
func (h *Handle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = true
	h.resolver = nil
}

// String implements fmt.Stringer without revealing the value.
func (h *Handle) String() string {
	return fmt.Sprintf("credential(%s)=%s", h.name, Redacted)
}

// GoString implements fmt.GoStringer without revealing the value.
func (h *Handle) GoString() string {
	return h.String()
}

// LogValue implements slog.LogValuer without revealing the value.
func (h *Handle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", h.name),
		slog.String("value", Redacted),
	)
}

// MarshalJSON implements json.Marshaler without revealing the value.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}
