package secrets

import (
	"context"
	"log/slog"
	"sort"

	ferrors "github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// Broker resolves logical credential names to scoped Handles. It is shared
// by all matrix cells and holds no mutable state after construction.
type Broker struct {
	resolver Resolver
	refs     map[string]SecretRef
	logger   *slog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the logger used for broker diagnostics.
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

// NewBroker creates a Broker over resolver. refs maps logical credential
// names (e.g., "registry-password") to backend references. Names without a
// mapping resolve to a reference whose path is the name itself.
func NewBroker(resolver Resolver, refs map[string]SecretRef, opts ...BrokerOption) *Broker {
	copied := make(map[string]SecretRef, len(refs))
	for k, v := range refs {
		copied[k] = v
	}

	b := &Broker{
		resolver: resolver,
		refs:     copied,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve returns a one-time Handle for the named credential. The secret must
// exist at the point of use; a missing secret is a PROVISIONING_FAILED error
// naming the credential.
func (b *Broker) Resolve(ctx context.Context, name string) (*Handle, error) {
	if name == "" {
		return nil, ferrors.New(ferrors.CodeInvalidInput, "credential name cannot be empty")
	}
	if b.resolver == nil {
		return nil, ferrors.Newf(ferrors.CodeProvisioningFailed, "credential %q: no secrets provider configured", name)
	}

	ref := b.ref(name)
	exists, err := b.resolver.Exists(ctx, ref)
	if err != nil {
		return nil, ferrors.WrapWithContext(err, ferrors.CodeProvisioningFailed,
			"credential lookup failed", map[string]interface{}{"credential": name})
	}
	if !exists {
		b.logger.WarnContext(ctx, "credential missing", "credential", name, "path", ref.Path)
		return nil, ferrors.WrapWithContext(ErrSecretNotFound, ferrors.CodeProvisioningFailed,
			"required credential is missing", map[string]interface{}{"credential": name})
	}

	return NewHandle(name, ref, b.resolver), nil
}

// Names returns the configured logical credential names in sorted order.
func (b *Broker) Names() []string {
	names := make([]string, 0, len(b.refs))
	for name := range b.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) ref(name string) SecretRef {
	if ref, ok := b.refs[name]; ok {
		return ref
	}
	return SecretRef{Path: name}
}
