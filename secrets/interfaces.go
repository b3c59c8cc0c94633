package secrets

import "context"

// Resolver fetches secret values on demand.
type Resolver interface {
	// Resolve returns the secret at ref. A missing secret yields an error
	// wrapping ErrSecretNotFound.
	Resolve(ctx context.Context, ref SecretRef) (*Secret, error)

	// Exists reports whether ref is held without fetching its value.
	Exists(ctx context.Context, ref SecretRef) (bool, error)
}

// Provider is a secret backend that can be chained in a Manager.
type Provider interface {
	Resolver

	// Name identifies the provider in the chain ("env", "aws", "memory").
	Name() string

	HealthCheck(ctx context.Context) error
	Close() error
}
