package secrets

import (
	"errors"
	"fmt"
)

// Sentinels returned by providers, the manager and handles.
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrProviderError  = errors.New("provider error")
	ErrInvalidRef     = errors.New("invalid secret reference")
	ErrAccessDenied   = errors.New("access denied")

	// ErrHandleConsumed is returned when a one-time handle is used twice.
	ErrHandleConsumed = errors.New("secret handle already consumed")

	// ErrHandleCleared is returned when a handle is used after Clear.
	ErrHandleCleared = errors.New("secret handle cleared")
)

// ProviderError attributes a failure to a provider in the chain and the
// reference being looked up. It never carries a value.
type ProviderError struct {
	Provider string
	Ref      SecretRef
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q failed on secret %q: %v", e.Provider, e.Ref.Path, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err carries a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// WrapProviderError attributes err to provider and prefixes it with msg.
// A nil err stays nil.
func WrapProviderError(provider string, ref SecretRef, err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, &ProviderError{Provider: provider, Ref: ref, Err: err})
}

// IsSecretNotFound reports whether err indicates a missing secret.
func IsSecretNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}
