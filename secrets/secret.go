// Package secrets implements the credential broker of the pipeline engine:
// named secret references resolved to values only at the point of use.
//
// # Basic Usage
//
// Register providers with a Manager, in lookup order, and hand it to a
// Broker together with the logical credential names the pipeline needs:
//
//	manager := secrets.NewManager(nil)
//	_ = manager.Register(env.New(env.WithPrefix("FORGE_SECRET_")))
//	_ = manager.Register(awsProvider)
//
//	broker := secrets.NewBroker(manager, map[string]secrets.SecretRef{
//		"registry-password": {Path: "registry/password"},
//	})
//
//	handle, err := broker.Resolve(ctx, "registry-password")
//	if err != nil {
//		return err // PROVISIONING_FAILED naming the credential
//	}
//	defer handle.Clear()
//
//	err = handle.Use(ctx, func(value []byte) error {
//		return login(value)
//	})
//
// # Security Features
//
//   - Values are only reachable inside Handle.Use callbacks and are zeroed afterwards
//   - Handles are one-time by default
//   - Secret and Handle render as [REDACTED] through fmt, slog and encoding/json
//   - Resolution is audited through slog without values
package secrets

import (
	"log/slog"
	"time"
)

// Redacted is the placeholder rendered instead of any secret value.
const Redacted = "[REDACTED]"

// Secret represents a resolved secret value with metadata.
// The value is never rendered by fmt, slog or encoding/json.
type Secret struct {
	// Value contains the secret data. It must never be logged or persisted.
	Value []byte
	// Version indicates the version of this secret (empty for latest).
	Version string
	// CreatedAt records when this secret was created.
	CreatedAt time.Time
	// ExpiresAt indicates when this secret expires (nil means no expiration).
	ExpiresAt *time.Time
	// AutoClear controls whether Bytes clears the value after use.
	AutoClear bool
}

// SecretRef represents a reference to a secret without containing the actual value.
type SecretRef struct {
	// Path identifies the secret location (e.g., "registry/password").
	Path string `json:"path" yaml:"path"`
	// Version specifies which version of the secret to retrieve (empty for latest).
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Metadata contains additional provider-specific information.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Bytes returns a copy of the secret value.
// If AutoClear is enabled, the secret value is cleared after use.
func (s *Secret) Bytes() []byte {
	if s.Value == nil {
		return nil
	}

	value := make([]byte, len(s.Value))
	copy(value, s.Value)

	if s.AutoClear {
		s.Clear()
	}

	return value
}

// Clear zeroes the secret value in memory and drops the reference.
func (s *Secret) Clear() {
	if s.Value != nil {
		zero(s.Value)
		s.Value = nil
	}
}

// String implements fmt.Stringer without revealing the value.
func (s *Secret) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer without revealing the value.
func (s *Secret) GoString() string {
	return Redacted
}

// LogValue implements slog.LogValuer without revealing the value.
func (s *Secret) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// MarshalJSON implements json.Marshaler without revealing the value.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
