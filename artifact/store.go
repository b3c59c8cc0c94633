// Package artifact stores the reports and logs produced by pipeline runs.
//
// Every artifact lives under a stable key derived from the run id, the matrix
// cell and the artifact name:
//
//	<run id>/reports/<cell>/<name>
//
// Keys are write-once. A Store rejects a second Put to the same key with
// ErrExists, so a published artifact can never be altered.
package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

var (
	// ErrExists is returned when a key has already been written.
	ErrExists = errors.New(errors.CodeAlreadyExists, "artifact already exists")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New(errors.CodeNotFound, "artifact not found")
)

// ReportsDir is the key segment holding per-cell reports.
const ReportsDir = "reports"

// SummaryName is the run summary artifact written once per run.
const SummaryName = "run-summary.json"

// Object describes a stored artifact.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store persists artifacts under string keys.
type Store interface {
	// Put writes r under key. It fails with ErrExists if key is taken.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens key for reading. It fails with ErrNotFound if key is missing.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key returns the storage key of a cell artifact.
func Key(runID, cell, name string) string {
	return path.Join(runID, ReportsDir, cell, name)
}

// CellPrefix returns the key prefix holding every artifact of a cell.
func CellPrefix(runID, cell string) string {
	return path.Join(runID, ReportsDir, cell) + "/"
}

// SummaryKey returns the key of a run's summary.
func SummaryKey(runID string) string {
	return path.Join(runID, SummaryName)
}

// ValidateKey rejects keys that could escape the store root or collide with
// directory entries.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("artifact key must not be empty")
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("artifact key %q must be relative", key)
	case strings.HasSuffix(key, "/"):
		return fmt.Errorf("artifact key %q must not end with a slash", key)
	case path.Clean(key) != key:
		return fmt.Errorf("artifact key %q is not in canonical form", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("artifact key %q must not contain relative segments", key)
		}
	}
	return nil
}
