package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the configuration schema version understood by this module.
const SchemaVersion = "0.1.0"

// IsCompatible checks whether a configuration's declared version can be read
// by this module. It uses a caret constraint on SchemaVersion, so for 0.x
// versions only patch releases are compatible.
//
// Returns false with no error for incompatible versions and an error when the
// version string cannot be parsed.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid configuration version %q: %w", version, err)
	}

	return constraint.Check(v), nil
}
