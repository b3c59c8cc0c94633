package config

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// LoadOptions configures the behavior of configuration loading.
type LoadOptions struct {
	// SkipValidation disables validation after defaults are applied.
	SkipValidation bool
}

// Load reads, defaults and validates the configuration at path.
func Load(ctx context.Context, filesystem billy.Basic, path string) (*Config, error) {
	return LoadWithOptions(ctx, filesystem, path, LoadOptions{})
}

// LoadWithOptions loads a configuration with custom options.
func LoadWithOptions(ctx context.Context, filesystem billy.Basic, path string, opts LoadOptions) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCancelled, "configuration load cancelled")
	}

	data, err := util.ReadFile(filesystem, path)
	if err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeInvalidConfig,
			"failed to read configuration",
			map[string]interface{}{
				"path": path,
			},
		)
	}

	cfg, err := parse(data, opts)
	if err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeInvalidConfig,
			"failed to load configuration",
			map[string]interface{}{
				"path": path,
			},
		)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	return parse(data, LoadOptions{})
}

func parse(data []byte, opts LoadOptions) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, errors.New(errors.CodeInvalidConfig, "configuration is empty")
		}
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode configuration")
	}

	cfg.ApplyDefaults()

	if !opts.SkipValidation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
