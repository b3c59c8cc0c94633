package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// Validate checks the configuration for structural and referential errors.
// All problems are collected and reported in a single CodeInvalidConfig error.
// Validate expects ApplyDefaults to have been called.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c.validateVersion(add)

	if c.Repository.URL == "" {
		add("repository.url is required")
	}
	if c.Repository.CloneDepth < 0 {
		add("repository.clone_depth must not be negative")
	}
	if c.Concurrency < 1 {
		add("concurrency must be at least 1, got %d", c.Concurrency)
	}

	c.validateMatrix(add)
	c.validateStages(add)
	c.validateEnvironment(add)
	c.validateGates(add)
	c.validateArtifacts(add)
	c.validateImage(add)

	if c.Registry.MaxRetries < 0 {
		add("registry.max_retries must not be negative")
	}
	if c.Registry.RetryDelay < 0 || c.Registry.MaxRetryDelay < 0 {
		add("registry retry delays must not be negative")
	}

	if len(problems) > 0 {
		return errors.New(
			errors.CodeInvalidConfig,
			fmt.Sprintf("configuration validation failed: %s", strings.Join(problems, "; ")),
		)
	}
	return nil
}

type addFunc func(format string, args ...interface{})

func (c *Config) validateVersion(add addFunc) {
	if c.Version == "" {
		add("version is required (current schema version is %s)", SchemaVersion)
		return
	}
	ok, err := IsCompatible(c.Version)
	if err != nil {
		add("%v", err)
		return
	}
	if !ok {
		add("version %s is not compatible with schema version %s", c.Version, SchemaVersion)
	}
}

// matrixNamePattern bounds matrix dimension names and values. They become
// cell names, which name directories and artifact key segments.
var matrixNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func validMatrixName(s string) bool {
	return s != "." && s != ".." && matrixNamePattern.MatchString(s)
}

func (c *Config) validateMatrix(add addFunc) {
	for dim, values := range c.Matrix {
		if dim == "" {
			add("matrix dimension name must not be empty")
			continue
		}
		if !validMatrixName(dim) {
			add("matrix dimension %q must use only letters, digits, '.', '_' and '-'", dim)
			continue
		}
		if len(values) == 0 {
			add("matrix.%s must declare at least one value", dim)
		}
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			switch {
			case v == "":
				add("matrix.%s contains an empty value", dim)
			case !validMatrixName(v):
				add("matrix.%s value %q must use only letters, digits, '.', '_' and '-'", dim, v)
			}
			if seen[v] {
				add("matrix.%s contains duplicate value %q", dim, v)
			}
			seen[v] = true
		}
	}
}

func (c *Config) validateStages(add addFunc) {
	for name := range c.Stages {
		if !isKnownStage(name) {
			add("unknown stage %q (available stages: %s)", name, strings.Join(StageNames, ", "))
		}
	}
}

func isKnownStage(name string) bool {
	for _, s := range StageNames {
		if s == name {
			return true
		}
	}
	return false
}

func (c *Config) validateEnvironment(add addFunc) {
	env := c.Environment
	if env.Interpreter == "" {
		add("environment.interpreter is required")
	}
	svc := env.Service
	if svc == nil {
		return
	}
	if svc.Image == "" {
		add("environment.service.image is required")
	}
	hc := svc.HealthCheck
	if hc.URL == "" {
		add("environment.service.health_check.url is required")
	} else if u, err := url.Parse(hc.URL); err != nil {
		add("environment.service.health_check.url is invalid: %v", err)
	} else {
		switch u.Scheme {
		case "http", "https", "tcp":
		default:
			add("environment.service.health_check.url scheme %q is not supported (http, https, tcp)", u.Scheme)
		}
	}
	if hc.Retries < 1 {
		add("environment.service.health_check.retries must be at least 1")
	}
	if hc.Interval <= 0 {
		add("environment.service.health_check.interval must be positive")
	}
}

func (c *Config) validateGates(add addFunc) {
	m := c.Gates.CoverageMinimum()
	if m < 0 || m > 100 {
		add("gates.coverage.minimum must be between 0 and 100, got %g", m)
	}
	if c.Gates.Security.MaxFindings < 0 {
		add("gates.security.max_findings must not be negative")
	}
	if len(c.Gates.Tests.Command) == 0 {
		add("gates.tests.command is required")
	}
}

func (c *Config) validateArtifacts(add addFunc) {
	a := c.Artifacts
	switch a.Backend {
	case BackendLocal:
		if a.Root == "" {
			add("artifacts.root is required for the local backend")
		}
	case BackendS3:
		if a.Bucket == "" {
			add("artifacts.bucket is required for the s3 backend")
		}
	case BackendMinIO:
		if a.Bucket == "" {
			add("artifacts.bucket is required for the minio backend")
		}
		if a.Endpoint == "" {
			add("artifacts.endpoint is required for the minio backend")
		}
	default:
		add("artifacts.backend %q is not supported (local, s3, minio)", a.Backend)
	}
	if a.Retention < 0 {
		add("artifacts.retention must not be negative")
	}
}

func (c *Config) validateImage(add addFunc) {
	img := c.Image
	building := c.Stage(StageBuildImage).IsEnabled()
	pushing := c.Stage(StagePushImage).IsEnabled()

	if building && img.Name == "" {
		add("image.name is required when the build-image stage is enabled")
	}
	if pushing {
		if img.Registry == "" {
			add("image.registry is required when the push-image stage is enabled")
		}
		if img.Namespace == "" {
			add("image.namespace is required when the push-image stage is enabled")
		}
	}
	for _, p := range img.Platforms {
		parts := strings.Split(p, "/")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			add("image.platforms entry %q must be os/arch[/variant]", p)
		}
	}
}
