// Package config provides parsing, defaulting and validation of the forge
// pipeline configuration.
//
// The configuration is one explicit YAML document. It is loaded once, defaults
// are applied explicitly, and the validated value is handed to the pipeline
// engine. No stage reads process environment variables; every tunable lives in
// this structure.
//
// # Basic Usage
//
//	fs := osfs.New("/path/to/repo")
//
//	cfg, err := config.Load(ctx, fs, "forge-pipeline.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := pipeline.NewEngine(cfg, deps)
//
// # Defaults
//
// Load calls ApplyDefaults and Validate. Callers building a Config in code
// should do the same before using it:
//
//	cfg := &config.Config{Version: config.SchemaVersion}
//	cfg.ApplyDefaults()
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// Stage names understood by the pipeline engine.
const (
	StageCheckout   = "checkout"
	StageProvision  = "provision"
	StageTest       = "test"
	StageGate       = "gate"
	StageBuildImage = "build-image"
	StagePushImage  = "push-image"
)

// StageNames lists the stages in their fixed execution order.
var StageNames = []string{
	StageCheckout,
	StageProvision,
	StageTest,
	StageGate,
	StageBuildImage,
	StagePushImage,
}

// Artifact storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// Config is the root of the pipeline configuration.
type Config struct {
	// Version declares the configuration schema version. It must be
	// compatible with SchemaVersion.
	Version string `yaml:"version"`

	Repository  RepositoryConfig       `yaml:"repository"`
	Matrix      map[string][]string    `yaml:"matrix"`
	Concurrency int                    `yaml:"concurrency"`
	Workdir     string                 `yaml:"workdir"`
	Stages      map[string]StageConfig `yaml:"stages"`
	Environment EnvironmentConfig      `yaml:"environment"`
	Gates       GatesConfig            `yaml:"gates"`
	Artifacts   ArtifactsConfig        `yaml:"artifacts"`
	Image       ImageConfig            `yaml:"image"`
	Registry    RegistryConfig         `yaml:"registry"`
	Credentials CredentialsConfig      `yaml:"credentials"`
	Events      EventsConfig           `yaml:"events"`
}

// RepositoryConfig describes the source repository.
type RepositoryConfig struct {
	// Name identifies the repository in summaries and metrics.
	Name string `yaml:"name"`

	// URL is the clone URL.
	URL string `yaml:"url"`

	// DefaultBranch receives the "latest" tag on push.
	DefaultBranch string `yaml:"default_branch"`

	// TrackedBranches are branches whose pushes produce branch tags.
	// The default branch is always tracked.
	TrackedBranches []string `yaml:"tracked_branches"`

	// CloneDepth limits history fetched on checkout. Zero fetches everything.
	CloneDepth int `yaml:"clone_depth"`

	// TokenHosts restricts which https hosts receive the source-control
	// token ("github.com", "*.example.com"). Empty allows every host.
	TokenHosts []string `yaml:"token_hosts"`
}

// StageConfig toggles a stage and overrides its run condition.
type StageConfig struct {
	// Enabled disables the stage entirely when false.
	Enabled *bool `yaml:"enabled"`

	// If is an expression over trigger.* and cell.* evaluated immediately
	// before the stage runs. Empty uses the stage's default condition.
	If string `yaml:"if"`

	// Timeout bounds the stage's execution. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether the stage is enabled.
func (s StageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EnvironmentConfig configures the per-cell execution environment.
type EnvironmentConfig struct {
	// Interpreter is the interpreter binary prefix (e.g., "python").
	Interpreter string `yaml:"interpreter"`

	// RuntimeDimension names the matrix dimension holding the interpreter
	// version. The version is appended to Interpreter when probing.
	RuntimeDimension string `yaml:"runtime_dimension"`

	// Manifests are dependency manifests relative to the repository root,
	// merged in order. Missing manifests are skipped.
	Manifests []string `yaml:"manifests"`

	// Tools are extra packages installed next to the manifest dependencies.
	Tools []string `yaml:"tools"`

	// Variables are passed to every test, lint and scan command.
	Variables map[string]string `yaml:"variables"`

	// Service is an optional dependency started before tests.
	Service *ServiceConfig `yaml:"service"`
}

// ServiceConfig describes a containerized dependency such as a database.
type ServiceConfig struct {
	Name  string            `yaml:"name"`
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env"`

	// Ports lists published ports in docker syntax ("127.0.0.1:3306:3306/tcp").
	Ports []string `yaml:"ports"`

	HealthCheck HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig bounds the readiness poll of a service.
type HealthCheckConfig struct {
	// URL is probed with http(s) GET or a tcp dial ("tcp://127.0.0.1:3306").
	URL string `yaml:"url"`

	// Retries is the number of probes before giving up.
	Retries int `yaml:"retries"`

	// Interval is the fixed delay between probes.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single probe.
	Timeout time.Duration `yaml:"timeout"`
}

// GatesConfig holds the policy of every quality gate.
type GatesConfig struct {
	Tests    TestsGateConfig    `yaml:"tests"`
	Lint     LintGateConfig     `yaml:"lint"`
	Coverage CoverageGateConfig `yaml:"coverage"`
	Security SecurityGateConfig `yaml:"security"`
}

// TestsGateConfig configures the test suite and its gate.
type TestsGateConfig struct {
	Blocking *bool `yaml:"blocking"`

	// Command runs the test suite. "{reports}" expands to the report directory.
	Command []string `yaml:"command"`
}

// LintGateConfig configures the linter and its zero-tolerance gate.
type LintGateConfig struct {
	Blocking *bool    `yaml:"blocking"`
	Command  []string `yaml:"command"`

	// ExcludePaths are glob patterns; findings in matching files are ignored.
	ExcludePaths []string `yaml:"exclude_paths"`

	// IgnoreCodes are rule codes or code prefixes ("E501", "W") that are ignored.
	IgnoreCodes []string `yaml:"ignore_codes"`
}

// CoverageGateConfig configures the coverage threshold.
type CoverageGateConfig struct {
	Blocking *bool `yaml:"blocking"`

	// Minimum is the line-coverage percentage required to pass.
	Minimum *float64 `yaml:"minimum"`
}

// SecurityGateConfig configures the security scanner.
type SecurityGateConfig struct {
	// Blocking defaults to false: findings are recorded but never fail the cell.
	Blocking *bool    `yaml:"blocking"`
	Command  []string `yaml:"command"`

	// MaxFindings is the number of findings tolerated when blocking.
	MaxFindings int `yaml:"max_findings"`
}

// ArtifactsConfig configures artifact storage.
type ArtifactsConfig struct {
	// Backend is one of local, s3 or minio.
	Backend string `yaml:"backend"`

	// Root is the local directory, or the key prefix for object stores.
	Root string `yaml:"root"`

	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"use_ssl"`

	// Retention is how long artifacts are kept before Sweep deletes them.
	Retention time.Duration `yaml:"retention"`
}

// ImageConfig configures the container image build.
type ImageConfig struct {
	Registry  string `yaml:"registry"`
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`

	// Platforms lists target architectures ("linux/amd64").
	Platforms []string `yaml:"platforms"`

	// Dockerfile is relative to the repository root, which is the build context.
	Dockerfile string            `yaml:"dockerfile"`
	BuildArgs  map[string]string `yaml:"build_args"`

	// EnforcePolicy rejects Dockerfiles without a multi-stage build or with a root final user.
	EnforcePolicy bool `yaml:"enforce_policy"`

	// BuildCell names the matrix cell that builds and pushes the image.
	// Empty selects the first cell.
	BuildCell string `yaml:"build_cell"`

	// PruneCache prunes the builder cache during cleanup.
	PruneCache bool `yaml:"prune_cache"`
}

// RegistryConfig configures pushes to the container registry.
type RegistryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	PlainHTTP     bool          `yaml:"plain_http"`
}

// CredentialsConfig names the credentials the pipeline needs. Values are
// logical names resolved by the credential broker at point of use.
type CredentialsConfig struct {
	SourceControl    string `yaml:"source_control"`
	RegistryUsername string `yaml:"registry_username"`
	RegistryPassword string `yaml:"registry_password"`

	// ArtifactAccessKey and ArtifactSecretKey authenticate the minio backend.
	ArtifactAccessKey string `yaml:"artifact_access_key"`
	ArtifactSecretKey string `yaml:"artifact_secret_key"`

	// Refs maps logical names to provider references. Unmapped names
	// resolve with the name as the reference path.
	Refs map[string]secrets.SecretRef `yaml:"refs"`
}

// EventsConfig configures the optional NATS event sink.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Stage returns the configuration of the named stage.
func (c *Config) Stage(name string) StageConfig {
	if c.Stages == nil {
		return StageConfig{}
	}
	return c.Stages[name]
}

// IsTrackedBranch reports whether pushes to branch produce branch tags.
func (c *Config) IsTrackedBranch(branch string) bool {
	if branch == "" {
		return false
	}
	if branch == c.Repository.DefaultBranch {
		return true
	}
	for _, b := range c.Repository.TrackedBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// boolValue dereferences b, returning def when b is nil.
func boolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Blocking reports the effective blocking policy of each gate.
func (g GatesConfig) Blocking() (tests, lint, coverage, security bool) {
	return boolValue(g.Tests.Blocking, true),
		boolValue(g.Lint.Blocking, true),
		boolValue(g.Coverage.Blocking, true),
		boolValue(g.Security.Blocking, false)
}

// CoverageMinimum returns the configured minimum or DefaultCoverageMinimum.
func (g GatesConfig) CoverageMinimum() float64 {
	if g.Coverage.Minimum == nil {
		return DefaultCoverageMinimum
	}
	return *g.Coverage.Minimum
}
