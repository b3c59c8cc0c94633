package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default values applied by ApplyDefaults.
const (
	// DefaultCoverageMinimum is the line-coverage percentage required when
	// the configuration does not set gates.coverage.minimum.
	DefaultCoverageMinimum = 80.0

	DefaultConcurrency      = 2
	DefaultDefaultBranch    = "main"
	DefaultInterpreter      = "python"
	DefaultRuntimeDimension = "python"
	DefaultDockerfile       = "Dockerfile"
	DefaultPlatform         = "linux/amd64"
	DefaultHealthRetries    = 30
	DefaultHealthInterval   = 2 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultRetention        = 30 * 24 * time.Hour
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultMaxRetryDelay    = 30 * time.Second
	DefaultEventSubject     = "forge.pipeline.events"

	DefaultSourceControlCredential    = "scm-token"
	DefaultRegistryUsernameCredential = "registry-username"
	DefaultRegistryPasswordCredential = "registry-password"

	// ReportsPlaceholder expands to the cell's report directory in gate commands.
	ReportsPlaceholder = "{reports}"
)

// DefaultManifests are the dependency manifests merged when none are configured.
var DefaultManifests = []string{"requirements.txt", "requirements/requirements.txt"}

// DefaultTools are installed in every environment to produce the gate reports.
var DefaultTools = []string{"pytest", "pytest-cov", "pytest-html", "flake8", "bandit"}

// DefaultTestCommand runs pytest with every report the gates consume.
var DefaultTestCommand = []string{
	"python", "-m", "pytest",
	"--junitxml=" + ReportsPlaceholder + "/junit.xml",
	"--html=" + ReportsPlaceholder + "/pytest_report.html", "--self-contained-html",
	"--cov=.",
	"--cov-report=xml:" + ReportsPlaceholder + "/coverage.xml",
	"--cov-report=json:" + ReportsPlaceholder + "/coverage.json",
}

// DefaultLintCommand runs flake8 into the lint report.
var DefaultLintCommand = []string{
	"python", "-m", "flake8", ".", "--exit-zero",
	"--output-file=" + ReportsPlaceholder + "/lint-report.txt",
}

// DefaultSecurityCommand runs bandit into the security report.
var DefaultSecurityCommand = []string{
	"python", "-m", "bandit", "-r", ".", "--exit-zero",
	"-f", "json", "-o", ReportsPlaceholder + "/security-report.json",
}

// DefaultWorkdir returns the work directory used when none is configured.
func DefaultWorkdir() string {
	return filepath.Join(xdg.CacheHome, "forge-pipeline")
}

// ApplyDefaults fills every unset field with its default value.
// It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Workdir == "" {
		c.Workdir = DefaultWorkdir()
	}
	if c.Repository.DefaultBranch == "" {
		c.Repository.DefaultBranch = DefaultDefaultBranch
	}

	c.applyEnvironmentDefaults()
	c.applyGateDefaults()

	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = BackendLocal
	}
	if c.Artifacts.Root == "" && c.Artifacts.Backend == BackendLocal {
		c.Artifacts.Root = filepath.Join(c.Workdir, "artifacts")
	}
	if c.Artifacts.Retention == 0 {
		c.Artifacts.Retention = DefaultRetention
	}

	if len(c.Image.Platforms) == 0 {
		c.Image.Platforms = []string{DefaultPlatform}
	}
	if c.Image.Dockerfile == "" {
		c.Image.Dockerfile = DefaultDockerfile
	}

	if c.Registry.MaxRetries == 0 {
		c.Registry.MaxRetries = DefaultMaxRetries
	}
	if c.Registry.RetryDelay == 0 {
		c.Registry.RetryDelay = DefaultRetryDelay
	}
	if c.Registry.MaxRetryDelay == 0 {
		c.Registry.MaxRetryDelay = DefaultMaxRetryDelay
	}

	if c.Credentials.SourceControl == "" {
		c.Credentials.SourceControl = DefaultSourceControlCredential
	}
	if c.Credentials.RegistryUsername == "" {
		c.Credentials.RegistryUsername = DefaultRegistryUsernameCredential
	}
	if c.Credentials.RegistryPassword == "" {
		c.Credentials.RegistryPassword = DefaultRegistryPasswordCredential
	}

	if c.Events.NATSURL != "" && c.Events.Subject == "" {
		c.Events.Subject = DefaultEventSubject
	}
}

func (c *Config) applyEnvironmentDefaults() {
	env := &c.Environment
	if env.Interpreter == "" {
		env.Interpreter = DefaultInterpreter
	}
	if env.RuntimeDimension == "" {
		env.RuntimeDimension = DefaultRuntimeDimension
	}
	if len(env.Manifests) == 0 {
		env.Manifests = append([]string(nil), DefaultManifests...)
	}
	if env.Tools == nil {
		env.Tools = append([]string(nil), DefaultTools...)
	}
	if svc := env.Service; svc != nil {
		if svc.HealthCheck.Retries == 0 {
			svc.HealthCheck.Retries = DefaultHealthRetries
		}
		if svc.HealthCheck.Interval == 0 {
			svc.HealthCheck.Interval = DefaultHealthInterval
		}
		if svc.HealthCheck.Timeout == 0 {
			svc.HealthCheck.Timeout = DefaultHealthTimeout
		}
	}
}

func (c *Config) applyGateDefaults() {
	g := &c.Gates
	if g.Coverage.Minimum == nil {
		m := DefaultCoverageMinimum
		g.Coverage.Minimum = &m
	}
	tests, lint, coverage, security := g.Blocking()
	g.Tests.Blocking = &tests
	g.Lint.Blocking = &lint
	g.Coverage.Blocking = &coverage
	g.Security.Blocking = &security

	if len(g.Tests.Command) == 0 {
		g.Tests.Command = append([]string(nil), DefaultTestCommand...)
	}
	if len(g.Lint.Command) == 0 {
		g.Lint.Command = append([]string(nil), DefaultLintCommand...)
	}
	if len(g.Security.Command) == 0 {
		g.Security.Command = append([]string(nil), DefaultSecurityCommand...)
	}
}
