// Package environment provisions the isolated execution environment of a
// matrix cell: it probes the interpreter selected by the cell's runtime
// parameter, creates a virtual environment, installs dependencies merged from
// the configured manifests, and starts and health-polls an optional service
// container.
//
// Any provisioning failure is a PROVISIONING_FAILED error that is fatal to
// the cell, never to the run.
package environment

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
)

// LockFile is the merged requirements file written into the environment.
const LockFile = "requirements.lock.txt"

// Request describes the environment to provision.
type Request struct {
	RunID  string
	Cell   string
	Params map[string]string

	// RepoDir is the checked-out repository; manifests are read from it.
	RepoDir string

	// WorkDir is the cell's private work directory.
	WorkDir string

	// Console receives tool output.
	Console io.Writer
}

// Provisioner builds environments.
type Provisioner struct {
	exec   executor.Runner
	docker ContainerAPI
	health *HealthChecker
	cfg    config.EnvironmentConfig
	logger *slog.Logger

	installRetries int
	installDelay   time.Duration
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithDocker sets the Docker client used for service containers.
func WithDocker(docker ContainerAPI) Option {
	return func(p *Provisioner) {
		p.docker = docker
	}
}

// WithHealthChecker sets the service health checker.
func WithHealthChecker(h *HealthChecker) Option {
	return func(p *Provisioner) {
		p.health = h
	}
}

// WithInstallRetry configures retries of the dependency install.
func WithInstallRetry(retries int, delay time.Duration) Option {
	return func(p *Provisioner) {
		p.installRetries = retries
		p.installDelay = delay
	}
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(exec executor.Runner, cfg config.EnvironmentConfig, opts ...Option) *Provisioner {
	p := &Provisioner{
		exec:           exec,
		cfg:            cfg,
		logger:         slog.Default(),
		installRetries: 2,
		installDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.health == nil {
		p.health = NewHealthChecker(WithHealthLogger(p.logger))
	}
	return p
}

// Interpreter returns the interpreter binary for a cell's parameters
// ("python" + "3.11").
func (p *Provisioner) Interpreter(params map[string]string) string {
	return p.cfg.Interpreter + params[p.cfg.RuntimeDimension]
}

// Provision builds the environment for one cell.
//
// The returned Environment is non-nil whenever any resource was created,
// including on error, and must be released by the caller in either case.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Environment, error) {
	logger := p.logger.With("run_id", req.RunID, "cell", req.Cell)

	env := &Environment{
		Cell:        req.Cell,
		Dir:         filepath.Join(req.WorkDir, "env"),
		Interpreter: p.Interpreter(req.Params),
		Vars:        copyMap(p.cfg.Variables),
		docker:      p.docker,
	}

	version, err := p.probe(ctx, env.Interpreter, req.Console)
	if err != nil {
		return nil, err
	}
	env.Version = version

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, provisioningError(err, "failed to create work directory", req.Cell)
	}

	if _, err := p.exec.Run(ctx, executor.Command{
		Program: env.Interpreter,
		Args:    []string{"-m", "venv", env.Dir},
	}, p.output(req.Console)...); err != nil {
		return env, provisioningError(err, "failed to create virtual environment", req.Cell)
	}
	env.Python = filepath.Join(env.BinDir(), "python")

	if err := p.install(ctx, env, req); err != nil {
		return env, err
	}
	for _, c := range env.Conflicts {
		logger.WarnContext(ctx, "manifest conflict", "package", c.Package,
			"kept", c.Kept, "kept_source", c.KeptSource, "ignored", c.Ignored, "ignored_source", c.IgnoredSource)
	}

	if svc := p.cfg.Service; svc != nil {
		if err := p.startService(ctx, env, svc, req); err != nil {
			return env, err
		}
	}

	logger.InfoContext(ctx, "environment provisioned",
		"interpreter", env.Interpreter, "version", env.Version,
		"requirements", len(env.Requirements), "conflicts", len(env.Conflicts))
	return env, nil
}

func (p *Provisioner) probe(ctx context.Context, interpreter string, console io.Writer) (string, error) {
	res, err := p.exec.Run(ctx, executor.Command{
		Program: interpreter,
		Args:    []string{"--version"},
	}, p.output(console)...)
	if err != nil {
		return "", errors.WrapWithContext(err, errors.CodeProvisioningFailed, "interpreter not available",
			map[string]interface{}{"interpreter": interpreter})
	}
	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		version = strings.TrimSpace(res.Stderr)
	}
	return version, nil
}

func (p *Provisioner) install(ctx context.Context, env *Environment, req Request) error {
	manifests, err := LoadManifests(req.RepoDir, p.cfg.Manifests)
	if err != nil {
		return provisioningError(err, "failed to read dependency manifests", req.Cell)
	}
	merged, conflicts := Merge(manifests)
	env.Requirements = merged.Requirements
	env.Conflicts = conflicts

	args := []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input"}
	base := len(args)
	if len(merged.Requirements) > 0 || len(merged.Options) > 0 {
		lock := filepath.Join(env.Dir, LockFile)
		if err := WriteLock(lock, merged); err != nil {
			return provisioningError(err, "failed to write lock file", req.Cell)
		}
		args = append(args, "-r", lock)
	}
	args = append(args, p.cfg.Tools...)
	if len(args) == base {
		return nil
	}

	opts := append(p.output(req.Console),
		executor.WithRetry(p.installRetries, p.installDelay),
		executor.WithRetryCondition(func(err error) bool {
			return ctx.Err() == nil
		}),
	)
	if _, err := p.exec.Run(ctx, executor.Command{
		Program: env.Python,
		Args:    args,
		Dir:     req.RepoDir,
		Env:     map[string]string{"VIRTUAL_ENV": env.Dir},
	}, opts...); err != nil {
		return provisioningError(err, "dependency installation failed", req.Cell)
	}
	return nil
}

func (p *Provisioner) startService(ctx context.Context, env *Environment, svc *config.ServiceConfig, req Request) error {
	if p.docker == nil {
		return errors.New(errors.CodeProvisioningFailed, "a service is configured but no container runtime is available")
	}

	id, err := startService(ctx, p.docker, svc, req.RunID, req.Cell)
	env.ContainerID = id
	if err != nil {
		return provisioningError(err, "failed to start service", req.Cell)
	}

	if err := p.health.Wait(ctx, svc.HealthCheck); err != nil {
		if errors.CodeOf(err) == errors.CodeCancelled {
			return err
		}
		return errors.WrapWithContext(err, errors.CodeProvisioningFailed, "service health check failed",
			map[string]interface{}{"service": svc.Name, "cell": req.Cell})
	}
	return nil
}

func (p *Provisioner) output(console io.Writer) []executor.Option {
	if console == nil {
		return nil
	}
	return []executor.Option{executor.WithOutput(console)}
}

func provisioningError(err error, msg, cell string) error {
	if errors.CodeOf(err) == errors.CodeCancelled {
		return errors.Wrap(err, errors.CodeCancelled, msg)
	}
	return errors.WrapWithContext(err, errors.CodeProvisioningFailed, msg,
		map[string]interface{}{"cell": cell})
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
