// forge-pipeline runs one CI/CD pipeline for a single trigger: it checks
// out the commit, provisions an environment per matrix cell, runs the test,
// lint and security tools, evaluates the quality gates, and builds and
// pushes the container image.
//
// The process exit code reports the outcome:
//
//	0  every cell succeeded
//	1  internal error
//	2  a blocking quality gate failed
//	3  provisioning failed
//	4  image publishing failed
//	5  the run was cancelled
//	6  invalid configuration or arguments
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/pflag"

	"github.com/input-output-hk/catalyst-forge-pipeline/artifact"
	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/pipeline"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
	awssecrets "github.com/input-output-hk/catalyst-forge-pipeline/secrets/providers/aws"
	envsecrets "github.com/input-output-hk/catalyst-forge-pipeline/secrets/providers/env"
)

type options struct {
	configPath  string
	kind        string
	ref         string
	commit      string
	prNumber    int
	eventTime   string
	provider    string
	prefix      string
	awsRegion   string
	logLevel    string
	logFormat   string
	summaryPath string
	metricsPath string
	sweep       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options

	flagSet := pflag.NewFlagSet("forge-pipeline", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "forge-pipeline.yaml", "path to the pipeline configuration")
	flagSet.StringVar(&opts.kind, "kind", string(domain.TriggerPush), "trigger kind: push, pull_request, tag or manual")
	flagSet.StringVar(&opts.ref, "ref", "", "branch, tag or pull request ref to build")
	flagSet.StringVar(&opts.commit, "commit", "", "commit SHA to check out (default: tip of --ref)")
	flagSet.IntVar(&opts.prNumber, "pr-number", 0, "pull request number (pull_request triggers)")
	flagSet.StringVar(&opts.eventTime, "event-time", "", "RFC 3339 time of the trigger event (default: now)")
	flagSet.StringVar(&opts.provider, "secrets-provider", "env", "comma-separated credential provider chain, consulted in order (env, aws)")
	flagSet.StringVar(&opts.prefix, "secrets-prefix", "FORGE_SECRET_", "environment variable prefix of the env provider")
	flagSet.StringVar(&opts.awsRegion, "aws-region", "", "AWS region of the aws provider")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flagSet.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&opts.summaryPath, "summary", "", "write the run summary as JSON to this file")
	flagSet.StringVar(&opts.metricsPath, "metrics-file", "", "write Prometheus metrics in textfile format to this file")
	flagSet.BoolVar(&opts.sweep, "sweep", false, "delete artifacts older than the retention period and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return errors.ExitSuccess
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return errors.ExitInvalidInput
	}

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return errors.ExitInvalidInput
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, logger, opts); err != nil {
		code := errors.ExitCode(err)
		logger.Error("pipeline failed", "code", errors.CodeOf(err), "exit_code", code, "error", err)
		return code
	}
	return errors.ExitSuccess
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func execute(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := config.Load(ctx, osfs.New(filepath.Dir(opts.configPath)), filepath.Base(opts.configPath))
	if err != nil {
		return err
	}

	broker, closeBroker, err := newBroker(ctx, logger, cfg, opts)
	if err != nil {
		return err
	}
	defer closeBroker()

	store, err := artifact.Open(ctx, cfg.Artifacts, cfg.Credentials, broker)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "failed to open artifact store")
	}

	if opts.sweep {
		return sweep(ctx, logger, cfg, store)
	}

	trigger, err := parseTrigger(opts)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Exec:        executor.New(executor.WithLogger(logger)),
		Credentials: broker,
		Store:       store,
	}
	if cfg.Environment.Service != nil || cfg.Image.PruneCache {
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return errors.Wrap(err, errors.CodeProvisioningFailed, "failed to create docker client")
		}
		defer docker.Close()
		deps.Docker = docker
		deps.BuildCache = docker
	}

	sink := pipeline.EventSink(pipeline.NewSlogSink(logger))
	if cfg.Events.NATSURL != "" {
		conn, err := pipeline.ConnectNATS(cfg.Events.NATSURL)
		if err != nil {
			logger.Warn("run events will not be published", "error", err)
		} else {
			defer conn.Close()
			sink = pipeline.MultiSink{sink, pipeline.NewNATSSink(conn, cfg.Events.Subject, logger)}
		}
	}

	engine, err := pipeline.NewEngine(cfg, deps, pipeline.WithLogger(logger), pipeline.WithEventSink(sink))
	if err != nil {
		return err
	}

	run, runErr := engine.Run(ctx, trigger)
	if run != nil {
		summary := pipeline.Summarize(run)
		if err := summary.WriteText(os.Stdout); err != nil {
			logger.Warn("failed to print summary", "error", err)
		}
		if opts.summaryPath != "" {
			if err := writeJSON(opts.summaryPath, summary); err != nil {
				logger.Warn("failed to write summary", "path", opts.summaryPath, "error", err)
			}
		}
	}
	if opts.metricsPath != "" {
		if err := engine.Metrics().WriteTextfile(opts.metricsPath); err != nil {
			logger.Warn("failed to write metrics", "path", opts.metricsPath, "error", err)
		}
	}
	return runErr
}

func newBroker(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts options) (*secrets.Broker, func(), error) {
	manager := secrets.NewManager(&secrets.Config{
		AuditLogger: secrets.NewSlogAuditLogger(logger),
	})
	closeFn := func() {
		if err := manager.Close(); err != nil {
			logger.Warn("failed to close secrets providers", "error", err)
		}
	}

	for _, name := range strings.Split(opts.provider, ",") {
		provider, err := newSecretsProvider(ctx, strings.TrimSpace(name), opts)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		if err := manager.Register(provider); err != nil {
			closeFn()
			return nil, nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to register secrets provider")
		}
	}
	logger.Debug("secrets providers registered", "chain", manager.Providers())

	broker := secrets.NewBroker(manager, cfg.Credentials.Refs, secrets.WithBrokerLogger(logger))
	return broker, closeFn, nil
}

func newSecretsProvider(ctx context.Context, name string, opts options) (secrets.Provider, error) {
	switch name {
	case "env":
		return envsecrets.New(envsecrets.WithPrefix(opts.prefix)), nil
	case "aws":
		var awsOpts []awssecrets.Option
		if opts.awsRegion != "" {
			awsOpts = append(awsOpts, awssecrets.WithRegion(opts.awsRegion))
		}
		provider, err := awssecrets.New(ctx, awsOpts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create aws secrets provider")
		}
		return provider, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown secrets provider %q (env, aws)", name)
	}
}

func parseTrigger(opts options) (domain.Trigger, error) {
	t := domain.Trigger{
		Kind:     domain.TriggerKind(opts.kind),
		Ref:      opts.ref,
		Commit:   opts.commit,
		PRNumber: opts.prNumber,
	}
	if opts.eventTime == "" {
		t.Timestamp = time.Now().UTC()
		return t, nil
	}
	ts, err := time.Parse(time.RFC3339, opts.eventTime)
	if err != nil {
		return t, errors.Wrap(err, errors.CodeInvalidInput, "invalid --event-time")
	}
	t.Timestamp = ts
	return t, nil
}

func sweep(ctx context.Context, logger *slog.Logger, cfg *config.Config, store artifact.Store) error {
	publisher := artifact.NewPublisher(store,
		artifact.WithLogger(logger),
		artifact.WithRetention(cfg.Artifacts.Retention),
	)
	res, err := publisher.Sweep(ctx, time.Now())
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "artifact sweep failed")
	}
	fmt.Fprintf(os.Stdout, "deleted %d artifacts\n", len(res.Deleted))
	if len(res.Failed) > 0 {
		return errors.Newf(errors.CodeInternal, "failed to delete %d artifacts", len(res.Failed))
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
