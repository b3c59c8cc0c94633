package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// healthyStatuses are accepted values of a status field in a probe payload.
var healthyStatuses = map[string]bool{
	"ok":      true,
	"up":      true,
	"pass":    true,
	"healthy": true,
	"ready":   true,
}

// HealthChecker polls a service until it is ready, with a bounded number of
// attempts separated by a fixed interval.
type HealthChecker struct {
	client *http.Client
	dialer *net.Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithHTTPClient sets the client used for http(s) probes.
func WithHTTPClient(c *http.Client) HealthOption {
	return func(h *HealthChecker) {
		h.client = c
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) HealthOption {
	return func(h *HealthChecker) {
		h.sleep = sleep
	}
}

// WithHealthLogger sets the logger.
func WithHealthLogger(logger *slog.Logger) HealthOption {
	return func(h *HealthChecker) {
		h.logger = logger
	}
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		client: &http.Client{},
		dialer: &net.Dialer{},
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait probes cfg.URL up to cfg.Retries times, sleeping cfg.Interval between
// attempts. Exhausting the budget returns a PROVISIONING_FAILED error.
func (h *HealthChecker) Wait(ctx context.Context, cfg config.HealthCheckConfig) error {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return errors.Wrap(err, errors.CodeProvisioningFailed, "invalid health check url")
	}

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = h.probe(ctx, target, cfg.Timeout)
		if lastErr == nil {
			h.logger.DebugContext(ctx, "service healthy", "url", target.Redacted(), "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.CodeCancelled, "health check cancelled")
		}

		h.logger.DebugContext(ctx, "service not ready",
			"url", target.Redacted(), "attempt", attempt, "max_attempts", retries, "error", lastErr)

		if attempt < retries {
			if err := h.sleep(ctx, cfg.Interval); err != nil {
				return errors.Wrap(err, errors.CodeCancelled, "health check cancelled")
			}
		}
	}

	return errors.WrapWithContext(
		lastErr,
		errors.CodeProvisioningFailed,
		"service did not become healthy",
		map[string]interface{}{
			"url":      target.Redacted(),
			"attempts": retries,
		},
	)
}

func (h *HealthChecker) probe(ctx context.Context, target *url.URL, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch target.Scheme {
	case "tcp":
		conn, err := h.dialer.DialContext(ctx, "tcp", target.Host)
		if err != nil {
			return err
		}
		return conn.Close()
	case "http", "https":
		return h.probeHTTP(ctx, target)
	default:
		return fmt.Errorf("unsupported health check scheme %q", target.Scheme)
	}
}

func (h *HealthChecker) probeHTTP(ctx context.Context, target *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read health payload: %w", err)
	}
	return checkPayload(body)
}

// checkPayload accepts any body unless it is a JSON object carrying a
// "status" field with a value outside healthyStatuses.
func checkPayload(body []byte) error {
	var payload struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Status == nil {
		return nil
	}
	if !healthyStatuses[strings.ToLower(*payload.Status)] {
		return fmt.Errorf("health endpoint reported status %q", *payload.Status)
	}
	return nil
}
