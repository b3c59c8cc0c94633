package environment_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/environment"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestHealthWaitSucceedsAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	h := environment.NewHealthChecker(environment.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	err := h.Wait(context.Background(), config.HealthCheckConfig{
		URL:      srv.URL,
		Retries:  5,
		Interval: time.Second,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
}

func TestHealthWaitExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := environment.NewHealthChecker(environment.WithSleep(noSleep))
	err := h.Wait(context.Background(), config.HealthCheckConfig{URL: srv.URL, Retries: 4, Interval: time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, errors.CodeProvisioningFailed, errors.CodeOf(err))
	assert.Equal(t, int32(4), hits.Load())
}

func TestHealthWaitRejectsUnhealthyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	}))
	defer srv.Close()

	h := environment.NewHealthChecker(environment.WithSleep(noSleep))
	err := h.Wait(context.Background(), config.HealthCheckConfig{URL: srv.URL, Retries: 2, Interval: time.Millisecond})

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "starting"))
}

func TestHealthWaitTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	h := environment.NewHealthChecker(environment.WithSleep(noSleep))
	err = h.Wait(context.Background(), config.HealthCheckConfig{
		URL:      "tcp://" + ln.Addr().String(),
		Retries:  1,
		Interval: time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
}

func TestHealthWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := environment.NewHealthChecker(environment.WithSleep(noSleep))
	err := h.Wait(ctx, config.HealthCheckConfig{URL: "http://127.0.0.1:1", Retries: 3, Interval: time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
}
