package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	Cells         *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Gates         *prometheus.CounterVec
	PushAttempts  *prometheus.CounterVec
	ActiveCells   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge_pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status",
		}, []string{"trigger", "status"}),
		Cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge_pipeline",
			Name:      "cells_total",
			Help:      "Matrix cells by terminal status",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forge_pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"stage", "status"}),
		Gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge_pipeline",
			Name:      "gate_results_total",
			Help:      "Gate evaluations by outcome",
		}, []string{"gate", "result"}),
		PushAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge_pipeline",
			Name:      "push_attempts_total",
			Help:      "Registry push attempts by outcome",
		}, []string{"result"}),
		ActiveCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forge_pipeline",
			Name:      "active_cells",
			Help:      "Matrix cells currently executing",
		}),
	}
	reg.MustRegister(m.Runs, m.Cells, m.StageDuration, m.Gates, m.PushAttempts, m.ActiveCells)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metric values in the text exposition
// format, for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeStage(stage, status string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) observeGate(gate string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	m.Gates.WithLabelValues(gate, result).Inc()
}

func (m *Metrics) observePush(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.PushAttempts.WithLabelValues(result).Inc()
}
