// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bunsui_session_transitions_total",
		Help: "Total number of session status transitions",
	}, []string{"from", "to"})
	JobTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bunsui_job_transitions_total",
		Help: "Total number of job status transitions",
	}, []string{"from", "to"})
	CheckpointsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bunsui_checkpoints_written_total",
		Help: "Total number of checkpoints appended to sessions",
	})
	CompilerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bunsui_compiler_runs_total",
		Help: "Total number of pipeline compilations, by outcome",
	}, []string{"outcome"})
	AdapterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bunsui_adapter_call_duration_seconds",
		Help:    "Latency of calls made through the tabular/object/scheduler adapters",
		Buckets: prometheus.DefBuckets,
	}, []string{"adapter", "operation"})
	AdapterRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bunsui_adapter_retries_total",
		Help: "Total number of adapter call retries",
	}, []string{"adapter", "operation"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bunsui_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	}, []string{"adapter"})
	LogLinesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bunsui_log_lines_total",
		Help: "Total number of log lines parsed, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		SessionTransitions, JobTransitions, CheckpointsWritten, CompilerRuns,
		AdapterLatency, AdapterRetries, CircuitBreakerState, LogLinesProcessed,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Prefer StartHTTPServer, which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
