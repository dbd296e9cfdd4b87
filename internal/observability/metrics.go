// Package observability — metrics.go
//
// Prometheus metrics for the triage engine.
//
// Endpoint: GET /metrics on 127.0.0.1:9272 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default; ServeMetrics listens on whatever address
// it is given.
//
// Metric naming convention: pt_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not
// the default global registry) to avoid collisions with other
// instrumented libraries in the same process.
//
// Cardinality control:
//   - Class, action, and status labels are closed sets.
//   - PID and start_id are NEVER labels (unbounded cardinality).

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Collection ──────────────────────────────────────────────────────────

	// ScansTotal counts completed scans by mode (quick, deep).
	ScansTotal *prometheus.CounterVec

	// ScanDuration records scan wall time by mode.
	ScanDuration *prometheus.HistogramVec

	// ProcessesScanned is the process count of the latest scan.
	ProcessesScanned prometheus.Gauge

	// ─── Inference ───────────────────────────────────────────────────────────

	// InferenceEvalsTotal counts full Bayesian evaluations.
	InferenceEvalsTotal prometheus.Counter

	// FastPathTotal counts signature fast-path outcomes.
	// Labels: outcome (bypassed, declined)
	FastPathTotal *prometheus.CounterVec

	// ClassificationsTotal counts classifications by class.
	ClassificationsTotal *prometheus.CounterVec

	// TopPosterior records the distribution of winning posteriors.
	TopPosterior prometheus.Histogram

	// ─── Decisions & actions ─────────────────────────────────────────────────

	// DecisionsTotal counts decisions by chosen action.
	DecisionsTotal *prometheus.CounterVec

	// ActionsTotal counts executed actions by action and status.
	ActionsTotal *prometheus.CounterVec

	// IdentityMismatchTotal counts TOCTOU gate rejections.
	IdentityMismatchTotal prometheus.Counter

	// ─── Pressure ────────────────────────────────────────────────────────────

	// PressureMode is the current memory pressure mode
	// (0 normal, 1 warning, 2 emergency).
	PressureMode prometheus.Gauge

	// PressureTransitionsTotal counts mode transitions.
	PressureTransitionsTotal prometheus.Counter

	// ─── Sessions ────────────────────────────────────────────────────────────

	// SnapshotsWrittenTotal counts persisted snapshots.
	SnapshotsWrittenTotal prometheus.Counter

	// PlanActionsPending is the pending action count of the active
	// execution plan.
	PlanActionsPending prometheus.Gauge

	// ─── Agent ───────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all engine metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "collect",
			Name:      "scans_total",
			Help:      "Total completed process scans, by mode.",
		}, []string{"mode"}),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "collect",
			Name:      "scan_duration_seconds",
			Help:      "Scan wall time in seconds, by mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),

		ProcessesScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "collect",
			Name:      "processes_scanned",
			Help:      "Process count of the most recent scan.",
		}),

		InferenceEvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "evals_total",
			Help:      "Total full Bayesian evaluations performed.",
		}),

		FastPathTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "fast_path_total",
			Help:      "Signature fast-path attempts, by outcome.",
		}, []string{"outcome"}),

		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "classifications_total",
			Help:      "Classifications produced, by class.",
		}, []string{"class"}),

		TopPosterior: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "top_posterior",
			Help:      "Distribution of winning posterior probabilities.",
			Buckets:   []float64{0.5, 0.8, 0.9, 0.95, 0.99, 0.999},
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "decisions_total",
			Help:      "Decisions produced, by chosen action.",
		}, []string{"action"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "action",
			Name:      "executed_total",
			Help:      "Executed plan actions, by action and final status.",
		}, []string{"action", "status"}),

		IdentityMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "action",
			Name:      "identity_mismatch_total",
			Help:      "Actions blocked by the TOCTOU identity gate.",
		}),

		PressureMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "pressure",
			Name:      "mode",
			Help:      "Memory pressure mode: 0 normal, 1 warning, 2 emergency.",
		}),

		PressureTransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "pressure",
			Name:      "transitions_total",
			Help:      "Total memory pressure mode transitions.",
		}),

		SnapshotsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "session",
			Name:      "snapshots_written_total",
			Help:      "Total session snapshots persisted.",
		}),

		PlanActionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "session",
			Name:      "plan_actions_pending",
			Help:      "Pending action count of the active execution plan.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.ProcessesScanned,
		m.InferenceEvalsTotal,
		m.FastPathTotal,
		m.ClassificationsTotal,
		m.TopPosterior,
		m.DecisionsTotal,
		m.ActionsTotal,
		m.IdentityMismatchTotal,
		m.PressureMode,
		m.PressureTransitionsTotal,
		m.SnapshotsWrittenTotal,
		m.PlanActionsPending,
		m.AgentUptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP server on addr. Blocks until
// ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically refreshes the uptime gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
