// Package observability provides Prometheus metrics for the control loops.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forge"

// Metrics holds every collector on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Evolution
	CyclesTotal     *prometheus.CounterVec
	CandidatesTotal *prometheus.CounterVec
	GeneratorErrors *prometheus.CounterVec
	BestSharpe      prometheus.Gauge
	CycleDuration   prometheus.Histogram

	// Deployment
	OrdersTotal       *prometheus.CounterVec
	AutoStopsTotal    prometheus.Counter
	DeploymentsActive prometheus.Gauge
	PromotionsTotal   *prometheus.CounterVec

	// Sweeps
	SweepDuration *prometheus.HistogramVec
	SweepErrors   *prometheus.CounterVec

	// Scheduler
	JobRunsTotal *prometheus.CounterVec
}

// NewMetrics creates metrics on a fresh registry that also carries Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "cycles_total",
			Help:      "Evolution cycles run, by mode",
		}, []string{"mode"}),
		CandidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "candidates_total",
			Help:      "Candidates by pipeline stage reached",
		}, []string{"stage"}),
		GeneratorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generator_errors_total",
			Help:      "Generator failures by kind",
		}, []string{"kind"}),
		BestSharpe: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "best_sharpe",
			Help:      "Best validated Sharpe seen by this process",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "cycle_duration_seconds",
			Help:      "Evolution cycle duration",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),

		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "orders_total",
			Help:      "Orders by side and result (filled, rejected, error)",
		}, []string{"side", "result"}),
		AutoStopsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "auto_stops_total",
			Help:      "Deployments stopped by the monitoring sweep",
		}),
		DeploymentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "active",
			Help:      "Active deployments seen by the last sweep",
		}),
		PromotionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "promotion_decisions_total",
			Help:      "Promotion decisions by outcome",
		}, []string{"decision"}),

		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Sweep duration by sweep name",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		SweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "errors_total",
			Help:      "Per-item sweep errors by sweep name",
		}, []string{"sweep"}),

		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and status",
		}, []string{"job", "status"}),
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ============================================================================
// Recorders
// ============================================================================

// RecordCycle records one evolution cycle.
func (m *Metrics) RecordCycle(mode string, generated, screened, clamped, validated, passed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(mode).Inc()
	m.CandidatesTotal.WithLabelValues("generated").Add(float64(generated))
	m.CandidatesTotal.WithLabelValues("screened").Add(float64(screened))
	m.CandidatesTotal.WithLabelValues("clamped").Add(float64(clamped))
	m.CandidatesTotal.WithLabelValues("validated").Add(float64(validated))
	m.CandidatesTotal.WithLabelValues("passed").Add(float64(passed))
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordBestSharpe sets the best-ever gauge.
func (m *Metrics) RecordBestSharpe(sharpe float64) {
	if m == nil {
		return
	}
	m.BestSharpe.Set(sharpe)
}

// RecordGeneratorError counts a generator failure by kind.
func (m *Metrics) RecordGeneratorError(kind string) {
	if m == nil {
		return
	}
	m.GeneratorErrors.WithLabelValues(kind).Inc()
}

// RecordOrder counts one order outcome.
func (m *Metrics) RecordOrder(side, result string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(side, result).Inc()
}

// RecordAutoStop counts a monitoring auto-stop.
func (m *Metrics) RecordAutoStop() {
	if m == nil {
		return
	}
	m.AutoStopsTotal.Inc()
}

// RecordPromotion counts a promotion decision.
func (m *Metrics) RecordPromotion(decision string) {
	if m == nil {
		return
	}
	m.PromotionsTotal.WithLabelValues(decision).Inc()
}

// RecordSweep records a sweep's duration, active deployment count and item errors.
func (m *Metrics) RecordSweep(sweep string, active, errors int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	m.SweepErrors.WithLabelValues(sweep).Add(float64(errors))
	m.DeploymentsActive.Set(float64(active))
}

// RecordJobRun counts a scheduler job run.
func (m *Metrics) RecordJobRun(job string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
}
