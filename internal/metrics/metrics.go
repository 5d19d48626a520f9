// Package metrics holds the Prometheus instrumentation for the scheduler,
// producers, confluence engine and HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus collectors on a dedicated registerer, so
// multiple instances (tests, embedded runs) never collide.
type Registry struct {
	reg *prometheus.Registry

	// Scheduler job health
	JobRuns      *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobCoalesced *prometheus.CounterVec
	JobLastRun   *prometheus.GaugeVec

	// Producer health
	ProducerDuration *prometheus.HistogramVec
	ProducerDegraded *prometheus.CounterVec

	// Confluence and alerts
	CompositeScore *prometheus.GaugeVec
	AlertsFired    *prometheus.CounterVec

	// HTTP surface
	RequestDuration *prometheus.HistogramVec

	// Ingestion
	IngestRows   *prometheus.CounterVec
	IngestErrors *prometheus.CounterVec
}

// NewRegistry creates all collectors on a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_job_runs_total",
				Help: "Scheduler job executions by outcome",
			},
			[]string{"job", "outcome"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confluence_job_duration_seconds",
				Help:    "Scheduler job execution time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job"},
		),
		JobCoalesced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_job_coalesced_total",
				Help: "Job triggers dropped because a run was already pending",
			},
			[]string{"job"},
		),
		JobLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "confluence_job_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run per job",
			},
			[]string{"job"},
		),
		ProducerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confluence_producer_duration_seconds",
				Help:    "Score producer execution time per layer",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"layer"},
		),
		ProducerDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_producer_degraded_total",
				Help: "Degraded score rows written per layer",
			},
			[]string{"layer"},
		),
		CompositeScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "confluence_composite_score",
				Help: "Latest composite score per pair",
			},
			[]string{"symbol", "timeframe"},
		),
		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_alerts_fired_total",
				Help: "Alerts inserted by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confluence_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route", "method", "status"},
		),
		IngestRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_ingest_rows_total",
				Help: "Rows upserted per ingest source",
			},
			[]string{"source"},
		),
		IngestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confluence_ingest_errors_total",
				Help: "Failed ingest attempts per source",
			},
			[]string{"source"},
		),
	}

	r.reg.MustRegister(
		r.JobRuns,
		r.JobDuration,
		r.JobCoalesced,
		r.JobLastRun,
		r.ProducerDuration,
		r.ProducerDegraded,
		r.CompositeScore,
		r.AlertsFired,
		r.RequestDuration,
		r.IngestRows,
		r.IngestErrors,
	)
	return r
}

// ObserveJob records one job run.
func (r *Registry) ObserveJob(job string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.JobRuns.WithLabelValues(job, outcome).Inc()
	r.JobDuration.WithLabelValues(job).Observe(d.Seconds())
	r.JobLastRun.WithLabelValues(job).SetToCurrentTime()
}

// ObserveCoalesced records a dropped overlapping trigger.
func (r *Registry) ObserveCoalesced(job string) {
	r.JobCoalesced.WithLabelValues(job).Inc()
}

// ObserveProducer records one producer run.
func (r *Registry) ObserveProducer(layer string, d time.Duration, degraded bool) {
	r.ProducerDuration.WithLabelValues(layer).Observe(d.Seconds())
	if degraded {
		r.ProducerDegraded.WithLabelValues(layer).Inc()
	}
}

// ObserveComposite records the latest composite per pair.
func (r *Registry) ObserveComposite(symbol, timeframe string, composite float64) {
	r.CompositeScore.WithLabelValues(symbol, timeframe).Set(composite)
}

// ObserveAlert counts one fired alert.
func (r *Registry) ObserveAlert(kind, severity string) {
	r.AlertsFired.WithLabelValues(kind, severity).Inc()
}

// ObserveIngest counts upserted rows, or an error, for one source poll.
func (r *Registry) ObserveIngest(source string, rows int, err error) {
	if err != nil {
		r.IngestErrors.WithLabelValues(source).Inc()
		return
	}
	r.IngestRows.WithLabelValues(source).Add(float64(rows))
}

// Handler exposes the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
