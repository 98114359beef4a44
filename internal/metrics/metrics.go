// Package metrics registers the prometheus instruments for the evaluator,
// the ingest pipeline, and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Set bundles every instrument with the registry they live in, so tests can
// build isolated sets instead of fighting the global registry.
type Set struct {
	Registry *prometheus.Registry

	EvalDuration    *prometheus.HistogramVec
	EvalDecisions   *prometheus.CounterVec
	ProgramsLoaded  prometheus.Gauge
	JobsProcessed   *prometheus.CounterVec
	JobStageSeconds *prometheus.HistogramVec
	CommitsTotal    *prometheus.CounterVec
	WatcherRuns     *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
}

// NewSet builds and registers all instruments on a fresh registry.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Set{
		Registry: reg,
		EvalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tariffstack",
			Subsystem: "evaluator",
			Name:      "duration_seconds",
			Help:      "Wall time of one stacking evaluation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"outcome"}),
		EvalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tariffstack",
			Subsystem: "evaluator",
			Name:      "decisions_total",
			Help:      "Per-program decisions by action (apply, skip, exclude).",
		}, []string{"program", "action"}),
		ProgramsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tariffstack",
			Subsystem: "evaluator",
			Name:      "programs_loaded",
			Help:      "Programs in the active catalog.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tariffstack",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Ingest jobs by terminal status.",
		}, []string{"source", "status"}),
		JobStageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tariffstack",
			Subsystem: "pipeline",
			Name:      "stage_seconds",
			Help:      "Per-stage processing time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tariffstack",
			Subsystem: "commit",
			Name:      "total",
			Help:      "Commit attempts by outcome.",
		}, []string{"outcome"}),
		WatcherRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tariffstack",
			Subsystem: "watcher",
			Name:      "runs_total",
			Help:      "Polling cycles by source and status.",
		}, []string{"source", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tariffstack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tariffstack",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Rate-cache lookups by result (hit, miss, bypass).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		s.EvalDuration, s.EvalDecisions, s.ProgramsLoaded,
		s.JobsProcessed, s.JobStageSeconds, s.CommitsTotal,
		s.WatcherRuns, s.HTTPDuration, s.CacheLookups,
	)
	return s
}

// ObserveEvaluation records one evaluation.
func (s *Set) ObserveEvaluation(d time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	s.EvalDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (s *Set) ObserveHTTP(route, method string, status int, d time.Duration) {
	class := strconv.Itoa(status/100) + "xx"
	s.HTTPDuration.WithLabelValues(route, method, class).Observe(d.Seconds())
}

// CounterTotals gathers the registry and sums counter families by name,
// giving the freshness surface activity totals without scraping /metrics.
func (s *Set) CounterTotals() (map[string]float64, error) {
	families, err := s.Registry.Gather()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]float64)
	for _, fam := range families {
		if fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var sum float64
		for _, m := range fam.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		totals[fam.GetName()] = sum
	}
	return totals, nil
}
