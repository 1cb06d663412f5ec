// Package metrics exposes Prometheus collectors for a bridge. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cryguy/jsbridge/internal/core"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors of one bridge.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	JobsStarted        prometheus.Counter
	JobsFinished       *prometheus.CounterVec
	JobsInFlight       prometheus.Gauge
	Unhandled          prometheus.Counter

	reg        prometheus.Registerer
	collectors []prometheus.Collector
}

// New creates the collectors and registers them on reg. Every series
// carries a constant bridge label so several bridges can share a registry.
// memory may be nil.
func New(reg prometheus.Registerer, namespace, bridgeID string, memory func() (core.MemoryUsage, error)) (*Metrics, error) {
	labels := prometheus.Labels{"bridge": bridgeID}
	m := &Metrics{
		reg: reg,
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "evaluations_total",
				Help:        "Total number of evaluations by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "evaluation_duration_seconds",
				Help:        "Evaluation duration in seconds, including the event loop",
				Buckets:     []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				ConstLabels: labels,
			},
		),
		JobsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "async_jobs_started_total",
				Help:        "Total number of async host calls started",
				ConstLabels: labels,
			},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "async_jobs_finished_total",
				Help:        "Total number of async host calls finished by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "async_jobs_in_flight",
				Help:        "Number of async host calls currently running",
				ConstLabels: labels,
			},
		),
		Unhandled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "unhandled_rejections_total",
				Help:        "Total number of unhandled promise rejections",
				ConstLabels: labels,
			},
		),
	}
	m.collectors = []prometheus.Collector{
		m.Evaluations, m.EvaluationDuration, m.JobsStarted,
		m.JobsFinished, m.JobsInFlight, m.Unhandled,
	}
	if memory != nil {
		m.collectors = append(m.collectors, newMemoryCollector(namespace, labels, memory))
	}

	for i, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range m.collectors[:i] {
				reg.Unregister(done)
			}
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveEvaluation records one finished evaluation.
func (m *Metrics) ObserveEvaluation(start time.Time, err error) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome(err)).Inc()
	m.EvaluationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsStarted.Inc()
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobFinished(err error) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(outcome(err)).Inc()
	m.JobsInFlight.Dec()
}

func (m *Metrics) UnhandledRejection() {
	if m == nil {
		return
	}
	m.Unhandled.Inc()
}

// Unregister removes every collector from the registerer.
func (m *Metrics) Unregister() {
	if m == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, core.ErrClosed), errors.Is(err, core.ErrInterrupted), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	}
	return OutcomeError
}
