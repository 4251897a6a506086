// Package metrics exposes Prometheus collectors for the license expiry job.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shaluqa_crm"

// Recorder collects notification outcomes and scan runs. It satisfies
// expiry.Recorder.
type Recorder struct {
	registry      *prometheus.Registry
	notifications *prometheus.CounterVec
	runs          *prometheus.CounterVec
	duration      prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

// New builds a Recorder on its own registry, including the Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "notifications_total",
				Help:      "License expiry notifications by outcome.",
			},
			[]string{"outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "runs_total",
				Help:      "License expiry scans by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "run_duration_seconds",
				Help:      "Duration of license expiry scans.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last scan that completed without a query error.",
			},
		),
	}

	r.registry.MustRegister(
		r.notifications,
		r.runs,
		r.duration,
		r.lastSuccess,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) ObserveOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	r.notifications.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveRun(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	} else {
		r.lastSuccess.SetToCurrentTime()
	}
	r.runs.WithLabelValues(result).Inc()
	r.duration.Observe(duration.Seconds())
}

// Registry is the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
