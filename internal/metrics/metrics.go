// Package metrics holds the prometheus collectors shared by the scheduler
// binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusPanic  = "panic"
)

type Metrics struct {
	ticksTotal     *prometheus.CounterVec
	claimedTotal   prometheus.Counter
	executedTotal  *prometheus.CounterVec
	execDuration   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	scheduledJobs  prometheus.Gauge
	apiRequests    *prometheus.CounterVec
	lastTickUnixTS prometheus.Gauge
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_ticks_total",
				Help:      "Dispatch ticks by outcome",
			},
			[]string{"status"},
		),
		claimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_claimed_jobs_total",
				Help:      "Jobs claimed from the schedule",
			},
		),
		executedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_executions_total",
				Help:      "Task executions by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_execution_duration_seconds",
				Help:      "Duration of task executions",
				Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_executions_in_flight",
				Help:      "Task executions currently running",
			},
		),
		scheduledJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_jobs",
				Help:      "Jobs waiting in the schedule",
			},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Producer API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		lastTickUnixTS: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_last_tick_timestamp_seconds",
				Help:      "Unix time of the last successful tick",
			},
		),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.claimedTotal,
		m.executedTotal,
		m.execDuration,
		m.inFlight,
		m.scheduledJobs,
		m.apiRequests,
		m.lastTickUnixTS,
	)

	return m
}

// The recorders below are safe to call on a nil *Metrics so components can
// run without metrics wired.

func (m *Metrics) RecordTick(status string, now time.Time, claimed int) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		m.claimedTotal.Add(float64(claimed))
		m.lastTickUnixTS.Set(float64(now.Unix()))
	}
}

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) RecordExecution(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.executedTotal.WithLabelValues(kind, status).Inc()
	m.execDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) SetScheduled(count int64) {
	if m == nil {
		return
	}
	m.scheduledJobs.Set(float64(count))
}

func (m *Metrics) RecordRequest(route string, code int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, codeClass(code)).Inc()
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
