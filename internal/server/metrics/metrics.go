// Package metrics holds the broker's prometheus collectors and the
// listener that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "myhook"

// Request outcomes recorded in RequestsTotal
const (
	OutcomeDelivered  = "delivered"
	OutcomeTimeout    = "timeout"
	OutcomeNotFound   = "not_found"
	OutcomeBadGateway = "bad_gateway"
	OutcomeChallenge  = "challenge"
	OutcomeTooLarge   = "too_large"
	OutcomeBadRequest = "bad_request"
)

// Session kinds recorded in SessionsTotal
const (
	SessionFresh   = "fresh"
	SessionResumed = "resumed"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveTunnels   prometheus.Gauge
	PendingRequests prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	ResultsIgnored  prometheus.Counter
	SessionsTotal   *prometheus.CounterVec
	EvictionsTotal  prometheus.Counter
	RequestDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ActiveTunnels: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tunnels",
			Help:      "Registered tunnel sessions",
		}),
		PendingRequests: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests waiting for a tunnel result",
		}),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Public requests by outcome",
			},
			[]string{"outcome"},
		),
		ResultsIgnored: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_ignored_total",
			Help:      "Tunnel results with no matching pending request",
		}),
		SessionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Tunnel sessions opened",
			},
			[]string{"kind"},
		),
		EvictionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evictions_total",
			Help:      "Sessions evicted for inactivity",
		}),
		RequestDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch to resolution of a tunneled request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
}

func (m *Metrics) SessionOpened(resumed bool) {
	if m == nil {
		return
	}
	kind := SessionFresh
	if resumed {
		kind = SessionResumed
	}
	m.SessionsTotal.WithLabelValues(kind).Inc()
	m.ActiveTunnels.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveTunnels.Dec()
}

func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *Metrics) RequestDispatched() {
	if m == nil {
		return
	}
	m.PendingRequests.Inc()
}

// RequestResolved records a pending request leaving the table
func (m *Metrics) RequestResolved(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PendingRequests.Dec()
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(elapsed.Seconds())
}

// RequestAnswered records a request answered without dispatch
func (m *Metrics) RequestAnswered(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResultIgnored() {
	if m == nil {
		return
	}
	m.ResultsIgnored.Inc()
}
