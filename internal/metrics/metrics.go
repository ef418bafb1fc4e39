// Package metrics exposes Prometheus instruments for the token lifecycle.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	sharedWaits     prometheus.Counter
	tokenRequests   *prometheus.CounterVec
	reconnections   prometheus.Counter
	sweeps          *prometheus.CounterVec
}

// New registers the token lifecycle collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenkeeper_refreshes_total",
				Help: "Provider refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		refreshDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenkeeper_refresh_duration_seconds",
				Help:    "Duration of provider refresh calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		sharedWaits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenkeeper_refresh_shared_total",
				Help: "Refresh requests answered by a refresh that was already in flight",
			},
		),
		tokenRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenkeeper_token_requests_total",
				Help: "Access token requests by result",
			},
			[]string{"result"},
		),
		reconnections: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenkeeper_reconnections_total",
				Help: "Accounts marked as needing reconnection",
			},
		),
		sweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenkeeper_sweep_accounts_total",
				Help: "Accounts handled by the proactive refresh sweep, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRefresh records one provider refresh call.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

// SharedRefresh records a caller that joined an in-flight refresh.
func (m *Metrics) SharedRefresh() {
	if m == nil {
		return
	}
	m.sharedWaits.Inc()
}

// TokenRequest records the result of an access token request.
func (m *Metrics) TokenRequest(result string) {
	if m == nil {
		return
	}
	m.tokenRequests.WithLabelValues(result).Inc()
}

// Reconnection records an account escalated to the reconnection state.
func (m *Metrics) Reconnection() {
	if m == nil {
		return
	}
	m.reconnections.Inc()
}

// SweepAccount records one account handled by a sweep.
func (m *Metrics) SweepAccount(outcome string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}
