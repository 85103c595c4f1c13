package firecloud

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts executor attempts, terminal failures and token refreshes.
type Metrics struct {
	attempts  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firecloud_request_attempts_total",
				Help: "Attempts made against the FireCloud API by method and status code",
			},
			[]string{"method", "code"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firecloud_request_failures_total",
				Help: "Calls that exhausted their attempt budget",
			},
			[]string{"method"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firecloud_token_refreshes_total",
				Help: "Access token refreshes by identity kind and outcome",
			},
			[]string{"identity", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.failures, m.refreshes)
	}
	return m
}

func (m *Metrics) observeAttempt(method string, status int, err error) {
	code := strconv.Itoa(status)
	if status == 0 && err != nil {
		code = "transport_error"
	}
	m.attempts.WithLabelValues(method, code).Inc()
}

// ObserveRefresh matches the WithRefreshObserver signature.
func (m *Metrics) ObserveRefresh(kind IdentityKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(string(kind), outcome).Inc()
}
