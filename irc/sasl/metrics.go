// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports session and outcome counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessions  prometheus.Gauge
	outcomes  *prometheus.CounterVec
	denials   *prometheus.CounterVec
	swept     prometheus.Counter
	protocols *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "saslserv",
			Name:      "sessions",
			Help:      "Number of SASL sessions currently in progress.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saslserv",
			Name:      "authentications_total",
			Help:      "Completed SASL exchanges by mechanism and outcome.",
		}, []string{"mechanism", "outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saslserv",
			Name:      "authorization_denials_total",
			Help:      "Logins refused after successful authentication, by reason.",
		}, []string{"reason"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "saslserv",
			Name:      "sessions_swept_total",
			Help:      "Sessions destroyed for inactivity.",
		}),
		protocols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saslserv",
			Name:      "protocol_errors_total",
			Help:      "Sessions terminated for protocol violations.",
		}, []string{"error"}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.outcomes, m.denials, m.swept, m.protocols} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sessionCreated() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionDestroyed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) outcome(mechanism, outcome string) {
	if m != nil {
		m.outcomes.WithLabelValues(mechanism, outcome).Inc()
	}
}

func (m *Metrics) denial(reason error) {
	if m != nil {
		m.denials.WithLabelValues(denialLabel(reason)).Inc()
	}
}

func (m *Metrics) sweep() {
	if m != nil {
		m.swept.Inc()
	}
}

func (m *Metrics) protocolError(err error) {
	if m != nil {
		m.protocols.WithLabelValues(err.Error()).Inc()
	}
}

func denialLabel(err error) string {
	switch err {
	case ErrNoSuchAccount:
		return "no-such-account"
	case ErrAccountFrozen:
		return "frozen"
	case ErrImpersonationDenied:
		return "impersonation"
	case ErrTooManyLogins:
		return "max-logins"
	case ErrStrictAccess:
		return "strict-access"
	default:
		return "other"
	}
}
