package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	GateOutcomes  *prometheus.CounterVec
	TokenOps      *prometheus.CounterVec
	BearerIssued  prometheus.Counter
	LoginAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers the auth counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_gate_outcomes_total",
				Help: "Request authentication gate outcomes by reason",
			},
			[]string{"reason"},
		),
		TokenOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_ephemeral_token_operations_total",
				Help: "Ephemeral token operations by operation, purpose and result",
			},
			[]string{"op", "purpose", "result"},
		),
		BearerIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_bearer_tokens_issued_total",
				Help: "Bearer tokens issued",
			},
		),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.GateOutcomes, m.TokenOps, m.BearerIssued, m.LoginAttempts)

	return m
}

// NewRegistry returns a private registry with Go and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

func (m *Metrics) gateOutcome(reason GateReason) {
	if m == nil {
		return
	}
	m.GateOutcomes.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) tokenOp(op string, purpose TokenPurpose, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case IsTokenNotFound(err):
		result = "not_found"
	case IsTokenExpiredError(err):
		result = "expired"
	case IsTokenConsumed(err):
		result = "consumed"
	default:
		result = "error"
	}
	m.TokenOps.WithLabelValues(op, string(purpose), result).Inc()
}

func (m *Metrics) bearerIssued() {
	if m == nil {
		return
	}
	m.BearerIssued.Inc()
}

func (m *Metrics) loginAttempt(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}
