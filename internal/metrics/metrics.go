package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// GateDecisions counts access gate outcomes by rule and decision.
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeshell_gate_decisions_total",
			Help: "Access gate decisions by rule and outcome.",
		},
		[]string{"rule", "decision"},
	)

	// SessionResolutions counts how session stores settle.
	SessionResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeshell_session_resolutions_total",
			Help: "Session store resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeshell_sessions_active",
			Help: "Session stores currently held by the registry.",
		},
	)

	StaleProfileResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeshell_stale_profile_results_total",
			Help: "Profile lookups discarded because a newer state superseded them.",
		},
	)

	// IdentityBreakerState mirrors the identity provider circuit breaker (0=closed, 1=half-open, 2=open).
	IdentityBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradeshell_identity_breaker_state",
			Help: "Identity provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(
		GateDecisions,
		SessionResolutions,
		SessionsActive,
		StaleProfileResults,
		IdentityBreakerState,
	)
}
