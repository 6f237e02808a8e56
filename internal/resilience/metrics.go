package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker and upstream call collectors, labelled by breaker target.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Current breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transition_total",
		Help: "Count of breaker state transitions.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_open_total",
		Help: "Number of times a breaker opened.",
	}, []string{"target"})
	BreakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_rejected_total",
		Help: "Requests refused without reaching the upstream.",
	}, []string{"target"})
	UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_attempts_total",
		Help: "Outbound call attempts by result (ok, client_error, server_error, transport_error).",
	}, []string{"target", "result"})
)
