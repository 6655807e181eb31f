// Package metrics holds the Prometheus collectors for dispatches, retries,
// replays, and upstream double traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authtwin",
		Name:      "dispatches_total",
		Help:      "Requests sent to the API under test by action and observed result.",
	}, []string{"action", "result"})

	APIKeyRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authtwin",
		Name:      "apikey_retries_total",
		Help:      "Dispatches re-issued with the fallback API key.",
	})

	LoginReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authtwin",
		Name:      "login_replays_total",
		Help:      "LOGIN dispatches replayed after a late auth error stub.",
	})

	StubProgramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authtwin",
		Name:      "stub_programs_total",
		Help:      "Stub rules programmed on the upstream double by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authtwin",
		Name:      "upstream_requests_total",
		Help:      "Requests served by the upstream double by endpoint and whether a rule matched.",
	}, []string{"endpoint", "matched"})
)

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ActionLabel maps an optional action to a bounded label value.
func ActionLabel(action *string) string {
	if action == nil {
		return "none"
	}
	switch *action {
	case "LOGIN", "ACTION", "LOGOUT":
		return *action
	default:
		return "other"
	}
}
