// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector so tests can build an isolated registry
// instead of sharing process-global state.
type Metrics struct {
	Registry *prometheus.Registry

	Registrations   *prometheus.CounterVec // outcome: created|already_alive|replaced_dead|failed
	Heartbeats      prometheus.Counter
	Unregistrations prometheus.Counter
	CleanupRemoved  prometheus.Counter
	Searches        *prometheus.CounterVec // mode: vector|lexical
	SearchLatency   prometheus.Histogram
	RateLimitBlocks *prometheus.CounterVec // class: login|pin|global
	AgentsAlive     prometheus.Gauge
	WSConnections   prometheus.Gauge
}

// New creates a Metrics set registered on a fresh prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcp_registrations_total",
			Help: "Agent registration attempts by outcome.",
		}, []string{"outcome"}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcp_heartbeats_total",
			Help: "Successful agent heartbeats.",
		}),
		Unregistrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcp_unregistrations_total",
			Help: "Agent unregistrations, explicit and cleanup-driven.",
		}),
		CleanupRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "arcp_cleanup_removed_total",
			Help: "Agents removed by the staleness cleanup loop.",
		}),
		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcp_searches_total",
			Help: "Semantic searches by ranking mode.",
		}, []string{"mode"}),
		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arcp_search_duration_seconds",
			Help:    "Semantic search latency.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arcp_rate_limit_blocks_total",
			Help: "Requests rejected by the brute-force rate limiter.",
		}, []string{"class"}),
		AgentsAlive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arcp_agents_alive",
			Help: "Currently alive registered agents.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arcp_websocket_connections",
			Help: "Open public websocket connections.",
		}),
	}
}
