// Package metrics exposes Prometheus counters/histograms for leases,
// fail-overs, and upstream latency, per SPEC_FULL §2/§4.5.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Leases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_proxy_leases_total",
		Help: "Total number of credential pool leases.",
	})

	FailOvers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_proxy_failovers_total",
		Help: "Total number of account-scoped fail-overs during upstream attempts.",
	})

	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_proxy_upstream_latency_seconds",
		Help:    "Upstream CodeAssist call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action", "status"})

	AutoBans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_proxy_autobans_total",
		Help: "Total number of accounts placed into an auto-ban window.",
	})
)
