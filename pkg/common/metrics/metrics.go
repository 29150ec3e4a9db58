package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the relay
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stockproxy_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "stockproxy_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)
	// UpstreamRequests counts calls to the commerce platform by operation and outcome
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stockproxy_upstream_requests_total", Help: "Platform API calls by operation and outcome."},
		[]string{"op", "outcome"},
	)
	// UpstreamDuration tracks platform call latency in seconds
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "stockproxy_upstream_duration_seconds", Help: "Platform API call latency in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10}},
		[]string{"op"},
	)
	// CacheLookups counts inventory cache lookups by result (hit, miss)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stockproxy_cache_lookups_total", Help: "Inventory cache lookups by result."},
		[]string{"result"},
	)
	// AuthChecks counts signature and state checks by kind and result
	AuthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stockproxy_auth_checks_total", Help: "Signature, state and session checks by kind and result."},
		[]string{"kind", "result"},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors to Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(UpstreamRequests)
		Registry.MustRegister(UpstreamDuration)
		Registry.MustRegister(CacheLookups)
		Registry.MustRegister(AuthChecks)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Result labels a boolean check outcome.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
