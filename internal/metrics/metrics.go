// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Latency buckets. Short REST lookups land under 100ms, while XQuery runs and
// full-text searches can take until basex.timeout_seconds (30s by default).
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds the collectors for the browser-facing side of the proxy and
// for its calls to BaseX.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	PreflightTotal   prometheus.Counter

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basex_proxy_http_requests_total",
			Help: "Browser requests received, by method, status and BaseX service (/rest, /webdav, /dba) or /_proxy.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basex_proxy_http_request_duration_seconds",
			Help:    "Time to answer a browser request, including the BaseX round trip, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "basex_proxy_http_requests_in_flight",
			Help: "Browser requests currently waiting on the proxy or on BaseX.",
		}),

		PreflightTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basex_proxy_preflight_requests_total",
			Help: "CORS preflight (OPTIONS) requests answered without contacting BaseX.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basex_proxy_upstream_request_duration_seconds",
			Help:    "BaseX round-trip time in seconds, until the full response body is read.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basex_proxy_upstream_responses_total",
			Help: "Complete BaseX responses by method and status code; 4xx and 5xx are relayed as-is.",
		}, []string{"method", "status_code"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basex_proxy_upstream_failures_total",
			Help: "BaseX calls that ended without a complete response (refused, timed out, truncated) and were answered with 502.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.PreflightTotal,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
	)

	return m
}

// knownMethods bounds the method label. WebDAV verbs such as PROPFIND are
// rejected with 405 and counted as "other".
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// /rest, /webdav and /dba are the BaseX HTTP services; /_proxy is local.
var knownPrefixes = []string{"/rest", "/webdav", "/dba", "/_proxy"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
