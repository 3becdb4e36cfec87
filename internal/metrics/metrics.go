// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_http_requests_total",
		Help: "API requests by route pattern and status code",
	}, []string{"route", "code"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precinct_http_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"route"})
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_upstream_requests_total",
		Help: "Requests to external data sources by host and outcome",
	}, []string{"host", "outcome"})
	UpstreamDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precinct_upstream_duration_ms",
		Help:    "External request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"host"})
	ChunkFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_chunk_fetches_total",
		Help: "Census chunk fetches by chunk and outcome",
	}, []string{"chunk", "outcome"})
	PrecinctFetchFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_fetch_failures_total",
		Help: "Precincts skipped during a chunk fetch",
	}, []string{"chunk"})
	OverlayCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_overlay_cache_hits_total",
		Help: "Overlay cache hits by kind",
	}, []string{"kind"})
	OverlayCacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_overlay_cache_misses_total",
		Help: "Overlay cache misses by kind",
	}, []string{"kind"})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "precinct_circuit_breaker_state",
		Help: "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open)",
	}, []string{"service"})
	RendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precinct_renders_total",
		Help: "Choropleth renders by metric and break strategy",
	}, []string{"metric", "strategy"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamDurationMs)
	prometheus.MustRegister(ChunkFetchesTotal)
	prometheus.MustRegister(PrecinctFetchFailuresTotal)
	prometheus.MustRegister(OverlayCacheHitsTotal)
	prometheus.MustRegister(OverlayCacheMissesTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(RendersTotal)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
