package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sattiler_source_requests_total",
		Help: "Total number of tile source responses by status code",
	}, []string{"status"})

	SourceTransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sattiler_source_transport_errors_total",
		Help: "Total number of fetches that failed after all retries",
	})

	SourceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sattiler_source_latency_seconds",
		Help:    "Latency of tile source fetches in seconds, retries included",
		Buckets: prometheus.DefBuckets,
	})

	TilesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sattiler_tiles_committed_total",
		Help: "Total number of fetched tiles written to the store",
	})

	TilesPresent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sattiler_tiles_present_total",
		Help: "Total number of tiles skipped because the store already had them",
	})

	TilesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sattiler_tiles_skipped_total",
		Help: "Total number of fetched tiles not stored, by classification",
	}, []string{"class"})

	ScanTiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sattiler_scan_tiles_total",
		Help: "Total number of tiles checked by the integrity scanner, by outcome",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
