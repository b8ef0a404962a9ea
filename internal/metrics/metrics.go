package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Poll cycle metrics
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishfindr_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)

	CycleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishfindr_cycle_failures_total",
			Help: "Total number of poll cycles aborted by an error",
		},
	)

	SubscriptionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishfindr_subscription_failures_total",
			Help: "Total number of failed subscription-start calls",
		},
		[]string{"content_type"},
	)

	// Blob metrics
	BlobsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishfindr_blobs_fetched_total",
			Help: "Total number of content blobs fetched",
		},
		[]string{"content_type"},
	)

	BlobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishfindr_blob_failures_total",
			Help: "Total number of content blobs that failed to fetch or parse",
		},
		[]string{"content_type"},
	)

	// Event metrics
	EventsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishfindr_events_collected_total",
			Help: "Total number of raw events collected from the feed",
		},
	)

	EventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishfindr_events_written_total",
			Help: "Total number of canonical events delivered to the sink",
		},
		[]string{"sink"},
	)

	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishfindr_write_failures_total",
			Help: "Total number of events dropped due to sink write errors",
		},
		[]string{"sink"},
	)
)

// Serve exposes the metrics endpoint on addr. It blocks until the listener
// fails, so callers run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
