package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "changepipe"

// Registry holds every changepipe metric. It is separate from the default
// registry so tests can construct clients freely.
var Registry = prometheus.NewRegistry()

var (
	RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_requests_total",
		Help:      "OSM API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	RemoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_request_duration_seconds",
		Help:      "OSM API request duration in seconds, retries included",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Geometry lookups answered from cache (hit) or not (miss)",
	}, []string{"kind", "result"})

	ElementsObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "elements_observed_total",
		Help:      "Edit-stream elements written to the cache",
	}, []string{"kind"})

	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overlap_decisions_total",
		Help:      "Changeset overlap decisions by reason",
	}, []string{"reason", "overlaps"})

	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "overlap_evaluation_duration_seconds",
		Help:      "Time to decide overlap for one changeset",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(
		RemoteRequests,
		RemoteDuration,
		CacheLookups,
		ElementsObserved,
		Decisions,
		EvaluationDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// CacheResult returns the label for a cache lookup outcome
func CacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
