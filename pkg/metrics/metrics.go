package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the lookup pipeline.
type Metrics struct {
	// Lookup metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Remote source metrics
	RemoteRequests  *prometheus.CounterVec
	RemoteDuration  prometheus.Histogram
	RecordsMapped   prometheus.Counter
	RecordsSkipped  prometheus.Counter
	PersistFailures prometheus.Counter

	// Summarization metrics
	SummaryRequests *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejections prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_lookup_cache_hits_total",
			Help: "Total number of lookups answered from the local store",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_lookup_cache_misses_total",
			Help: "Total number of lookups that had to consult NVD",
		}),

		RemoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cvemind_nvd_requests_total",
			Help: "Total number of NVD requests by outcome",
		}, []string{"outcome"}),
		RemoteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cvemind_nvd_request_duration_seconds",
			Help:    "Duration of NVD requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RecordsMapped: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_nvd_records_mapped_total",
			Help: "Total number of NVD vulnerability elements mapped to records",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_nvd_records_skipped_total",
			Help: "Total number of NVD vulnerability elements skipped as malformed",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_store_persist_failures_total",
			Help: "Total number of fetched records that could not be persisted",
		}),

		SummaryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cvemind_genai_requests_total",
			Help: "Total number of LLM completion requests by mode and outcome",
		}, []string{"mode", "outcome"}),

		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "cvemind_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
	}
}

// NewNopMetrics returns collectors registered nowhere. Useful for tests and tools.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
