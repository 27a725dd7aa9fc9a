package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedpulse"

// Collector exposes Prometheus metrics for inbound HTTP requests and for the
// aggregation pipeline. A single registry backs both so /metrics serves
// everything.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	fetchTotal       *prometheus.CounterVec
	itemsProcessed   prometheus.Counter
	duplicatesTotal  prometheus.Counter
	enrichTotal      *prometheus.CounterVec
	cacheEvents      *prometheus.CounterVec
	trackingDropped  prometheus.Counter
	aggregationRuns  *prometheus.CounterVec
	aggregationSecs  prometheus.Histogram
}

// NewCollector constructs a collector with a fresh registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "source_fetches_total",
			Help:      "Source fetch attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_processed_total",
			Help:      "Items surviving dedup and relevance filtering.",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duplicates_removed_total",
			Help:      "Items removed by deduplication.",
		}),
		enrichTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "items_total",
			Help:      "Enrichment outcomes per item.",
		}, []string{"outcome"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Result cache events (hit, miss, stale_serve, quota_rejected).",
		}, []string{"event"}),
		trackingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "dropped_total",
			Help:      "Engagement events dropped because the queue was full.",
		}),
		aggregationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "aggregation_runs_total",
			Help:      "Aggregation runs by result (fresh, cached, stale, degraded).",
		}, []string{"result"}),
		aggregationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "aggregation_duration_seconds",
			Help:      "Wall time of fresh aggregation runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	for _, col := range []prometheus.Collector{
		c.requestDuration, c.requestTotal, c.fetchTotal, c.itemsProcessed,
		c.duplicatesTotal, c.enrichTotal, c.cacheEvents, c.trackingDropped,
		c.aggregationRuns, c.aggregationSecs,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveFetch records a source fetch attempt.
func (c *Collector) ObserveFetch(kind, outcome string) {
	c.fetchTotal.WithLabelValues(kind, outcome).Inc()
}

// ObservePipeline records item counts for one run.
func (c *Collector) ObservePipeline(processed, duplicates int) {
	c.itemsProcessed.Add(float64(processed))
	c.duplicatesTotal.Add(float64(duplicates))
}

// ObserveEnrichment records one enrichment outcome ("processed" or "failed").
func (c *Collector) ObserveEnrichment(outcome string) {
	c.enrichTotal.WithLabelValues(outcome).Inc()
}

// ObserveCache records a cache event.
func (c *Collector) ObserveCache(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
}

// ObserveTrackingDrop records a dropped engagement event.
func (c *Collector) ObserveTrackingDrop() {
	c.trackingDropped.Inc()
}

// ObserveRun records the outcome and duration of an aggregation request.
func (c *Collector) ObserveRun(result string, d time.Duration) {
	c.aggregationRuns.WithLabelValues(result).Inc()
	if result == "fresh" || result == "degraded" {
		c.aggregationSecs.Observe(d.Seconds())
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
