// Package hcmetrics exposes Prometheus collectors for the crawl engine.
package hcmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns one Prometheus registry's worth of crawl-engine collectors.
// Unlike a package of global promauto vars, each Recorder is independent, so
// an Engine can be constructed more than once per process (tests, multiple
// cmd/crawlctl instances) without a duplicate-registration panic.
type Recorder struct {
	registry *prometheus.Registry

	fetchTotal        *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	detectionTotal    *prometheus.CounterVec
	detectionScore    prometheus.Histogram
	legacyTLSFallback prometheus.Counter
	rateLimitBackoff  *prometheus.CounterVec
	pagesCrawled      *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
}

// New builds a Recorder backed by a fresh, private Prometheus registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_fetch_total",
			Help: "Total fetch attempts, labeled by method (static/dynamic) and outcome.",
		}, []string{"method", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Fetch latency, labeled by method.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method"}),
		detectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_method_detection_total",
			Help: "Method Detector verdicts, labeled by needs_dynamic.",
		}, []string{"needs_dynamic"}),
		detectionScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawl_method_detection_confidence",
			Help:    "Distribution of Method Detector confidence scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		legacyTLSFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_legacy_tls_fallback_total",
			Help: "Total single-shot legacy TLS profile fallbacks performed by the Static Fetcher.",
		}),
		rateLimitBackoff: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_rate_limit_backoff_total",
			Help: "Total rate-limit backoff activations, labeled by domain.",
		}, []string{"domain"}),
		pagesCrawled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Total pages crawled by the Recursive Scheduler, labeled by page outcome.",
		}, []string{"outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_sessions_active",
			Help: "Number of CrawlRecursive sessions currently running.",
		}),
	}
	reg.MustRegister(
		r.fetchTotal, r.fetchDuration, r.detectionTotal, r.detectionScore,
		r.legacyTLSFallback, r.rateLimitBackoff, r.pagesCrawled, r.sessionsActive,
	)
	return r
}

// NewNoop returns a Recorder that observes into an unregistered, throwaway
// registry. It is a valid, fully functional Recorder; the "noop" is that
// nothing outside the Recorder ever scrapes it.
func NewNoop() *Recorder {
	return New()
}

// Handler exposes this Recorder's collectors for Prometheus scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one Static or Dynamic fetch attempt outcome.
func (r *Recorder) ObserveFetch(method string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.fetchTotal.WithLabelValues(method, outcome).Inc()
	r.fetchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveDetection records one Method Detector verdict.
func (r *Recorder) ObserveDetection(needsDynamic bool, confidence float64) {
	label := "false"
	if needsDynamic {
		label = "true"
	}
	r.detectionTotal.WithLabelValues(label).Inc()
	r.detectionScore.Observe(confidence)
}

// ObserveLegacyTLSFallback records one Static Fetcher legacy TLS retry.
func (r *Recorder) ObserveLegacyTLSFallback() {
	r.legacyTLSFallback.Inc()
}

// ObserveRateLimitBackoff records one 429-triggered scheduler backoff for domain.
func (r *Recorder) ObserveRateLimitBackoff(domain string) {
	r.rateLimitBackoff.WithLabelValues(domain).Inc()
}

// ObservePage records one page crawled by the Recursive Scheduler.
func (r *Recorder) ObservePage(outcome string) {
	r.pagesCrawled.WithLabelValues(outcome).Inc()
}

// SessionStarted/SessionEnded track the number of concurrently running
// CrawlRecursive sessions.
func (r *Recorder) SessionStarted() { r.sessionsActive.Inc() }
func (r *Recorder) SessionEnded()   { r.sessionsActive.Dec() }
