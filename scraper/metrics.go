package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry                *prometheus.Registry
	RequestsTotal           *prometheus.CounterVec
	RequestDuration         prometheus.Histogram
	ProductsDiscoveredTotal prometheus.Counter
	RetriesTotal            prometheus.Counter
	ErrorsTotal             *prometheus.CounterVec
	ProductsTotal           *prometheus.CounterVec
	ReviewsTotal            *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total upstream API requests by outcome.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "Upstream API request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	discovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_products_discovered_total",
			Help: "Total product identifiers yielded by the catalog walk.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of transport errors by type.",
		},
		[]string{"error_type"},
	)
	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_products_total",
			Help: "Products processed by outcome.",
		},
		[]string{"outcome"},
	)
	reviews := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_reviews_total",
			Help: "Review records persisted by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, discovered, retries, errorsTotal, products, reviews)

	return &Metrics{
		Registry:                registry,
		RequestsTotal:           requests,
		RequestDuration:         requestDuration,
		ProductsDiscoveredTotal: discovered,
		RetriesTotal:            retries,
		ErrorsTotal:             errorsTotal,
		ProductsTotal:           products,
		ReviewsTotal:            reviews,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncDiscovered increments the discovered products counter.
func (m *Metrics) IncDiscovered() {
	if m == nil {
		return
	}
	m.ProductsDiscoveredTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncProduct counts a finished or skipped product.
func (m *Metrics) IncProduct(outcome string) {
	if m == nil {
		return
	}
	m.ProductsTotal.WithLabelValues(outcome).Inc()
}

// IncReview counts one review persistence outcome.
func (m *Metrics) IncReview(outcome string) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(outcome).Inc()
}
