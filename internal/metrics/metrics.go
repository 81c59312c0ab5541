// Package metrics exposes Prometheus collectors for the mention service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pingsTotal                 *prometheus.CounterVec
	resolutionsTotal           *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	relaysTotal                *prometheus.CounterVec
	liveSubscribers            prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentiond_pings_total",
				Help: "Total number of inbound webmention pings, labeled by status.",
			},
			[]string{"status"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentiond_resolutions_total",
				Help: "Total number of resolution passes, labeled by status.",
			},
			[]string{"status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentiond_fetches_total",
				Help: "Total number of document fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		relaysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentiond_outbound_relays_total",
				Help: "Total number of outbound relay attempts, labeled by status.",
			},
			[]string{"status"},
		)

		liveSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mentiond_live_subscribers",
				Help: "Number of currently connected live stream subscribers.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePing increments the inbound ping counter for the given status.
func ObservePing(status string) {
	if pingsTotal == nil {
		return
	}
	pingsTotal.WithLabelValues(status).Inc()
}

// ObserveResolution increments the resolution counter for the given status.
func ObserveResolution(status string) {
	if resolutionsTotal == nil {
		return
	}
	resolutionsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch increments the fetch counter for the given outcome.
func ObserveFetch(outcome string) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRelay increments the outbound relay counter for the given status.
func ObserveRelay(status string) {
	if relaysTotal == nil {
		return
	}
	relaysTotal.WithLabelValues(status).Inc()
}

// IncLiveSubscribers increments the live subscriber gauge.
func IncLiveSubscribers() {
	if liveSubscribers == nil {
		return
	}
	liveSubscribers.Inc()
}

// DecLiveSubscribers decrements the live subscriber gauge.
func DecLiveSubscribers() {
	if liveSubscribers == nil {
		return
	}
	liveSubscribers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
