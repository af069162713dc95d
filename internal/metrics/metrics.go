// Package metrics exposes Prometheus collectors for the MongoDB sink.
package metrics

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/pool"
)

// Collectors groups every sink metric. It satisfies processor.Observer and
// pool.Observer.
type Collectors struct {
	gatherer prometheus.Gatherer

	documentsTotal      *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	skipsTotal          *prometheus.CounterVec
	failuresTotal       *prometheus.CounterVec
	poolWaitSeconds     *prometheus.HistogramVec
	poolCheckedOut      prometheus.Gauge
	poolIdle            prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Collectors{
		gatherer: reg,
		documentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongosink_documents_total",
				Help: "Total number of documents inserted, labeled by site.",
			},
			[]string{"site"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongosink_bytes_total",
				Help: "Total BSON bytes inserted, labeled by site.",
			},
			[]string{"site"},
		),
		skipsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongosink_skips_total",
				Help: "Total number of URIs not written, labeled by reason.",
			},
			[]string{"reason"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mongosink_failures_total",
				Help: "Total number of failed writes, labeled by kind.",
			},
			[]string{"kind"},
		),
		poolWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mongosink_pool_wait_seconds",
				Help:    "Histogram of writer borrow latencies, labeled by outcome.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"outcome"},
		),
		poolCheckedOut: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongosink_pool_checked_out",
				Help: "Number of writers currently borrowed.",
			},
		),
		poolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mongosink_pool_idle",
				Help: "Number of idle writers in the pool.",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveWrite counts one inserted document of the given size.
func (c *Collectors) ObserveWrite(site string, bytes int64) {
	s := SanitizeSite(site)
	c.documentsTotal.WithLabelValues(s).Inc()
	if bytes > 0 {
		c.bytesTotal.WithLabelValues(s).Add(float64(bytes))
	}
}

// ObserveSkip counts a URI that was admitted to the chain but not written.
func (c *Collectors) ObserveSkip(reason string) {
	c.skipsTotal.WithLabelValues(reason).Inc()
}

// ObserveFailure counts a failed write.
func (c *Collectors) ObserveFailure(kind string) {
	c.failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveBorrow records how long a caller waited for a writer.
func (c *Collectors) ObserveBorrow(wait time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, pool.ErrPoolExhausted):
		outcome = "exhausted"
	case err != nil:
		outcome = "error"
	}
	c.poolWaitSeconds.WithLabelValues(outcome).Observe(wait.Seconds())
}

// SetActive publishes current pool occupancy.
func (c *Collectors) SetActive(checkedOut, idle int) {
	c.poolCheckedOut.Set(float64(checkedOut))
	c.poolIdle.Set(float64(idle))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
