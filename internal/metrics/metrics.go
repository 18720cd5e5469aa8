package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridgetopo"

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	discoveryRunsTotal   *prometheus.CounterVec
	discoveryRunDuration prometheus.Histogram
	bridgePolls          *prometheus.CounterVec
	calculations         *prometheus.CounterVec
	calculationDuration  *prometheus.HistogramVec
	domainSegments       *prometheus.GaugeVec
	domainBridges        *prometheus.GaugeVec
	domainMacs           *prometheus.GaugeVec
}

// New creates a fresh Metrics registry with HTTP, discovery and topology metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		discoveryRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Discovery runs processed, by final status",
		}, []string{"status"}),
		discoveryRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_run_duration_seconds",
			Help:      "Duration of discovery runs from claim to completion",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		bridgePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_polls_total",
			Help:      "Forwarding table collections per bridge, by result",
		}, []string{"domain", "result"}),
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_calculations_total",
			Help:      "Broadcast domain recomputations, by result",
		}, []string{"domain", "result"}),
		calculationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "topology_calculation_duration_seconds",
			Help:      "Duration of broadcast domain recomputations",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"domain"}),
		domainSegments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_segments",
			Help:      "Shared segments in the broadcast domain",
		}, []string{"domain"}),
		domainBridges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_bridges",
			Help:      "Bridges in the broadcast domain",
		}, []string{"domain"}),
		domainMacs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_macs",
			Help:      "End-host MAC addresses placed on segments of the broadcast domain",
		}, []string{"domain"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.discoveryRunsTotal,
		m.discoveryRunDuration,
		m.bridgePolls,
		m.calculations,
		m.calculationDuration,
		m.domainSegments,
		m.domainBridges,
		m.domainMacs,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveDiscoveryRun records a finished discovery run.
func (m *Metrics) ObserveDiscoveryRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.discoveryRunsTotal.WithLabelValues(status).Inc()
	m.discoveryRunDuration.Observe(duration.Seconds())
}

// IncBridgePoll counts one forwarding table collection.
func (m *Metrics) IncBridgePoll(domain string, ok bool) {
	if m == nil {
		return
	}
	m.bridgePolls.WithLabelValues(domain, result(ok)).Inc()
}

// ObserveCalculation records one domain recomputation.
func (m *Metrics) ObserveCalculation(domain string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(domain, result(ok)).Inc()
	m.calculationDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetDomainSize publishes the current shape of a domain.
func (m *Metrics) SetDomainSize(domain string, bridges, segments, macs int) {
	if m == nil {
		return
	}
	m.domainBridges.WithLabelValues(domain).Set(float64(bridges))
	m.domainSegments.WithLabelValues(domain).Set(float64(segments))
	m.domainMacs.WithLabelValues(domain).Set(float64(macs))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
