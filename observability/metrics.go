package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records collateral engine operation activity: attempt counts,
// failure counts by error kind, and handler latency.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// HTTPMetrics records inbound API traffic segmented by route and status.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// LedgerMetrics exports the outstanding stablecoin supply and the aggregate
// debt recorded across positions. Both gauges read through callbacks on every
// scrape, so they track the live ledgers without a push path.
type LedgerMetrics struct {
	supply prometheus.GaugeFunc
	debt   prometheus.GaugeFunc
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscd",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Total engine operation failures segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dscd",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.failures,
			engineRegistry.latency,
		)
	})
	return engineRegistry
}

// Observe records a completed engine operation. kind is empty on success and
// carries the error kind label on failure.
func (m *EngineMetrics) Observe(operation string, start time.Time, kind string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if kind != "" {
		outcome = "error"
		m.failures.WithLabelValues(operation, kind).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// HTTP returns the lazily-initialised HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscd",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dscd",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dscd",
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Number of API requests currently being served.",
			}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.inFlight,
		)
	})
	return httpRegistry
}

// Ledger registers the supply and debt gauges backed by the supplied read
// callbacks. Only the callbacks from the first call are retained.
func Ledger(totalSupply, totalDebt func() float64) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			supply: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "dscd",
				Subsystem: "ledger",
				Name:      "stablecoin_total_supply",
				Help:      "Outstanding stablecoin supply in base units.",
			}, totalSupply),
			debt: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "dscd",
				Subsystem: "ledger",
				Name:      "total_debt",
				Help:      "Aggregate debt recorded across all positions in base units.",
			}, totalDebt),
		}
		prometheus.MustRegister(ledgerRegistry.supply, ledgerRegistry.debt)
	})
	return ledgerRegistry
}

// Observe records a completed API request.
func (m *HTTPMetrics) Observe(route, method string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}

// Track brackets an in-flight request; the returned func must be deferred.
func (m *HTTPMetrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
