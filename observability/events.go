package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"dscd/core/events"
)

type EventMetrics struct {
	deposits    *prometheus.CounterVec
	redemptions *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking engine collateral events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscd",
				Subsystem: "events",
				Name:      "collateral_deposits_total",
				Help:      "Count of collateral deposits segmented by asset.",
			}, []string{"asset"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dscd",
				Subsystem: "events",
				Name:      "collateral_redemptions_total",
				Help:      "Count of collateral redemptions segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(eventRegistry.deposits, eventRegistry.redemptions)
	})
	return eventRegistry
}

// EventEmitter counts engine events into the prometheus registries. It
// satisfies the engine's events.Emitter interface.
type EventEmitter struct{}

func (EventEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	registry := Events()
	switch e := evt.(type) {
	case events.CollateralDeposited:
		registry.deposits.WithLabelValues(normalizeAsset(e.Asset)).Inc()
	case events.CollateralRedeemed:
		registry.redemptions.WithLabelValues(normalizeAsset(e.Asset)).Inc()
	}
}

func normalizeAsset(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
