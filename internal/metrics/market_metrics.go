// Package metrics собирает prometheus-метрики площадки.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления корзины.
const (
	CheckoutResultSuccess  = "success"
	CheckoutResultFailed   = "failed"
	CheckoutResultRejected = "rejected"
)

// MarketMetrics содержит метрики оформления заказов и их жизненного цикла.
// Все методы безопасны для nil-получателя.
type MarketMetrics struct {
	checkouts         *prometheus.CounterVec
	checkoutDuration  prometheus.Histogram
	ordersPerCheckout prometheus.Histogram
	ordersCreated     prometheus.Counter

	statusTransitions *prometheus.CounterVec
	productsPublished prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	subscriptions *prometheus.GaugeVec
}

// NewMarketMetrics регистрирует метрики в default registry.
func NewMarketMetrics() *MarketMetrics {
	return NewMarketMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMarketMetricsWithRegisterer регистрирует метрики в переданном registry.
func NewMarketMetricsWithRegisterer(registerer prometheus.Registerer) *MarketMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MarketMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "agromarket_checkouts_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "agromarket_checkout_duration_seconds",
			Help:    "Duration of checkout fan-out in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		ordersPerCheckout: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "agromarket_orders_per_checkout",
			Help:    "Number of seller orders produced by a single checkout",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agromarket_orders_created_total",
			Help: "Total number of seller orders created",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "agromarket_order_status_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		productsPublished: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agromarket_products_published_total",
			Help: "Total number of products published to the catalog",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agromarket_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agromarket_outbox_events_total",
			Help: "Total number of events enqueued to outbox",
		}),
		subscriptions: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "agromarket_active_subscriptions",
			Help: "Number of open live subscriptions grouped by kind",
		}, []string{"kind"}),
	}
}

// RecordCheckout фиксирует результат, длительность и число созданных заказов.
func (m *MarketMetrics) RecordCheckout(result string, duration time.Duration, orders int) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
	if orders > 0 {
		m.ordersPerCheckout.Observe(float64(orders))
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *MarketMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordStatusTransition учитывает переход статуса заказа.
func (m *MarketMetrics) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordProductPublished увеличивает счётчик опубликованных товаров.
func (m *MarketMetrics) RecordProductPublished() {
	if m == nil {
		return
	}
	m.productsPublished.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *MarketMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *MarketMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// SubscriptionOpened учитывает открытую подписку.
func (m *MarketMetrics) SubscriptionOpened(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Inc()
}

// SubscriptionClosed учитывает закрытую подписку.
func (m *MarketMetrics) SubscriptionClosed(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Dec()
}
