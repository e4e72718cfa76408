package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderingMetrics — метрики доменных операций: клиентов, каталога и заказов.
type OrderingMetrics struct {
	entitiesCreated   *prometheus.CounterVec
	entitiesDeleted   *prometheus.CounterVec
	deletionsBlocked  *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	orderTotal        prometheus.Histogram
	orderItems        prometheus.Histogram
}

// NewOrderingMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderingMetrics() *OrderingMetrics {
	return NewOrderingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderingMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderingMetricsWithRegisterer(registerer prometheus.Registerer) *OrderingMetrics {
	registerer = orDefault(registerer)

	return &OrderingMetrics{
		entitiesCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_entities_created_total",
			Help: "Total number of created clients, products and orders.",
		}, []string{"entity"}),
		entitiesDeleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_entities_deleted_total",
			Help: "Total number of deleted clients, products and orders.",
		}, []string{"entity"}),
		deletionsBlocked: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_deletions_blocked_total",
			Help: "Deletions rejected because existing orders still reference the entity.",
		}, []string{"entity"}),
		operationErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_operation_errors_total",
			Help: "Failed domain operations grouped by operation and error kind.",
		}, []string{"operation", "kind"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordering_operation_duration_seconds",
			Help:    "Duration of domain operations in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ordering_order_total_amount",
			Help:    "Distribution of order totals at creation time.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		orderItems: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ordering_order_items",
			Help:    "Number of product lines per created order.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
	}
}

// RecordCreated увеличивает счётчик созданных сущностей.
func (m *OrderingMetrics) RecordCreated(entity string) {
	if m == nil {
		return
	}
	m.entitiesCreated.WithLabelValues(entity).Inc()
}

// RecordDeleted увеличивает счётчик удалённых сущностей.
func (m *OrderingMetrics) RecordDeleted(entity string) {
	if m == nil {
		return
	}
	m.entitiesDeleted.WithLabelValues(entity).Inc()
}

// RecordDeletionBlocked фиксирует отказ в удалении из-за ссылок заказов.
func (m *OrderingMetrics) RecordDeletionBlocked(entity string) {
	if m == nil {
		return
	}
	m.deletionsBlocked.WithLabelValues(entity).Inc()
}

// RecordError фиксирует ошибку операции; kind принимает значения validation, not_found, conflict и internal.
func (m *OrderingMetrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, kind).Inc()
}

// RecordDuration записывает длительность операции.
func (m *OrderingMetrics) RecordDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOrder записывает сумму и число позиций созданного заказа.
func (m *OrderingMetrics) RecordOrder(total float64, items int) {
	if m == nil {
		return
	}
	m.orderTotal.Observe(total)
	m.orderItems.Observe(float64(items))
}
