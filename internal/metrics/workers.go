package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics — метрики публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	registerer = orDefault(registerer)

	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordering_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordering_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordAttempt учитывает попытку публикации с результатом result.
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAgeSeconds float64) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPendingAge.Set(oldestAgeSeconds)
}

// IdempotencyMetrics — метрики очистки ключей идемпотентности.
type IdempotencyMetrics struct {
	cleanupRuns    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
	lastDeleted    prometheus.Gauge
	replays        *prometheus.CounterVec
}

// NewIdempotencyMetrics регистрирует метрики идемпотентности.
func NewIdempotencyMetrics(registerer prometheus.Registerer) *IdempotencyMetrics {
	registerer = orDefault(registerer)

	return &IdempotencyMetrics{
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordering_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordering_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
		replays: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_idempotency_requests_total",
			Help: "Requests carrying an Idempotency-Key grouped by outcome.",
		}, []string{"outcome"}),
	}
}

// RecordRun учитывает цикл очистки.
func (m *IdempotencyMetrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
}

// RecordDeleted учитывает удалённые записи за одну порцию.
func (m *IdempotencyMetrics) RecordDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(n))
}

// SetLastDeleted фиксирует итог последнего цикла.
func (m *IdempotencyMetrics) SetLastDeleted(n int) {
	if m == nil {
		return
	}
	m.lastDeleted.Set(float64(n))
}

// RecordRequest учитывает запрос с ключом: processed, replayed, conflict или in_flight.
func (m *IdempotencyMetrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(outcome).Inc()
}
