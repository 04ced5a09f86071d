package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты попыток публикации из outbox.
const (
	OutboxResultSent       = "sent"
	OutboxResultRetryError = "retry_error"
	OutboxResultFailed     = "failed"
	OutboxResultDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает публикацию transactional outbox и её backlog.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в переданном registry.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "agromarket_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "agromarket_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "agromarket_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
	}
}

// RecordPublish учитывает попытку публикации с результатом.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog выставляет размер backlog и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestPendingAge.Set(oldestAge.Seconds())
}

// Результаты цикла очистки idempotency-ключей.
const (
	CleanupResultOK    = "ok"
	CleanupResultError = "error"
)

// IdempotencyCleanupMetrics описывает работу очистки idempotency-ключей.
type IdempotencyCleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewIdempotencyCleanupMetrics регистрирует метрики очистки в переданном registry.
func NewIdempotencyCleanupMetrics(registerer prometheus.Registerer) *IdempotencyCleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &IdempotencyCleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "agromarket_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agromarket_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "agromarket_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		}),
	}
}

// RecordRun учитывает завершённый цикл очистки.
func (m *IdempotencyCleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == CleanupResultOK {
		m.lastDeleted.Set(float64(deleted))
	}
}

// RecordDeleted добавляет удалённые записи к общему счётчику.
func (m *IdempotencyCleanupMetrics) RecordDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
