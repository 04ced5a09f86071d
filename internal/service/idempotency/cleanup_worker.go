// Package idempotency освобождает просроченные idempotency-ключи.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// ExpiredKeyStore удаляет записи с истёкшим сроком не больше limit за вызов.
type ExpiredKeyStore interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами; значения <= 0 игнорируются.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithMetrics(m *metrics.IdempotencyCleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		w.metrics = m
	}
}

// CleanupWorker периодически удаляет просроченные записи идемпотентности.
// Хранилища и так считают просроченный ключ свободным, воркер лишь не даёт
// таблице расти.
type CleanupWorker struct {
	store     ExpiredKeyStore
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	metrics   *metrics.IdempotencyCleanupMetrics
	now       func() time.Time
}

func NewCleanupWorker(store ExpiredKeyStore, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		store:     store,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run делает проход сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.Purge(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordRun(metrics.CleanupResultError, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
	default:
		w.metrics.RecordRun(metrics.CleanupResultOK, deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Debug("expired idempotency keys removed")
		}
	}
}

// Purge удаляет записи со сроком <= before порциями, пока очередная порция не
// окажется неполной. Возвращает число удалённых даже при ошибке.
func (w *CleanupWorker) Purge(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for ctx.Err() == nil {
		deleted, err := w.store.DeleteExpired(before, w.batchSize)
		total += deleted
		w.metrics.RecordDeleted(deleted)
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
