// Package outbox доставляет события заказов и оформлений из transactional
// outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second

	// maxDrainBatches ограничивает число батчей за одно пробуждение.
	maxDrainBatches = 20
)

// Option настраивает Worker. Нулевые и отрицательные значения оставляют значение по умолчанию.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт получателя сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается
// до maxRetryDelay. Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		w.retryBaseDelay = max(delay, 0)
	}
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTrigger задаёт канал сигналов о новых сообщениях: воркер разбирает
// очередь сразу, не дожидаясь тика. Сигналы, пришедшие во время разбора,
// схлопываются в один.
func WithTrigger(trigger <-chan struct{}) Option {
	return func(w *Worker) {
		w.trigger = trigger
	}
}

// Worker публикует pending-сообщения из outbox в брокер. Сообщение, которое
// не удалось опубликовать за maxAttempts попыток, уходит в DLQ и помечается failed.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	metrics        *metrics.OutboxMetrics
	trigger        <-chan struct{}
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// BatchResult итог одного прохода по outbox.
type BatchResult struct {
	Pulled int
	Sent   int
	Failed int
}

// Run разбирает outbox по тику и по сигналу trigger, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.trigger:
			w.coalesceTriggers()
		}
	}
}

// drain повторяет проходы, пока outbox отдаёт полные батчи.
func (w *Worker) drain(ctx context.Context) {
	for i := 0; i < maxDrainBatches && ctx.Err() == nil; i++ {
		if res := w.ProcessOnce(ctx); res.Pulled < w.batchSize {
			return
		}
	}
}

func (w *Worker) coalesceTriggers() {
	for {
		select {
		case <-w.trigger:
		default:
			return
		}
	}
}

// ProcessOnce публикует один батч pending-сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}
	defer w.refreshBacklogMetrics()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}
	res.Pulled = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		})

		attempts, err := w.publishWithRetry(ctx, event)
		if err == nil {
			res.Sent++
			if markErr := w.repo.MarkSent(event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark outbox as sent")
			}
			continue
		}
		if ctx.Err() != nil {
			// Сообщение остаётся pending и уйдёт после рестарта.
			break
		}

		res.Failed++
		entry.WithError(err).WithField("attempts", attempts).Error("outbox publish failed after retries")
		w.metrics.RecordPublish(metrics.OutboxResultFailed)
		w.deadLetter(entry, event, attempts, err)
		if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox as failed")
		}
	}
	return res
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			w.metrics.RecordPublish(metrics.OutboxResultSent)
			return attempt, nil
		}
		w.metrics.RecordPublish(metrics.OutboxResultRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.maxAttempts, fmt.Errorf("publish %s: %w", event.EventType, lastErr)
}

// retryBackoff пауза после попытки attempt: base, 2*base, 4*base... не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) refreshBacklogMetrics() {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// deadLetterEnvelope тело сообщения в DLQ: исходное событие и причина отказа.
type deadLetterEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(entry *log.Entry, event domain.OutboxMessage, attempts int, publishErr error) {
	if w.dlq == nil {
		return
	}

	payload, err := json.Marshal(deadLetterEnvelope{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		Attempts:      attempts,
		PublishError:  publishErr.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err == nil {
		dead := event
		dead.Payload = payload
		err = w.dlq.Publish(dead)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(metrics.OutboxResultDLQFailed)
	}
}
