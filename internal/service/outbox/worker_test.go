package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

func placedMessage(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-" + id,
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"status":"pending"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedMessage("msg-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	res := worker.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Pulled: 1, Sent: 1}, res)
	require.Equal(t, []string{"msg-1"}, repo.sent())
	require.Empty(t, repo.failed())
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedMessage("msg-2")}}
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.sent())
	require.Equal(t, []string{"msg-2"}, repo.failed())
	require.Equal(t, 1, dlqPublisher.calls())

	dlq := dlqPublisher.last()
	require.Equal(t, "msg-2", dlq.ID)
	require.Equal(t, domain.EventOrderPlaced, dlq.EventType)

	var envelope deadLetterEnvelope
	require.NoError(t, json.Unmarshal(dlq.Payload, &envelope))
	require.Equal(t, "order-msg-2", envelope.AggregateID)
	require.Equal(t, 3, envelope.Attempts)
	require.Contains(t, envelope.PublishError, "publish failed")
	require.JSONEq(t, `{"status":"pending"}`, string(envelope.Payload))
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedMessage("msg-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Equal(t, []string{"msg-3"}, repo.sent())
	require.Empty(t, repo.failed())
}

func TestWorker_ProcessOnce_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedMessage("msg-4"), placedMessage("msg-5")}}
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("flaky")}}

	worker := NewWorker(
		repo,
		publisher,
		WithRetryBaseDelay(0),
		WithMetrics(metrics.NewOutboxMetrics(reg)),
	)
	worker.ProcessOnce(context.Background())

	attempts, err := testutil.GatherAndCount(reg, "agromarket_outbox_publish_attempts_total")
	require.NoError(t, err)
	require.Equal(t, 2, attempts, "sent and retry_error series")

	pending, err := testutil.GatherAndCount(reg, "agromarket_outbox_pending_records")
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestWorker_Run_ProcessesOnTrigger(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{}
	publisher := &stubPublisher{}
	trigger := make(chan struct{}, 1)

	worker := NewWorker(
		repo,
		publisher,
		WithPollInterval(time.Hour),
		WithRetryBaseDelay(0),
		WithTrigger(trigger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	repo.add(placedMessage("msg-6"))
	trigger <- struct{}{}

	require.Eventually(t, func() bool {
		return len(repo.sent()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker must return immediately")
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		&stubOutboxRepo{},
		&stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))

	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(40), "backoff is capped")

	noDelay := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(-time.Second))
	require.Zero(t, noDelay.retryBackoff(5))
}

func TestWorker_DrainPublishesBeyondOneBatch(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{}
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		repo.add(placedMessage(id))
	}
	worker := NewWorker(repo, &stubPublisher{}, WithBatchSize(2), WithRetryBaseDelay(0))

	worker.drain(context.Background())

	require.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, repo.sent())
}

func TestWorker_CanceledRetryLeavesMessagePending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedMessage("msg-7")}}
	dlq := &stubPublisher{}
	publisher := &stubPublisher{err: errors.New("broker down")}
	worker := NewWorker(repo, publisher, WithDLQPublisher(dlq), WithRetryBaseDelay(time.Hour), WithMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for publisher.calls() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := worker.ProcessOnce(ctx)
	require.Zero(t, res.Failed)
	require.Empty(t, repo.failed())
	require.Zero(t, dlq.calls())
}

func TestWorker_CoalesceTriggers(t *testing.T) {
	t.Parallel()

	trigger := make(chan struct{}, 3)
	trigger <- struct{}{}
	trigger <- struct{}{}
	trigger <- struct{}{}

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithTrigger(trigger))
	worker.coalesceTriggers()
	require.Empty(t, trigger)
}

// stubOutboxRepo отдаёт pending-сообщения, пока они не помечены.
type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) add(msg domain.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msg)
}

func (s *stubOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s.add(msg)
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats() (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	s.drop(id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	s.drop(id)
	return nil
}

func (s *stubOutboxRepo) drop(id string) {
	for i, msg := range s.pending {
		if msg.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *stubOutboxRepo) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentIDs...)
}

func (s *stubOutboxRepo) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failedIDs...)
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.published = append(s.published, event)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}

	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return domain.OutboxMessage{}
	}
	return s.published[len(s.published)-1]
}

var _ domain.OutboxRepository = (*stubOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*stubPublisher)(nil)
