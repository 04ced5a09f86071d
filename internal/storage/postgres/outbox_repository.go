package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultPullLimit = 100
	// outboxClaimLease сколько взятое сообщение скрыто от других экземпляров.
	// Если воркер упал, не отметив сообщение, оно снова станет доступным.
	outboxClaimLease = 30 * time.Second
)

// claimOutboxSQL забирает батч pending-сообщений под аренду. SKIP LOCKED
// позволяет нескольким экземплярам разбирать outbox параллельно без дублей.
const claimOutboxSQL = `
	WITH batch AS (
		SELECT id
		FROM outbox_messages
		WHERE status = $1 AND (claimed_until IS NULL OR claimed_until <= $2)
		ORDER BY created_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	UPDATE outbox_messages AS m
	SET claimed_until = $4, claim_count = m.claim_count + 1
	FROM batch
	WHERE m.id = batch.id
	RETURNING m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload, m.created_at`

type outboxRepository struct {
	db  *sql.DB
	hub *changefeed.Hub
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// Enqueue будит outbox worker и в этом процессе, и в остальных через NOTIFY.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:  store.DB(),
		hub: store.Hub(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxStatusPending, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
	}
	msg.CreatedAt = now

	if err := notifyChange(ctx, r.db, changefeed.TopicOutbox); err != nil {
		// Сообщение уже сохранено; другие экземпляры подберут его по тику.
		log.WithError(err).WithField("outbox_id", msg.ID).Warn("outbox notify failed")
	}
	r.hub.Notify(changefeed.TopicOutbox)
	return msg, nil
}

// PullPending берёт в аренду до limit самых старых pending-сообщений.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	now := r.now()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, claimOutboxSQL, outboxStatusPending, now, limit, now.Add(outboxClaimLease))
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// UPDATE ... RETURNING не гарантирует порядок.
	sortOutboxBatch(batch)
	return batch, nil
}

// Stats считает и арендованные сообщения: они ещё не доставлены.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1
	`, outboxStatusPending).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.settle(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.settle(id, outboxStatusFailed)
}

// settle завершает аренду; повторная отметка того же сообщения не ошибка.
func (r *outboxRepository) settle(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, claimed_until = NULL, updated_at = $3
		WHERE id = $1
	`, id, status, r.now())
	if err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

func sortOutboxBatch(batch []domain.OutboxMessage) {
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID < batch[j].ID
	})
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
