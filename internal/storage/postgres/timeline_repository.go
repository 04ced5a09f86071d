package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, from_status, to_status, actor_id, occurred)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.OrderID, event.Type, string(event.From), string(event.To), event.ActorID, event.Occurred.UTC())
	if err != nil {
		return fmt.Errorf("append %s to timeline of order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List упорядочивает по occurred, а при равенстве по id, то есть по порядку вставки.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, from_status, to_status, actor_id, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		var from, to string
		if err := rows.Scan(&event.Type, &from, &to, &event.ActorID, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.From = domain.OrderStatus(from)
		event.To = domain.OrderStatus(to)
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
