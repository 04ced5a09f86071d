package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

// changesChannel — канал LISTEN/NOTIFY; payload — топик changefeed.
const changesChannel = "agromarket_changes"

const (
	listenRetryMin = 200 * time.Millisecond
	listenRetryMax = 10 * time.Second
)

// execer — общее у *sql.DB и *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// notifyChange ставит уведомление в ту же транзакцию, что и запись:
// Postgres доставит его только после commit.
func notifyChange(ctx context.Context, db execer, topic string) error {
	if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, changesChannel, topic); err != nil {
		return fmt.Errorf("notify %s change: %w", topic, err)
	}
	return nil
}

// Listen держит отдельное соединение с LISTEN и пересылает уведомления
// других экземпляров сервиса в Hub. Блокируется до отмены ctx,
// при обрыве соединения переподключается с экспоненциальной задержкой.
func (s *Store) Listen(ctx context.Context, logger *log.Entry) error {
	if s == nil || s.dsn == "" {
		return errors.New("postgres listener requires a store opened by dsn")
	}
	if logger == nil {
		logger = log.WithField("component", "postgres-listener")
	}

	delay := listenRetryMin
	for {
		err := s.listenOnce(ctx, &delay)
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).WithField("retry_in", delay.String()).Warn("postgres listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > listenRetryMax {
			delay = listenRetryMax
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, delay *time.Duration) error {
	connectCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	conn, err := pgx.Connect(connectCtx, s.dsn)
	cancel()
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{changesChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", changesChannel, err)
	}
	*delay = listenRetryMin

	// Пока соединение было разорвано, изменения могли пройти мимо.
	s.notifyAll()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.hub.Notify(n.Payload)
	}
}

func (s *Store) notifyAll() {
	for _, topic := range []string{
		changefeed.TopicOrders,
		changefeed.TopicProducts,
		changefeed.TopicUsers,
		changefeed.TopicOutbox,
	} {
		s.hub.Notify(topic)
	}
}
