package domain

import (
	"context"
	"io"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	// List возвращает события заказа от старых к новым.
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// Reserve занимает ключ в статусе processing. Если живая запись уже есть,
	// возвращает её вместе с ErrIdempotencyKeyAlreadyExists или
	// ErrIdempotencyHashMismatch. Просроченная запись перезаписывается.
	Reserve(key IdempotencyKey, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(key IdempotencyKey) (IdempotencyRecord, error)
	// Settle сохраняет итог обработки.
	Settle(key IdempotencyKey, outcome IdempotencyOutcome) error
	// Release удаляет запись в статусе processing, чтобы повтор с тем же ключом
	// выполнился заново. Без такой записи возвращает ErrIdempotencyKeyNotFound.
	Release(key IdempotencyKey) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// BlobStore хранит бинарные объекты и выдаёт ссылку, по которой их можно получить.
type BlobStore interface {
	// Put сохраняет объект под ключом и возвращает публичную ссылку.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Open открывает объект по ключу; ErrBlobNotFound, если его нет.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// CreatedAt момент постановки в outbox; заполняет хранилище.
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
