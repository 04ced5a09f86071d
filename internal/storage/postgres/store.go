// Package postgres — PostgreSQL-реализация хранилищ площадки поверх database/sql и pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig параметры пула соединений.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig рассчитан на один экземпляр сервиса и фоновые воркеры.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// StoreOption настраивает Open.
type StoreOption func(*PoolConfig)

// WithMaxConns ограничивает число открытых соединений; idle-пул не больше него.
func WithMaxConns(n int) StoreOption {
	return func(cfg *PoolConfig) {
		if n > 0 {
			cfg.MaxOpenConns = n
			cfg.MaxIdleConns = min(cfg.MaxIdleConns, n)
		}
	}
}

// Store держит пул соединений к PostgreSQL и шину изменений, через которую
// работают живые запросы каталога и заказов.
type Store struct {
	db  *sql.DB
	dsn string
	hub *changefeed.Hub
}

// Open открывает пул и дожидается первого успешного ping.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	pool := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db, dsn: dsn, hub: changefeed.NewHub()}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// NewStore оборачивает уже открытое подключение, например sqlmock в тестах.
// Listen для такого хранилища недоступен: нет DSN для отдельного соединения.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, hub: changefeed.NewHub()}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Hub возвращает шину, в которую репозитории сообщают о своих изменениях.
func (s *Store) Hub() *changefeed.Hub {
	return s.hub
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все ещё не применённые up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
