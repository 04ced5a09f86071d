package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/agromarket/internal/health"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/postgres"
)

// runtimeDependencies — хранилища площадки и общая шина изменений.
type runtimeDependencies struct {
	hub         *changefeed.Hub
	orders      domain.OrderRepository
	products    domain.ProductRepository
	users       domain.UserRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	// listenFn пересылает изменения других экземпляров в hub; nil для памяти.
	listenFn func(ctx context.Context) error
	closeFn  func() error
}

// initRuntimeDependencies выбирает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return newMemoryDependencies(), nil
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func newMemoryDependencies() *runtimeDependencies {
	hub := changefeed.NewHub()
	return &runtimeDependencies{
		hub:         hub,
		orders:      memory.NewOrderRepository(hub),
		products:    memory.NewProductRepository(hub),
		users:       memory.NewUserRepository(),
		outbox:      memory.NewOutboxRepository(hub),
		timeline:    memory.NewTimelineRepository(),
		idempotency: memory.NewIdempotencyRepository(),
		storageChecker: healthcheck.NewChecker("storage", func(context.Context) error {
			return nil
		}),
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres storage requires MARKET_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(cfg.PostgresMaxConns))
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	listenerLogger := logger.WithField("component", "postgres-listener")
	logger.Info("using postgres storage")
	return &runtimeDependencies{
		hub:            store.Hub(),
		orders:         postgres.NewOrderRepository(store),
		products:       postgres.NewProductRepository(store),
		users:          postgres.NewUserRepository(store),
		outbox:         postgres.NewOutboxRepository(store),
		timeline:       postgres.NewTimelineRepository(store),
		idempotency:    postgres.NewIdempotencyRepository(store),
		storageChecker: healthcheck.NewChecker("storage", store.Ping),
		listenFn: func(ctx context.Context) error {
			return store.Listen(ctx, listenerLogger)
		},
		closeFn: store.Close,
	}, nil
}

// close освобождает подключение к хранилищу.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
