package app

import "time"

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Брокеры для публикации событий outbox.
const (
	BrokerLog      = "log"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config описывает настройки запуска сервиса площадки.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	Broker           string
	KafkaBrokers     string
	KafkaTopic       string
	RabbitMQURL      string
	RabbitMQExchange string

	JWTSecret string
	TokenTTL  time.Duration

	BlobDir     string
	BlobBaseURL string

	CheckoutConcurrency int

	// RateLimitRPS <= 0 отключает ограничение запросов.
	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultConfig возвращает конфигурацию для локального запуска на памяти.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		Broker:           BrokerLog,
		KafkaTopic:       "agromarket.order.events",
		RabbitMQExchange: "agromarket.events",

		JWTSecret: "agromarket-dev-secret-change-me",
		TokenTTL:  24 * time.Hour,

		BlobDir:     "./data/media",
		BlobBaseURL: "http://localhost:9090/media",

		CheckoutConcurrency: 8,

		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}
}
