package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/app"
)

const (
	envLogLevel  = "MARKET_LOG_LEVEL"
	envLogFormat = "MARKET_LOG_FORMAT"

	envGRPCAddr    = "MARKET_GRPC_ADDR"
	envMetricsAddr = "MARKET_METRICS_ADDR"

	envStorageDriver       = "MARKET_STORAGE_DRIVER"
	envPostgresDSN         = "MARKET_POSTGRES_DSN"
	envPostgresAutoMigrate = "MARKET_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns    = "MARKET_POSTGRES_MAX_CONNS"

	envOutboxPollInterval = "MARKET_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "MARKET_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "MARKET_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "MARKET_OUTBOX_RETRY_DELAY"

	envIdempotencyTTL              = "MARKET_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "MARKET_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "MARKET_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envBroker           = "MARKET_BROKER"
	envKafkaBrokers     = "KAFKA_BROKERS"
	envKafkaTopic       = "KAFKA_TOPIC"
	envRabbitMQURL      = "RABBITMQ_URL"
	envRabbitMQExchange = "RABBITMQ_EXCHANGE"

	envJWTSecret = "MARKET_JWT_SECRET"
	envTokenTTL  = "MARKET_TOKEN_TTL"

	envBlobDir     = "MARKET_BLOB_DIR"
	envBlobBaseURL = "MARKET_BLOB_BASE_URL"

	envCheckoutConcurrency = "MARKET_CHECKOUT_CONCURRENCY"

	envRateLimitRPS   = "MARKET_RATE_LIMIT_RPS"
	envRateLimitBurst = "MARKET_RATE_LIMIT_BURST"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

func positiveInt(v int) bool                { return v > 0 }
func positiveDuration(v time.Duration) bool { return v > 0 }

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректное значение не прерывает запуск: остаётся значение по умолчанию,
// а проблема возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	setString := func(key string, target *string) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			parsed, err := parseInt(v, positiveInt, "must be > 0")
			if err != nil {
				warn(key, v, err)
				return
			}
			*target = parsed
		}
	}
	setDuration := func(key string, target *time.Duration, valid func(time.Duration) bool, reason string) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			parsed, err := parseDuration(v, valid, reason)
			if err != nil {
				warn(key, v, err)
				return
			}
			*target = parsed
		}
	}

	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookupTrimmed(lookup, envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	setInt(envPostgresMaxConns, &cfg.PostgresMaxConns)

	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")

	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	if v, ok := lookupTrimmed(lookup, envBroker); ok {
		cfg.Broker = strings.ToLower(v)
	}
	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envRabbitMQURL, &cfg.RabbitMQURL)
	setString(envRabbitMQExchange, &cfg.RabbitMQExchange)

	setString(envJWTSecret, &cfg.JWTSecret)
	setDuration(envTokenTTL, &cfg.TokenTTL, positiveDuration, "must be > 0")

	setString(envBlobDir, &cfg.BlobDir)
	setString(envBlobBaseURL, &cfg.BlobBaseURL)

	setInt(envCheckoutConcurrency, &cfg.CheckoutConcurrency)

	if v, ok := lookupTrimmed(lookup, envRateLimitRPS); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			warn(envRateLimitRPS, v, err)
		} else {
			cfg.RateLimitRPS = parsed
		}
	}
	setInt(envRateLimitBurst, &cfg.RateLimitBurst)

	return cfg, warnings
}

// setupLogger настраивает формат и уровень логирования.
func setupLogger(lookup envLookup) []string {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	var warnings []string
	if v, ok := lookupTrimmed(lookup, envLogFormat); ok && strings.EqualFold(v, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if v, ok := lookupTrimmed(lookup, envLogLevel); ok {
		level, err := log.ParseLevel(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", envLogLevel, v, err))
		} else {
			log.SetLevel(level)
		}
	}
	return warnings
}

// lookupTrimmed возвращает непустое значение переменной без пробелов по краям.
func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, reason string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%d %s", value, reason)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, reason string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s %s", value, reason)
	}
	return value, nil
}
