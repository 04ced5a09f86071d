package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, ":50051", cfg.GRPCAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	require.True(t, cfg.PostgresAutoMigrate)
	require.Positive(t, cfg.PostgresMaxConns)
	require.Equal(t, BrokerLog, cfg.Broker)

	require.Positive(t, cfg.OutboxPollInterval)
	require.Positive(t, cfg.OutboxBatchSize)
	require.Positive(t, cfg.OutboxMaxAttempts)
	require.GreaterOrEqual(t, cfg.OutboxRetryDelay, time.Duration(0))

	require.Positive(t, cfg.IdempotencyTTL)
	require.Positive(t, cfg.IdempotencyCleanupInterval)
	require.Positive(t, cfg.IdempotencyCleanupBatchSize)

	require.GreaterOrEqual(t, len(cfg.JWTSecret), 16)
	require.Positive(t, cfg.TokenTTL)
	require.NotEmpty(t, cfg.BlobDir)
	require.Positive(t, cfg.CheckoutConcurrency)
	require.Positive(t, cfg.RateLimitRPS)
	require.Positive(t, cfg.RateLimitBurst)
}

func TestDefaultConfig_ValueSemantics(t *testing.T) {
	original := DefaultConfig()
	changed := original
	changed.GRPCAddr = ":8080"

	require.Equal(t, ":50051", original.GRPCAddr)
	require.Equal(t, DefaultConfig(), original)
	require.NotEqual(t, original, changed)
}
