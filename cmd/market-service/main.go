package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/app"
)

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	envFileErr := godotenv.Load()

	warnings := setupLogger(os.LookupEnv)
	if envFileErr != nil && !errors.Is(envFileErr, os.ErrNotExist) {
		log.WithError(envFileErr).Warn("failed to load .env")
	}

	cfg, configWarnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range append(warnings, configWarnings...) {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"broker":         cfg.Broker,
	}).Info("запускаем MarketService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("MarketService остановлен")
}
