// Package app собирает сервис площадки: хранилище, брокер, прикладные
// сервисы, фоновые воркеры, gRPC и HTTP-эндпоинты метрик и health.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/agromarket/internal/health"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/agromarket/internal/service/grpc"
	"github.com/vladislavdragonenkov/agromarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/agromarket/internal/service/outbox"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
	"github.com/vladislavdragonenkov/agromarket/internal/version"
)

const (
	grpcStopTimeout     = 5 * time.Second
	httpStopTimeout     = 5 * time.Second
	healthWatchInterval = 10 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или падения gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting agromarket")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	broker, err := initBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.close(logger)

	marketMetrics := metrics.NewMarketMetrics()
	services, err := newMarketServices(cfg, deps, marketMetrics, logger)
	if err != nil {
		return err
	}

	stopBackground := startBackground(ctx, cfg, deps, broker, logger)
	defer stopBackground()

	grpcServer, healthServer := newGRPCServer(cfg, deps, services, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if broker.checker != nil {
		healthHandler.RegisterChecker("broker", broker.checker)
	}
	blobRoot := services.blobs.Root()
	healthHandler.RegisterChecker("blob", healthcheck.NewOptionalChecker("blob", func(context.Context) error {
		_, err := os.Stat(blobRoot)
		return err
	}))

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go healthHandler.Watch(watchCtx, healthWatchInterval, func(status healthcheck.Status) {
		logger.WithField("health", status).Info("market health changed")
		healthServer.SetServingStatus(grpcsvc.ServiceName, grpcServingStatus(status))
	})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler, blobRoot)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		healthServer.Shutdown()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startBackground запускает outbox worker, очистку idempotency-ключей и,
// для postgres, слушатель изменений. Возвращает функцию остановки, которая
// дожидается завершения всех задач.
func startBackground(ctx context.Context, cfg Config, deps *runtimeDependencies, broker *brokerPublishers, logger *log.Entry) func() {
	bgCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(bgCtx)

	outboxSignals, unsubscribe := deps.hub.Subscribe(changefeed.TopicOutbox)
	outboxWorker := outbox.NewWorker(deps.outbox, broker.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(broker.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithTrigger(outboxSignals),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(metrics.NewIdempotencyCleanupMetrics(prometheus.DefaultRegisterer)),
	)

	group.Go(func() error {
		outboxWorker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		cleanupWorker.Run(groupCtx)
		return nil
	})
	if deps.listenFn != nil {
		group.Go(func() error {
			return deps.listenFn(groupCtx)
		})
	}

	return func() {
		cancel()
		if err := group.Wait(); err != nil {
			logger.WithError(err).Warn("background task stopped with error")
		}
		unsubscribe()
	}
}

// newGRPCServer собирает gRPC-сервер с интерсепторами метрик, аутентификации
// и ограничения частоты запросов.
func newGRPCServer(cfg Config, deps *runtimeDependencies, services *marketServices, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := registerGRPCMetrics(logger)
	auth := grpcsvc.NewAuth(services.accounts, logger.WithField("component", "grpc-auth"))
	limiter := grpcsvc.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor(), auth.Unary(), limiter.Unary()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor(), auth.Stream(), limiter.Stream()),
	)

	marketService := grpcsvc.NewMarketService(services.grpcServices(),
		grpcsvc.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
		grpcsvc.WithLogger(logger.WithField("component", "market-grpc")),
	)
	grpcsvc.RegisterMarketServer(grpcServer, marketService)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// grpcServingStatus переводит итог проверок в статус gRPC health: деградация
// зависимостей (брокер, blob) обслуживание не останавливает.
func grpcServingStatus(status healthcheck.Status) healthpb.HealthCheckResponse_ServingStatus {
	if status == healthcheck.StatusUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// registerGRPCMetrics регистрирует метрики gRPC; при повторной регистрации
// переиспользует уже зарегистрированный коллектор.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// stopGRPC останавливает сервер, дав активным вызовам grpcStopTimeout на завершение.
// Живые подписки сами не заканчиваются, поэтому после таймаута сервер гасится принудительно.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает HTTP-сервер с /metrics, health-эндпоинтами
// и раздачей загруженных изображений из mediaRoot.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler, mediaRoot string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	if mediaRoot != "" {
		mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(mediaRoot))))
	}

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpStopTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
