package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
	"github.com/vladislavdragonenkov/agromarket/internal/service/accounts"
	"github.com/vladislavdragonenkov/agromarket/internal/service/catalog"
	"github.com/vladislavdragonenkov/agromarket/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/agromarket/internal/service/grpc"
	"github.com/vladislavdragonenkov/agromarket/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/blob"
)

// marketServices — сервисы площадки поверх выбранного хранилища.
type marketServices struct {
	accounts *accounts.Service
	catalog  *catalog.Service
	checkout *checkout.Service
	orders   *lifecycle.Tracker
	blobs    *blob.LocalStore
}

// newMarketServices собирает граф сервисов.
func newMarketServices(cfg Config, deps *runtimeDependencies, marketMetrics *metrics.MarketMetrics, logger *log.Entry) (*marketServices, error) {
	tokens, err := accounts.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewLocalStore(cfg.BlobDir, cfg.BlobBaseURL, logger.WithField("component", "blob-store"))
	if err != nil {
		return nil, err
	}

	tracker := lifecycle.NewTracker(
		deps.orders,
		deps.outbox,
		deps.timeline,
		marketMetrics,
		logger.WithField("component", "lifecycle"),
	)

	return &marketServices{
		accounts: accounts.NewService(deps.users, tokens, logger.WithField("component", "accounts")),
		catalog:  catalog.NewService(deps.products, blobs, marketMetrics, logger.WithField("component", "catalog")),
		checkout: checkout.NewService(tracker,
			checkout.WithConcurrency(cfg.CheckoutConcurrency),
			checkout.WithOutbox(deps.outbox),
			checkout.WithMetrics(marketMetrics),
			checkout.WithLogger(logger.WithField("component", "checkout")),
		),
		orders: tracker,
		blobs:  blobs,
	}, nil
}

// grpcServices отдаёт сервисы в виде зависимостей gRPC-слоя.
func (s *marketServices) grpcServices() grpcsvc.Services {
	return grpcsvc.Services{
		Accounts: s.accounts,
		Catalog:  s.catalog,
		Checkout: s.checkout,
		Orders:   s.orders,
	}
}
