// Package grpcsvc публикует сервисы площадки по gRPC: аккаунты, каталог,
// оформление корзины и живые списки заказов.
package grpcsvc

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/agromarket/internal/cart"
	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/service/accounts"
	"github.com/vladislavdragonenkov/agromarket/internal/service/catalog"
	"github.com/vladislavdragonenkov/agromarket/internal/service/checkout"
	"github.com/vladislavdragonenkov/agromarket/internal/service/lifecycle"
)

// Services — прикладные сервисы, которые MarketService публикует наружу.
type Services struct {
	Accounts *accounts.Service
	Catalog  *catalog.Service
	Checkout *checkout.Service
	Orders   *lifecycle.Tracker
}

// Option настраивает MarketService.
type Option func(*MarketService)

// WithIdempotency включает обработку idempotency-key для Checkout,
// AdvanceOrder и PublishProduct.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *MarketService) {
		s.idemRepo = repo
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *MarketService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// MarketService реализует MarketServer поверх прикладных сервисов.
type MarketService struct {
	accounts *accounts.Service
	catalog  *catalog.Service
	checkout *checkout.Service
	orders   *lifecycle.Tracker
	idemRepo domain.IdempotencyRepository
	idemTTL  time.Duration
	logger   *log.Entry
}

var _ MarketServer = (*MarketService)(nil)

// NewMarketService собирает gRPC-сервис.
func NewMarketService(services Services, opts ...Option) *MarketService {
	s := &MarketService{
		accounts: services.Accounts,
		catalog:  services.Catalog,
		checkout: services.Checkout,
		orders:   services.Orders,
		idemTTL:  defaultIdempotencyTTL,
		logger:   log.WithField("component", "market-grpc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register создаёт аккаунт продавца или покупателя.
func (s *MarketService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	session, err := s.accounts.Register(ctx, accounts.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Role:            req.Role,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterResponse{User: toUser(session)}, nil
}

// SignIn выдаёт токен сессии.
func (s *MarketService) SignIn(ctx context.Context, req *SignInRequest) (*SignInResponse, error) {
	result, err := s.accounts.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SignInResponse{
		User:      toUser(result.Session),
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// PublishProduct публикует товар продавца.
func (s *MarketService) PublishProduct(ctx context.Context, req *PublishProductRequest) (*ProductResponse, error) {
	return withIdempotency(s, ctx, MethodPublishProduct, req, func(ctx context.Context) (*ProductResponse, error) {
		session, _ := SessionFromContext(ctx)
		product, err := s.catalog.Publish(ctx, session, catalog.ProductInput{
			Name:        req.Name,
			Price:       req.Price,
			Description: req.Description,
			ImageRef:    req.ImageRef,
			Stock:       req.Stock,
			Category:    req.Category,
			Unit:        req.Unit,
		})
		if err != nil {
			return nil, toStatus(err)
		}
		return &ProductResponse{Product: toProduct(product)}, nil
	})
}

// UpdateProduct применяет частичное изменение товара.
func (s *MarketService) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*ProductResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	session, _ := SessionFromContext(ctx)
	product, err := s.catalog.Update(ctx, session, req.ID, catalog.ProductPatch{
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		Stock:       req.Stock,
		Category:    req.Category,
		Unit:        req.Unit,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductResponse{Product: toProduct(product)}, nil
}

// DeleteProduct удаляет товар продавца.
func (s *MarketService) DeleteProduct(ctx context.Context, req *ProductRequest) (*Empty, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	session, _ := SessionFromContext(ctx)
	if err := s.catalog.Delete(ctx, session, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// GetProduct возвращает товар.
func (s *MarketService) GetProduct(ctx context.Context, req *ProductRequest) (*ProductResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	product, err := s.catalog.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProductResponse{Product: toProduct(product)}, nil
}

// UploadImage сохраняет изображение товара.
func (s *MarketService) UploadImage(ctx context.Context, req *UploadImageRequest) (*UploadImageResponse, error) {
	session, _ := SessionFromContext(ctx)
	ref, err := s.catalog.UploadImage(ctx, session, req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UploadImageResponse{ImageRef: ref}, nil
}

// SearchProducts ищет товары в наличии по началу названия.
func (s *MarketService) SearchProducts(ctx context.Context, req *SearchProductsRequest) (*ProductList, error) {
	products, err := s.catalog.Search(ctx, req.Prefix, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return toProductList(products), nil
}

// Checkout оформляет корзину клиента: по заказу на продавца.
func (s *MarketService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	return withIdempotency(s, ctx, MethodCheckout, req, func(ctx context.Context) (*CheckoutResponse, error) {
		session, _ := SessionFromContext(ctx)
		c, err := s.buildCart(ctx, req.Items)
		if err != nil {
			return nil, toStatus(err)
		}

		result, err := s.checkout.Checkout(ctx, session, c)
		if err != nil {
			return nil, toStatus(err)
		}

		resp := &CheckoutResponse{
			CheckoutID: result.CheckoutID,
			Orders:     make([]Order, 0, len(result.Orders)),
			TotalMinor: result.TotalMinor,
		}
		for _, order := range result.Orders {
			resp.Orders = append(resp.Orders, toOrder(order, session))
		}
		return resp, nil
	})
}

// buildCart собирает корзину по актуальным данным каталога. Товары без
// остатка покупателям не видны и в корзину не попадают; количество остатком
// не ограничивается.
func (s *MarketService) buildCart(ctx context.Context, lines []CartLine) (*cart.Cart, error) {
	c := cart.New()
	for i, line := range lines {
		if line.ProductID == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		product, err := s.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Available() {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "is out of stock")
		}
		if err := c.Add(cart.ItemFromProduct(product), line.Qty); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AdvanceOrder переводит заказ продавца в следующий статус.
func (s *MarketService) AdvanceOrder(ctx context.Context, req *AdvanceOrderRequest) (*OrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	target := domain.OrderStatus(req.Target)
	if target != "" && !target.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Target)
	}

	return withIdempotency(s, ctx, MethodAdvanceOrder, req, func(ctx context.Context) (*OrderResponse, error) {
		session, _ := SessionFromContext(ctx)
		next := target
		if next == "" {
			order, err := s.orders.Get(ctx, session, req.OrderID)
			if err != nil {
				return nil, toStatus(err)
			}
			var ok bool
			if next, ok = order.Status.Next(); !ok {
				return nil, toStatus(fmt.Errorf("%w: %s is final", domain.ErrInvalidTransition, order.Status))
			}
		}

		order, err := s.orders.Advance(ctx, session, req.OrderID, next)
		if err != nil {
			return nil, toStatus(err)
		}
		return &OrderResponse{Order: toOrder(order, session)}, nil
	})
}

// GetOrder возвращает заказ участнику заказа.
func (s *MarketService) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	session, _ := SessionFromContext(ctx)
	order, err := s.orders.Get(ctx, session, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderResponse{Order: toOrder(order, session)}, nil
}

// OrderTimeline возвращает аудит заказа.
func (s *MarketService) OrderTimeline(ctx context.Context, req *OrderRequest) (*OrderTimelineResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	session, _ := SessionFromContext(ctx)
	events, err := s.orders.Timeline(ctx, session, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &OrderTimelineResponse{Events: make([]TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, timelineEventFromDomain(event, session.Role))
	}
	return resp, nil
}

// WatchProducts стримит живой список товаров.
func (s *MarketService) WatchProducts(req *WatchProductsRequest, stream grpc.ServerStreamingServer[ProductList]) error {
	ctx := stream.Context()
	session, _ := SessionFromContext(ctx)

	var (
		sub *domain.Subscription[[]domain.Product]
		err error
	)
	switch req.Scope {
	case ProductScopeMine:
		sub, err = s.catalog.WatchSellerProducts(ctx, session)
	case ProductScopeAvailable, "":
		sub, err = s.catalog.WatchAvailable(ctx, domain.Category(req.Category))
	default:
		return status.Errorf(codes.InvalidArgument, "unknown scope %q", req.Scope)
	}
	if err != nil {
		return toStatus(err)
	}

	return forward(ctx, sub, stream.Send, toProductList)
}

// WatchOrders стримит живой список заказов продавца или покупателя.
func (s *MarketService) WatchOrders(req *WatchOrdersRequest, stream grpc.ServerStreamingServer[OrderList]) error {
	ctx := stream.Context()
	session, _ := SessionFromContext(ctx)

	role := req.Role
	if role == "" {
		role = OrderRoleBuyer
		if session.IsProducer() {
			role = OrderRoleSeller
		}
	}

	var (
		sub *domain.Subscription[[]domain.Order]
		err error
	)
	switch role {
	case OrderRoleSeller:
		sub, err = s.orders.WatchSellerOrders(ctx, session)
	case OrderRoleBuyer:
		sub, err = s.orders.WatchBuyerOrders(ctx, session)
	default:
		return status.Errorf(codes.InvalidArgument, "unknown role %q", req.Role)
	}
	if err != nil {
		return toStatus(err)
	}

	return forward(ctx, sub, stream.Send, func(orders []domain.Order) *OrderList {
		return toOrderList(orders, session)
	})
}

// WatchPendingCount стримит счётчик ожидающих заказов продавца.
func (s *MarketService) WatchPendingCount(_ *Empty, stream grpc.ServerStreamingServer[PendingCount]) error {
	ctx := stream.Context()
	session, _ := SessionFromContext(ctx)

	sub, err := s.orders.WatchPendingCount(ctx, session)
	if err != nil {
		return toStatus(err)
	}
	return forward(ctx, sub, stream.Send, func(n int) *PendingCount {
		return &PendingCount{Count: n}
	})
}

// forward пересылает снимки подписки в стрим до отмены вызова клиентом.
func forward[S, M any](ctx context.Context, sub *domain.Subscription[S], send func(*M) error, convert func(S) *M) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-sub.Updates():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return status.Error(codes.Unavailable, "subscription closed")
			}
			if err := send(convert(snapshot)); err != nil {
				return err
			}
		}
	}
}
