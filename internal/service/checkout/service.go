// Package checkout оформляет корзину покупателя: по одному заказу на продавца.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/agromarket/internal/cart"
	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

const defaultConcurrency = 8

// OrderPlacer создаёт заказ продавца.
type OrderPlacer interface {
	Place(ctx context.Context, order domain.Order) (domain.Order, error)
}

// Result — итог успешного оформления.
type Result struct {
	CheckoutID string
	Orders     []domain.Order
	TotalMinor int64
}

// Option настраивает Service.
type Option func(*Service)

// WithConcurrency ограничивает число одновременных запросов на создание заказов.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithOutbox включает публикацию checkout.completed.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.MarketMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service выполняет оформление корзины.
type Service struct {
	placer      OrderPlacer
	outbox      domain.OutboxRepository
	metrics     *metrics.MarketMetrics
	logger      *log.Entry
	concurrency int
	now         func() time.Time
}

// NewService создаёт сервис оформления.
func NewService(placer OrderPlacer, opts ...Option) *Service {
	s := &Service{
		placer:      placer,
		logger:      log.WithField("component", "checkout"),
		concurrency: defaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout разбивает корзину по продавцам и создаёт заказы параллельно.
// Ждёт завершения всех запросов. Если хоть один не удался, возвращает
// ErrCheckoutFailed без деталей по продавцам; уже созданные заказы не
// откатываются, корзина не очищается. При полном успехе из корзины снимается
// оформленный снимок; позиции, добавленные во время оформления, остаются.
func (s *Service) Checkout(ctx context.Context, session *domain.Session, c *cart.Cart) (Result, error) {
	start := time.Now()

	if !session.Authenticated() {
		s.metrics.RecordCheckout(metrics.CheckoutResultRejected, time.Since(start), 0)
		return Result{}, domain.ErrUnauthenticated
	}
	if c == nil || c.Empty() {
		s.metrics.RecordCheckout(metrics.CheckoutResultRejected, time.Since(start), 0)
		return Result{}, domain.ErrEmptyCart
	}

	snapshot := c.Items()
	drafts, err := cart.BuildOrders(snapshot, session, s.now())
	if err != nil {
		s.metrics.RecordCheckout(metrics.CheckoutResultRejected, time.Since(start), 0)
		return Result{}, err
	}

	checkoutID := uuid.NewString()
	logger := s.logger.WithFields(log.Fields{
		"checkout_id": checkoutID,
		"buyer_id":    session.UserID,
		"sellers":     len(drafts),
	})

	created := make([]domain.Order, len(drafts))
	var (
		mu   sync.Mutex
		errs []error
	)

	// Без errgroup.WithContext: ошибка одного продавца не отменяет остальных.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range drafts {
		draft := drafts[i]
		draft.ID = uuid.NewString()
		draft.CheckoutID = checkoutID
		g.Go(func() error {
			order, err := s.placer.Place(ctx, draft)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("seller %s: %w", draft.SellerID, err))
				mu.Unlock()
				return err
			}
			created[i] = order
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		logger.WithError(errors.Join(errs...)).WithField("failed", len(errs)).Error("checkout failed")
		s.metrics.RecordCheckout(metrics.CheckoutResultFailed, time.Since(start), len(drafts)-len(errs))
		return Result{}, domain.ErrCheckoutFailed
	}

	result := Result{CheckoutID: checkoutID, Orders: created}
	orderIDs := make([]string, 0, len(created))
	for _, order := range created {
		result.TotalMinor += order.TotalMinor
		orderIDs = append(orderIDs, order.ID)
	}

	s.publishCompleted(logger, messaging.CheckoutCompleted{
		CheckoutID:  checkoutID,
		BuyerID:     session.UserID,
		OrderIDs:    orderIDs,
		TotalMinor:  result.TotalMinor,
		CompletedAt: s.now(),
	})

	c.Subtract(snapshot)
	s.metrics.RecordCheckout(metrics.CheckoutResultSuccess, time.Since(start), len(created))
	logger.WithField("total_minor", result.TotalMinor).Info("checkout completed")
	return result, nil
}

func (s *Service) publishCompleted(logger *log.Entry, event messaging.CheckoutCompleted) {
	if s.outbox == nil {
		return
	}
	msg, err := messaging.NewOutboxMessage(domain.AggregateCheckout, event.CheckoutID, domain.EventCheckoutCompleted, event)
	if err != nil {
		logger.WithError(err).Error("marshal checkout event failed")
		return
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		logger.WithError(err).Error("enqueue checkout event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}
