// Package lifecycle ведёт заказы продавцов: создание при оформлении корзины,
// продвижение статуса продавцом и живые списки для продавца и покупателя.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
	"github.com/vladislavdragonenkov/agromarket/internal/metrics"
)

const (
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// Виды подписок для метрик.
const (
	subscriptionSellerOrders = "seller_orders"
	subscriptionBuyerOrders  = "buyer_orders"
	subscriptionPendingCount = "pending_count"
)

// Tracker — чтение и запись заказов поверх хранилища. Мутирует статус
// только продавец-владелец; покупатель видит заказы только на чтение.
type Tracker struct {
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.MarketMetrics
	now      func() time.Time
}

// NewTracker создаёт трекер. outbox, timeline и metrics опциональны.
func NewTracker(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	marketMetrics *metrics.MarketMetrics,
	logger *log.Entry,
) *Tracker {
	if logger == nil {
		logger = log.WithField("component", "lifecycle")
	}
	return &Tracker{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  marketMetrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Place сохраняет новый заказ в статусе pending и публикует order.placed.
func (t *Tracker) Place(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := t.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	order.Status = domain.OrderStatusPending
	order.Version = 0

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.ID, errs[0])
	}

	if err := t.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	t.metrics.RecordOrderCreated()
	t.emitEvent(ctx, domain.PlacedEvent(order), messaging.NewOrderPlaced(order))
	return order, nil
}

// Accept переводит заказ pending → in_progress.
func (t *Tracker) Accept(ctx context.Context, session *domain.Session, orderID string) (domain.Order, error) {
	return t.Advance(ctx, session, orderID, domain.OrderStatusInProgress)
}

// MarkDelivered переводит заказ in_progress → delivered.
func (t *Tracker) MarkDelivered(ctx context.Context, session *domain.Session, orderID string) (domain.Order, error) {
	return t.Advance(ctx, session, orderID, domain.OrderStatusDelivered)
}

// Advance применяет переход статуса от имени продавца. При конфликте версий
// заказ перечитывается и переход проверяется заново.
func (t *Tracker) Advance(ctx context.Context, session *domain.Session, orderID string, target domain.OrderStatus) (domain.Order, error) {
	if !session.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}

	order, err := t.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		if order.SellerID != session.UserID {
			return domain.Order{}, domain.ErrPermissionDenied
		}
		previous := order.Status
		if !domain.CanTransition(previous, target) {
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, previous, target)
		}

		updated := domain.CloneOrder(order)
		updated.Status = target
		updated.UpdatedAt = t.now()

		err := t.orders.Save(ctx, updated)
		if err == nil {
			updated.Version++
			t.metrics.RecordStatusTransition(string(previous), string(target))
			t.emitEvent(ctx, domain.TransitionEvent(updated, previous, session.UserID), messaging.OrderStatusChanged{
				OrderID:   updated.ID,
				SellerID:  updated.SellerID,
				BuyerID:   updated.BuyerID,
				From:      string(previous),
				To:        string(target),
				ChangedBy: session.UserID,
				ChangedAt: updated.UpdatedAt,
			})
			return updated, nil
		}

		if !domain.IsVersionConflict(err) || attempt == maxSaveRetries-1 {
			t.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return domain.Order{}, err
		}

		t.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(baseRetryDelay * time.Duration(1<<uint(attempt))):
		}

		if order, err = t.orders.Get(ctx, orderID); err != nil {
			return domain.Order{}, err
		}
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// Get возвращает заказ продавцу или покупателю этого заказа.
func (t *Tracker) Get(ctx context.Context, session *domain.Session, orderID string) (domain.Order, error) {
	if !session.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	order, err := t.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.SellerID != session.UserID && order.BuyerID != session.UserID {
		return domain.Order{}, domain.ErrPermissionDenied
	}
	return order, nil
}

// Timeline возвращает аудит заказа участнику заказа.
func (t *Tracker) Timeline(ctx context.Context, session *domain.Session, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := t.Get(ctx, session, orderID); err != nil {
		return nil, err
	}
	if t.timeline == nil {
		return nil, nil
	}
	return t.timeline.List(ctx, orderID)
}

// WatchSellerOrders — живой список заказов продавца, новые первыми.
func (t *Tracker) WatchSellerOrders(ctx context.Context, session *domain.Session) (*domain.Subscription[[]domain.Order], error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	return t.watch(ctx, domain.OrderQuery{SellerID: session.UserID}, subscriptionSellerOrders)
}

// WatchBuyerOrders — живой список заказов покупателя, новые первыми.
func (t *Tracker) WatchBuyerOrders(ctx context.Context, session *domain.Session) (*domain.Subscription[[]domain.Order], error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	return t.watch(ctx, domain.OrderQuery{BuyerID: session.UserID}, subscriptionBuyerOrders)
}

// WatchPendingCount — живой счётчик заказов продавца в статусе pending.
func (t *Tracker) WatchPendingCount(ctx context.Context, session *domain.Session) (*domain.Subscription[int], error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	sub, err := t.watch(ctx, domain.OrderQuery{SellerID: session.UserID, Status: domain.OrderStatusPending}, subscriptionPendingCount)
	if err != nil {
		return nil, err
	}
	return domain.MapSubscription(sub, func(orders []domain.Order) int { return len(orders) }), nil
}

func (t *Tracker) watch(ctx context.Context, q domain.OrderQuery, kind string) (*domain.Subscription[[]domain.Order], error) {
	sub, err := t.orders.Watch(ctx, q)
	if err != nil {
		return nil, err
	}
	t.metrics.SubscriptionOpened(kind)
	return domain.NewSubscription(sub.Updates(), func() {
		sub.Close()
		t.metrics.SubscriptionClosed(kind)
	}), nil
}

// emitEvent пишет событие в outbox и timeline. Ошибки логируются: сам
// заказ уже сохранён и остаётся источником истины, поэтому отмена ctx
// вызывающего запись не прерывает.
func (t *Tracker) emitEvent(ctx context.Context, event domain.TimelineEvent, payload any) {
	ctx = context.WithoutCancel(ctx)
	entry := t.logger.WithFields(log.Fields{
		"order_id": event.OrderID,
		"event":    event.Type,
	})

	if t.outbox != nil {
		msg, err := messaging.NewOutboxMessage(domain.AggregateOrder, event.OrderID, event.Type, payload)
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else if _, err := t.outbox.Enqueue(msg); err != nil {
			entry.WithError(err).Error("enqueue event failed")
		} else {
			t.metrics.RecordOutboxEvent()
		}
	}

	if t.timeline != nil {
		if err := t.timeline.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else {
			t.metrics.RecordTimelineEvent()
		}
	}
}
