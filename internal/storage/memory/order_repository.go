package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	hub    *changefeed.Hub
}

// NewOrderRepository возвращает in-memory репозиторий заказов. Каждая запись
// сигналится в hub под TopicOrders; nil создаёт собственный хаб.
func NewOrderRepository(hub *changefeed.Hub) domain.OrderRepository {
	if hub == nil {
		hub = changefeed.NewHub()
	}
	return &orderRepositoryInMemory{
		orders: make(map[string]domain.Order),
		hub:    hub,
	}
}

// write выполняет fn под блокировкой и после успешной записи будит подписчиков.
func (r *orderRepositoryInMemory) write(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	err := fn()
	r.mu.Unlock()

	if err == nil {
		r.hub.Notify(changefeed.TopicOrders)
	}
	return err
}

// Create отклоняет повторный ID как конфликт версий.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	return r.write(ctx, func() error {
		if _, taken := r.orders[order.ID]; taken {
			return domain.ErrOrderVersionConflict
		}
		r.orders[order.ID] = domain.CloneOrder(order)
		return nil
	})
}

func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return domain.CloneOrder(order), nil
}

func (r *orderRepositoryInMemory) List(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if q.Match(order) {
			matched = append(matched, domain.CloneOrder(order))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, domain.NewestOrderFirst)
	if q.Limit > 0 {
		matched = matched[:min(q.Limit, len(matched))]
	}
	return matched, nil
}

// Save принимает заказ только с текущей версией и увеличивает её на единицу.
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	return r.write(ctx, func() error {
		current, ok := r.orders[order.ID]
		switch {
		case !ok:
			return domain.ErrOrderNotFound
		case current.Version != order.Version:
			return domain.ErrOrderVersionConflict
		}
		order.Version++
		r.orders[order.ID] = domain.CloneOrder(order)
		return nil
	})
}

func (r *orderRepositoryInMemory) Watch(ctx context.Context, q domain.OrderQuery) (*domain.Subscription[[]domain.Order], error) {
	return changefeed.Watch(ctx, r.hub, changefeed.TopicOrders, func(ctx context.Context) ([]domain.Order, error) {
		return r.List(ctx, q)
	}, nil)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
