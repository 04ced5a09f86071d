package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
	hub   *changefeed.Hub
}

// NewProductRepository создаёт in-memory каталог товаров.
func NewProductRepository(hub *changefeed.Hub) domain.ProductRepository {
	if hub == nil {
		hub = changefeed.NewHub()
	}
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
		hub:   hub,
	}
}

func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.items[product.ID]; exists {
		r.mu.Unlock()
		return domain.ErrProductVersionConflict
	}
	r.items[product.ID] = product
	r.mu.Unlock()

	r.hub.Notify(changefeed.TopicProducts)
	return nil
}

func (r *productRepositoryInMemory) Get(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) List(ctx context.Context, q domain.ProductQuery) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0)
	for _, product := range r.items {
		if q.Match(product) {
			result = append(result, product)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (r *productRepositoryInMemory) Save(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	current, ok := r.items[product.ID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		r.mu.Unlock()
		return domain.ErrProductVersionConflict
	}
	product.Version++
	r.items[product.ID] = product
	r.mu.Unlock()

	r.hub.Notify(changefeed.TopicProducts)
	return nil
}

func (r *productRepositoryInMemory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.items[id]; !ok {
		r.mu.Unlock()
		return domain.ErrProductNotFound
	}
	delete(r.items, id)
	r.mu.Unlock()

	r.hub.Notify(changefeed.TopicProducts)
	return nil
}

func (r *productRepositoryInMemory) Watch(ctx context.Context, q domain.ProductQuery) (*domain.Subscription[[]domain.Product], error) {
	return changefeed.Watch(ctx, r.hub, changefeed.TopicProducts, func(ctx context.Context) ([]domain.Product, error) {
		return r.List(ctx, q)
	}, nil)
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
