package domain

import (
	"context"
	"strings"
)

// OrderQuery — запрос к коллекции заказов: фильтры на равенство и сортировка
// по времени создания, новые первыми. Пустое поле фильтра не участвует.
type OrderQuery struct {
	SellerID string
	BuyerID  string
	Status   OrderStatus
	Limit    int
}

// Match проверяет заказ на соответствие фильтрам запроса.
func (q OrderQuery) Match(o Order) bool {
	if q.SellerID != "" && o.SellerID != q.SellerID {
		return false
	}
	if q.BuyerID != "" && o.BuyerID != q.BuyerID {
		return false
	}
	if q.Status != "" && o.Status != q.Status {
		return false
	}
	return true
}

// NewestOrderFirst сравнивает заказы в порядке выдачи OrderQuery: по убыванию
// CreatedAt, при равенстве по убыванию ID.
func NewestOrderFirst(a, b Order) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// ProductQuery — запрос к коллекции товаров, сортировка по времени создания, новые первыми.
type ProductQuery struct {
	SellerID string
	Category Category
	// InStockOnly оставляет только товары с остатком > 0.
	InStockOnly bool
	// SearchPrefix фильтрует по префиксу SearchKey.
	SearchPrefix string
	Limit        int
}

// Match проверяет товар на соответствие фильтрам запроса.
func (q ProductQuery) Match(p Product) bool {
	if q.SellerID != "" && p.SellerID != q.SellerID {
		return false
	}
	if q.Category != "" && p.Category != q.Category {
		return false
	}
	if q.InStockOnly && !p.Available() {
		return false
	}
	if q.SearchPrefix != "" && !strings.HasPrefix(p.SearchKey, q.SearchPrefix) {
		return false
	}
	return true
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List выполняет запрос и возвращает снимок.
	List(ctx context.Context, q OrderQuery) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// Watch подписывается на запрос: начальный снимок и далее снимок на каждое изменение.
	Watch(ctx context.Context, q OrderQuery) (*Subscription[[]Order], error)
}

// ProductRepository описывает хранилище товаров.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, q ProductQuery) ([]Product, error)
	// Save сохраняет изменения с проверкой версии (ErrProductVersionConflict).
	Save(ctx context.Context, product Product) error
	// Delete удаляет товар; ErrProductNotFound, если его уже нет.
	Delete(ctx context.Context, id string) error
	Watch(ctx context.Context, q ProductQuery) (*Subscription[[]Product], error)
}

// UserRepository хранит профили пользователей.
type UserRepository interface {
	// Create сохраняет профиль; ErrEmailAlreadyRegistered при совпадении email.
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}
