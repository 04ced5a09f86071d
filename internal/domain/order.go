package domain

import (
	"errors"
	"time"
)

// OrderStatus описывает жизненный цикл заказа продавца.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан при оформлении корзины и ждёт продавца.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusInProgress — продавец принял заказ и готовит его.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusDelivered — заказ доставлен, финальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — финальный статус отмены. Ни один переход его не порождает.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// DefaultBuyerName подставляется, если у покупателя нет отображаемого имени.
const DefaultBuyerName = "Usuario Anónimo"

// orderTransitions — единственные переходы, доступные продавцу.
var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusInProgress,
	OrderStatusInProgress: OrderStatusDelivered,
}

// Valid проверяет, что статус входит в перечисление.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что заказ в этом статусе больше не меняется.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Next возвращает следующий статус последовательности, если он есть.
func (s OrderStatus) Next() (OrderStatus, bool) {
	next, ok := orderTransitions[s]
	return next, ok
}

// CanTransition проверяет переход from → to.
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderTransitions[from]
	return ok && next == to
}

// OrderItem — строка заказа, снимок позиции корзины на момент оформления.
type OrderItem struct {
	ProductID string
	Name      string
	Qty       int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor    int64
	SubtotalMinor int64
	ImageRef      string
}

// Order — заказ одного продавца. Одно оформление корзины порождает N заказов.
type Order struct {
	ID         string
	CheckoutID string
	SellerID   string
	BuyerID    string
	BuyerName  string
	Items      []OrderItem
	TotalMinor int64
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var (
		calc     int64
		overflow bool
	)
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}

		// Отрицательные qty и цена уже отмечены выше.
		switch subtotal, err := MulMinor(item.PriceMinor, item.Qty); {
		case errors.Is(err, ErrAmountOverflow):
			overflow = true
		case err == nil && subtotal != item.SubtotalMinor:
			errs = append(errs, ErrTotalMismatch)
		}

		next, err := AddMinor(calc, item.SubtotalMinor)
		if err != nil {
			overflow = true
			continue
		}
		calc = next
	}

	switch {
	case overflow:
		errs = append(errs, ErrAmountOverflow)
	case calc != o.TotalMinor:
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// CloneOrder возвращает копию заказа, не разделяющую слайс позиций.
func CloneOrder(src Order) Order {
	dst := src
	if src.Items != nil {
		dst.Items = make([]OrderItem, len(src.Items))
		copy(dst.Items, src.Items)
	}
	return dst
}
