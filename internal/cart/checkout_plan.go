package cart

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// SellerGroup — позиции одного продавца.
type SellerGroup struct {
	SellerID string
	Items    []LineItem
}

// TotalMinor — сумма подытогов группы; domain.ErrAmountOverflow при переполнении.
func (g SellerGroup) TotalMinor() (int64, error) {
	var total int64
	for _, item := range g.Items {
		subtotal, err := item.SubtotalMinor()
		if err != nil {
			return 0, err
		}
		if total, err = domain.AddMinor(total, subtotal); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Partition группирует позиции по продавцу в порядке первого появления.
// Позиции без продавца попадают в группу FallbackSellerID.
func Partition(items []LineItem) []SellerGroup {
	index := make(map[string]int)
	var groups []SellerGroup

	for _, item := range items {
		sellerID := item.SellerID
		if sellerID == "" {
			sellerID = FallbackSellerID
		}
		i, ok := index[sellerID]
		if !ok {
			i = len(groups)
			index[sellerID] = i
			groups = append(groups, SellerGroup{SellerID: sellerID})
		}
		groups[i].Items = append(groups[i].Items, item)
	}

	return groups
}

// BuildOrder строит черновик заказа для группы. ID и CheckoutID
// проставляет вызывающий код.
func BuildOrder(group SellerGroup, buyer *domain.Session, now time.Time) (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(group.Items))
	for _, li := range group.Items {
		subtotal, err := li.SubtotalMinor()
		if err != nil {
			return domain.Order{}, fmt.Errorf("product %s: %w", li.ProductID, err)
		}
		items = append(items, domain.OrderItem{
			ProductID:     li.ProductID,
			Name:          li.Name,
			Qty:           li.Qty,
			PriceMinor:    li.UnitPriceMinor,
			SubtotalMinor: subtotal,
			ImageRef:      li.ImageRef,
		})
	}
	total, err := group.TotalMinor()
	if err != nil {
		return domain.Order{}, fmt.Errorf("seller %s: %w", group.SellerID, err)
	}

	order := domain.Order{
		SellerID:   group.SellerID,
		BuyerName:  buyer.DisplayName(),
		Items:      items,
		TotalMinor: total,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if buyer != nil {
		order.BuyerID = buyer.UserID
	}
	return order, nil
}

// BuildOrders строит по одному заказу на продавца.
func BuildOrders(items []LineItem, buyer *domain.Session, now time.Time) ([]domain.Order, error) {
	groups := Partition(items)
	orders := make([]domain.Order, 0, len(groups))
	for _, g := range groups {
		order, err := BuildOrder(g, buyer, now)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
