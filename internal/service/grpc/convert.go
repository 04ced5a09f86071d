package grpcsvc

import (
	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/service/catalog"
	"github.com/vladislavdragonenkov/agromarket/internal/service/lifecycle"
)

func toUser(session domain.Session) User {
	return User{
		ID:    session.UserID,
		Name:  session.Name,
		Email: session.Email,
		Role:  string(session.Role),
	}
}

func toProduct(p domain.Product) Product {
	return Product{
		ID:          p.ID,
		SellerID:    p.SellerID,
		Name:        p.Name,
		PriceMinor:  p.PriceMinor,
		Price:       catalog.FormatPrice(p.PriceMinor),
		Description: p.Description,
		ImageRef:    p.ImageRef,
		Stock:       p.Stock,
		Category:    string(p.Category),
		Unit:        string(p.Unit),
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
	}
}

func toProductList(products []domain.Product) *ProductList {
	list := &ProductList{Products: make([]Product, 0, len(products))}
	for _, p := range products {
		list.Products = append(list.Products, toProduct(p))
	}
	return list
}

// toOrder строит заказ с представлением статуса для вызывающего: продавец
// видит свои подписи и следующее действие, покупатель только подпись.
func toOrder(o domain.Order, viewer *domain.Session) Order {
	role := domain.RoleBuyer
	isSeller := viewer != nil && viewer.UserID == o.SellerID
	if isSeller {
		role = domain.RoleProducer
	}
	view := lifecycle.ViewFor(role, o.Status)

	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{
			ProductID:     item.ProductID,
			Name:          item.Name,
			Qty:           item.Qty,
			PriceMinor:    item.PriceMinor,
			SubtotalMinor: item.SubtotalMinor,
			ImageRef:      item.ImageRef,
		})
	}

	out := Order{
		ID:          o.ID,
		CheckoutID:  o.CheckoutID,
		SellerID:    o.SellerID,
		BuyerID:     o.BuyerID,
		BuyerName:   o.BuyerName,
		Items:       items,
		TotalMinor:  o.TotalMinor,
		Total:       catalog.FormatPrice(o.TotalMinor),
		Status:      string(o.Status),
		StatusLabel: view.Label,
		StatusColor: view.Color,
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if isSeller {
		if action, ok := lifecycle.SellerAction(o.Status); ok {
			out.NextAction = &OrderAction{Label: action.Label, Target: string(action.Target)}
		}
	}
	return out
}

func toOrderList(orders []domain.Order, viewer *domain.Session) *OrderList {
	list := &OrderList{Orders: make([]Order, 0, len(orders))}
	for _, o := range orders {
		list.Orders = append(list.Orders, toOrder(o, viewer))
	}
	return list
}

// timelineEventFromDomain подписывает целевой статус так же, как его видит роль в списке заказов.
func timelineEventFromDomain(event domain.TimelineEvent, role domain.Role) TimelineEvent {
	return TimelineEvent{
		Type:     event.Type,
		From:     string(event.From),
		To:       string(event.To),
		ToLabel:  lifecycle.ViewFor(role, event.To).Label,
		ActorID:  event.ActorID,
		Occurred: event.Occurred,
	}
}
