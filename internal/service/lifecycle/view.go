package lifecycle

import "github.com/vladislavdragonenkov/agromarket/internal/domain"

// StatusView — как статус заказа показывается пользователю.
type StatusView struct {
	Status domain.OrderStatus
	Label  string
	Color  string
}

// Action — действие, которое продавец может выполнить над заказом.
type Action struct {
	Label  string
	Target domain.OrderStatus
}

const unknownStatusColor = "#999999"

var statusColors = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "#ff8800",
	domain.OrderStatusInProgress: "#3399ff",
	domain.OrderStatusDelivered:  "#28a745",
	domain.OrderStatusCancelled:  "#ff4444",
}

var sellerLabels = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "PENDIENTE",
	domain.OrderStatusInProgress: "PREPARANDO",
	domain.OrderStatusDelivered:  "ENTREGADO",
	domain.OrderStatusCancelled:  "CANCELADO",
}

var buyerLabels = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "Pendiente",
	domain.OrderStatusInProgress: "En Preparación",
	domain.OrderStatusDelivered:  "Entregado",
	domain.OrderStatusCancelled:  "Cancelado",
}

var sellerActions = map[domain.OrderStatus]Action{
	domain.OrderStatusPending:    {Label: "Aceptar y preparar", Target: domain.OrderStatusInProgress},
	domain.OrderStatusInProgress: {Label: "Marcar como entregado", Target: domain.OrderStatusDelivered},
}

// ViewFor возвращает представление статуса для роли пользователя.
// Неизвестный статус показывается как есть серым цветом.
func ViewFor(role domain.Role, status domain.OrderStatus) StatusView {
	labels := buyerLabels
	if role == domain.RoleProducer {
		labels = sellerLabels
	}

	view := StatusView{Status: status, Label: string(status), Color: unknownStatusColor}
	if label, ok := labels[status]; ok {
		view.Label = label
	}
	if color, ok := statusColors[status]; ok {
		view.Color = color
	}
	return view
}

// SellerAction возвращает единственное действие продавца для статуса.
// Для финальных статусов действий нет.
func SellerAction(status domain.OrderStatus) (Action, bool) {
	action, ok := sellerActions[status]
	return action, ok
}
