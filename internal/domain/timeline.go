package domain

import "time"

// Типы событий заказа; используются и в timeline, и в outbox.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventCheckoutCompleted  = "checkout.completed"
)

// Типы агрегатов для outbox.
const (
	AggregateOrder    = "order"
	AggregateCheckout = "checkout"
)

// TimelineEvent запись аудита заказа. Для order.placed From пуст.
type TimelineEvent struct {
	OrderID  string
	Type     string
	From     OrderStatus
	To       OrderStatus
	ActorID  string
	Occurred time.Time
}

// PlacedEvent фиксирует создание заказа покупателем.
func PlacedEvent(order Order) TimelineEvent {
	return TimelineEvent{
		OrderID:  order.ID,
		Type:     EventOrderPlaced,
		To:       order.Status,
		ActorID:  order.BuyerID,
		Occurred: order.CreatedAt,
	}
}

// TransitionEvent фиксирует смену статуса; order уже в новом статусе.
func TransitionEvent(order Order, from OrderStatus, actorID string) TimelineEvent {
	return TimelineEvent{
		OrderID:  order.ID,
		Type:     EventOrderStatusChanged,
		From:     from,
		To:       order.Status,
		ActorID:  actorID,
		Occurred: order.UpdatedAt,
	}
}

// Validate проверяет событие перед записью.
func (e TimelineEvent) Validate() error {
	switch {
	case e.OrderID == "":
		return NewValidationError("order_id", "is required")
	case e.Type == "":
		return NewValidationError("type", "is required")
	case !e.To.Valid():
		return NewValidationError("to", "unknown order status")
	case e.From != "" && !e.From.Valid():
		return NewValidationError("from", "unknown order status")
	}
	return nil
}
