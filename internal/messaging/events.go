// Package messaging описывает события площадки, которые уходят наружу через outbox.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// OrderLine — строка заказа в событии.
type OrderLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	SubtotalMinor  int64  `json:"subtotal_minor"`
}

// OrderPlaced публикуется при создании заказа продавца.
type OrderPlaced struct {
	OrderID    string      `json:"order_id"`
	CheckoutID string      `json:"checkout_id,omitempty"`
	SellerID   string      `json:"seller_id"`
	BuyerID    string      `json:"buyer_id"`
	BuyerName  string      `json:"buyer_name"`
	TotalMinor int64       `json:"total_minor"`
	Items      []OrderLine `json:"items"`
	PlacedAt   time.Time   `json:"placed_at"`
}

// OrderStatusChanged публикуется при каждом переходе статуса.
type OrderStatusChanged struct {
	OrderID   string    `json:"order_id"`
	SellerID  string    `json:"seller_id"`
	BuyerID   string    `json:"buyer_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// CheckoutCompleted публикуется один раз на успешное оформление корзины.
type CheckoutCompleted struct {
	CheckoutID  string    `json:"checkout_id"`
	BuyerID     string    `json:"buyer_id"`
	OrderIDs    []string  `json:"order_ids"`
	TotalMinor  int64     `json:"total_minor"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewOrderPlaced строит событие по заказу.
func NewOrderPlaced(order domain.Order) OrderPlaced {
	lines := make([]OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, OrderLine{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceMinor: item.PriceMinor,
			SubtotalMinor:  item.SubtotalMinor,
		})
	}
	return OrderPlaced{
		OrderID:    order.ID,
		CheckoutID: order.CheckoutID,
		SellerID:   order.SellerID,
		BuyerID:    order.BuyerID,
		BuyerName:  order.BuyerName,
		TotalMinor: order.TotalMinor,
		Items:      lines,
		PlacedAt:   order.CreatedAt,
	}
}

// Envelope — формат сообщения в брокере, общий для Kafka и RabbitMQ.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at,omitzero"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение для публикации.
func NewEnvelope(msg domain.OutboxMessage) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		EnqueuedAt:    msg.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}
}

// PartitionKey возвращает ключ упорядочивания сообщения в брокере.
func PartitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

// NewOutboxMessage сериализует событие в outbox-сообщение.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (domain.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
