package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует outbox-сообщения в один topic. Ключ
// сообщения берётся из messaging.PartitionKey, поэтому события одного заказа
// сохраняют порядок.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicMarketEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish отправляет сообщение в конверте messaging.Envelope. Временная метка
// записи в Kafka совпадает с моментом постановки в outbox.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	envelope := messaging.NewEnvelope(event)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}

	return p.producer.Send(Message{
		Topic:     p.topic,
		Key:       messaging.PartitionKey(event),
		Value:     body,
		Timestamp: envelope.EnqueuedAt,
		Headers: map[string]string{
			HeaderEventType:     event.EventType,
			HeaderOutboxID:      event.ID,
			HeaderAggregateType: event.AggregateType,
		},
	})
}

// Close закрывает producer. Если producer общий с другим паблишером,
// закрывать его должен владелец.
func (p *OutboxTopicPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
