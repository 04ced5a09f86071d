package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
)

func TestOutboxPublisher_PublishKeysByAggregate(t *testing.T) {
	t.Parallel()

	enqueuedAt := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.True(t, enqueuedAt.Equal(msg.Timestamp), "record time is the outbox enqueue time")
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "order-123", string(key))

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var envelope messaging.Envelope
		require.NoError(t, json.Unmarshal(raw, &envelope))
		require.Equal(t, "outbox-1", envelope.ID)
		require.Equal(t, domain.EventOrderStatusChanged, envelope.EventType)
		require.JSONEq(t, `{"to":"in_progress"}`, string(envelope.Payload))

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		require.Equal(t, domain.EventOrderStatusChanged, headers[HeaderEventType])
		require.Equal(t, "outbox-1", headers[HeaderOutboxID])
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"to":"in_progress"}`),
		CreatedAt:     enqueuedAt,
	})
	require.NoError(t, err)
	require.NoError(t, publisher.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicMarketEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   domain.EventOrderPlaced,
		Payload:     []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, publisher.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicMarketEvents)
	require.ErrorIs(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}), errPublisherNotInitialized)
	require.NoError(t, publisher.Close())
}
