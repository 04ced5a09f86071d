// Package rabbitmq публикует события площадки в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
)

// DefaultExchange — exchange по умолчанию.
const DefaultExchange = "agromarket.events"

const (
	dialAttempts   = 5
	publishTimeout = 5 * time.Second
)

// Channel — часть *amqp.Channel, нужная publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher отправляет outbox-сообщения в exchange; routing key равен типу события,
// так что потребители подписываются шаблонами вида «order.*».
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   *log.Entry
}

// Dial подключается к RabbitMQ с повторами и объявляет exchange.
func Dial(url, exchange string, logger *log.Entry) (*Publisher, error) {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 0; attempt < dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		wait := time.Duration(attempt*attempt)*time.Second + time.Second
		logger.WithError(err).WithField("retry_in", wait.String()).Warn("failed to connect to rabbitmq, retrying")
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", dialAttempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	p, err := NewPublisher(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher объявляет durable topic exchange на готовом канале.
func NewPublisher(ch Channel, exchange string, logger *log.Entry) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq channel is required")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish отправляет persistent-сообщение с конвертом messaging.Envelope.
func (p *Publisher) Publish(event domain.OutboxMessage) error {
	body, err := json.Marshal(messaging.NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.EventType,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to exchange %s: %w", event.EventType, p.exchange, err)
	}

	p.logger.WithFields(log.Fields{
		"exchange":    p.exchange,
		"routing_key": event.EventType,
		"outbox_id":   event.ID,
	}).Debug("message published to rabbitmq")
	return nil
}

// Ping возвращает ошибку, если соединение с брокером закрыто.
func (p *Publisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
