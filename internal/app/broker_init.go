package app

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/agromarket/internal/health"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/agromarket/internal/messaging/rabbitmq"
)

const dlqExchangeSuffix = ".dlq"

// brokerPublishers — публикаторы outbox и DLQ выбранного брокера.
type brokerPublishers struct {
	name      string
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	// checker nil для логирующего режима.
	checker healthcheck.Checker
	closeFn func() error
}

// initBroker создаёт публикаторы по cfg.Broker. Пустое значение означает логирование.
func initBroker(cfg Config, logger *log.Entry) (*brokerPublishers, error) {
	broker := strings.ToLower(strings.TrimSpace(cfg.Broker))
	switch broker {
	case "", BrokerLog:
		return &brokerPublishers{
			name:      BrokerLog,
			publisher: messaging.NewLogPublisher(logger.WithField("component", "market-events")),
			dlq:       messaging.NewLogPublisher(logger.WithField("component", "market-dlq")),
		}, nil
	case BrokerKafka:
		return initKafkaBroker(cfg, logger)
	case BrokerRabbitMQ:
		return initRabbitMQBroker(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported broker: %s", cfg.Broker)
	}
}

func initKafkaBroker(cfg Config, logger *log.Entry) (*brokerPublishers, error) {
	brokerList := splitBrokers(cfg.KafkaBrokers)
	if len(brokerList) == 0 {
		return nil, errors.New("kafka broker requires KAFKA_BROKERS")
	}

	producer, err := kafka.NewProducer(brokerList, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return &brokerPublishers{
		name:      BrokerKafka,
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetter),
		checker:   healthcheck.NewOptionalChecker("broker", producer.Ping),
		closeFn:   producer.Close,
	}, nil
}

func initRabbitMQBroker(cfg Config, logger *log.Entry) (*brokerPublishers, error) {
	url := strings.TrimSpace(cfg.RabbitMQURL)
	if url == "" {
		return nil, errors.New("rabbitmq broker requires RABBITMQ_URL")
	}

	exchange := strings.TrimSpace(cfg.RabbitMQExchange)
	if exchange == "" {
		exchange = rabbitmq.DefaultExchange
	}
	publisherLogger := logger.WithField("component", "rabbitmq-publisher")

	publisher, err := rabbitmq.Dial(url, exchange, publisherLogger)
	if err != nil {
		return nil, err
	}
	// DLQ — отдельный exchange: routing key у мёртвого сообщения тот же,
	// что у исходного, и обычные потребители не должны его получить.
	dlq, err := rabbitmq.Dial(url, exchange+dlqExchangeSuffix, publisherLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	logger.WithField("exchange", exchange).Info("rabbitmq publisher initialized")
	return &brokerPublishers{
		name:      BrokerRabbitMQ,
		publisher: publisher,
		dlq:       dlq,
		checker:   healthcheck.NewOptionalChecker("broker", publisher.Ping),
		closeFn: func() error {
			return errors.Join(publisher.Close(), dlq.Close())
		},
	}, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// close закрывает соединение с брокером, если оно есть.
func (b *brokerPublishers) close(logger *log.Entry) {
	if b == nil || b.closeFn == nil {
		return
	}
	if err := b.closeFn(); err != nil {
		logger.WithError(err).WithField("broker", b.name).Warn("failed to close broker")
	} else {
		logger.WithField("broker", b.name).Info("broker connection closed")
	}
}
