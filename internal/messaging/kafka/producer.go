// Package kafka публикует события площадки в Kafka через IBM/sarama.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "agromarket"

var errNoClient = errors.New("kafka client is not available")

// newSaramaConfig настраивает идемпотентную синхронную доставку. Ключ
// хешируется, так что события одного заказа попадают в одну партицию.
func newSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Producer синхронный producer поверх общего sarama.Client.
type Producer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *log.Entry
}

func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	client, err := sarama.NewClient(brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := NewProducerFromSync(producer, logger)
	p.client = client
	return p, nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer.
// Ping у такого producer недоступен.
func NewProducerFromSync(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Message уже закодированное сообщение.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

func (m Message) toSarama() *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     m.Topic,
		Key:       sarama.StringEncoder(m.Key),
		Value:     sarama.ByteEncoder(m.Value),
		Timestamp: m.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	for k, v := range m.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}

// Send синхронно отправляет сообщение и ждёт подтверждения всех реплик.
func (p *Producer) Send(m Message) error {
	entry := p.logger.WithFields(log.Fields{"topic": m.Topic, "key": m.Key})

	partition, offset, err := p.producer.SendMessage(m.toSarama())
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", m.Topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

// Ping проверяет, что до контроллера кластера можно достучаться.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errNoClient
	}
	if p.client.Closed() {
		return sarama.ErrClosedClient
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.client.Controller()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close закрывает producer и, если он создан через NewProducer, клиента.
func (p *Producer) Close() error {
	err := p.producer.Close()
	if p.client != nil && !p.client.Closed() {
		err = errors.Join(err, p.client.Close())
	}
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
