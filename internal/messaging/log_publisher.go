package messaging

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// LogPublisher пишет события в лог. Используется, когда брокер не настроен,
// чтобы outbox не копился.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher, логирующий события.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish логирует событие и всегда завершается успешно.
func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":      event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
	}).Info("market event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
