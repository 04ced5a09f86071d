package kafka

// Topics площадки.
const (
	TopicMarketEvents = "agromarket.order.events"
	TopicDeadLetter   = "agromarket.dlq"
)

// Заголовки сообщений: позволяют фильтровать поток без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
)
