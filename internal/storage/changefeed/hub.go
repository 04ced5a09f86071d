// Package changefeed раздаёт сигналы об изменении коллекций и строит на них
// живые подписки: при каждом сигнале запрос перечитывается целиком.
package changefeed

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// Коллекции, об изменениях которых сигналит хаб.
const (
	TopicOrders   = "orders"
	TopicProducts = "products"
	TopicUsers    = "users"
	TopicOutbox   = "outbox"
)

// Hub рассылает сигналы «коллекция изменилась» всем подписчикам топика.
// Сигналы не несут данных и склеиваются: подписчику важно только то, что
// после последнего чтения что-то поменялось.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan struct{}
}

// NewHub создаёт пустой хаб.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]chan struct{})}
}

// Notify сигналит всем подписчикам топика. Никогда не блокируется.
func (h *Hub) Notify(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe возвращает канал сигналов топика и функцию отписки.
func (h *Hub) Subscribe(topic string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan struct{}, 1)
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]chan struct{})
	}
	h.subs[topic][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[topic], id)
		})
	}
}

// Subscribers возвращает число активных подписчиков топика.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

// Loader читает актуальный снимок запроса.
type Loader[S any] func(ctx context.Context) (S, error)

// Watch строит подписку: начальный снимок читается синхронно (его ошибка
// возвращается вызывающему), дальше снимок перечитывается на каждый сигнал
// топика. Непрочитанный снимок заменяется более свежим.
func Watch[S any](ctx context.Context, hub *Hub, topic string, load Loader[S], logger *log.Entry) (*domain.Subscription[S], error) {
	if logger == nil {
		logger = log.WithField("component", "changefeed")
	}

	// Подписываемся до первого чтения, чтобы не потерять изменение между ними.
	signals, unsubscribe := hub.Subscribe(topic)

	initial, err := load(ctx)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan S, 1)
	out <- initial

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
			}

			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).WithField("topic", topic).Warn("failed to reload snapshot, waiting for next change")
				continue
			}

			select {
			case <-out:
			default:
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()

	return domain.NewSubscription(out, cancel), nil
}
