package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// timelineRepositoryInMemory держит журнал переходов по заказам в порядке записи.
type timelineRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{byOrder: make(map[string][]domain.TimelineEvent)}
}

func (r *timelineRepositoryInMemory) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	r.byOrder[event.OrderID] = append(r.byOrder[event.OrderID], event)
	r.mu.Unlock()
	return nil
}

// List сортирует по времени; при равном времени сохраняется порядок записи.
func (r *timelineRepositoryInMemory) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	events := slices.Clone(r.byOrder[orderID])
	r.mu.RUnlock()

	if events == nil {
		return []domain.TimelineEvent{}, nil
	}
	slices.SortStableFunc(events, func(a, b domain.TimelineEvent) int {
		return a.Occurred.Compare(b.Occurred)
	})
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
