package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimelineEventConstructors(t *testing.T) {
	created := time.Date(2026, 2, 1, 7, 30, 0, 0, time.UTC)
	order := Order{ID: "o1", BuyerID: "b1", SellerID: "s1", Status: OrderStatusPending, CreatedAt: created, UpdatedAt: created}

	placed := PlacedEvent(order)
	require.Equal(t, EventOrderPlaced, placed.Type)
	require.Equal(t, "b1", placed.ActorID)
	require.Empty(t, placed.From)
	require.Equal(t, OrderStatusPending, placed.To)
	require.Equal(t, created, placed.Occurred)
	require.NoError(t, placed.Validate())

	order.Status = OrderStatusInProgress
	order.UpdatedAt = created.Add(time.Hour)
	moved := TransitionEvent(order, OrderStatusPending, "s1")
	require.Equal(t, EventOrderStatusChanged, moved.Type)
	require.Equal(t, OrderStatusPending, moved.From)
	require.Equal(t, OrderStatusInProgress, moved.To)
	require.Equal(t, order.UpdatedAt, moved.Occurred)
	require.NoError(t, moved.Validate())
}

func TestTimelineEventValidate(t *testing.T) {
	base := TimelineEvent{OrderID: "o1", Type: EventOrderStatusChanged, From: OrderStatusPending, To: OrderStatusInProgress}

	cases := map[string]func(*TimelineEvent){
		"order": func(e *TimelineEvent) { e.OrderID = "" },
		"type":  func(e *TimelineEvent) { e.Type = "" },
		"to":    func(e *TimelineEvent) { e.To = "shipped" },
		"from":  func(e *TimelineEvent) { e.From = "lost" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := base
			mutate(&event)
			require.ErrorIs(t, event.Validate(), ErrValidation)
		})
	}
}
