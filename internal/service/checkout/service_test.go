package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agromarket/internal/cart"
	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/memory"
)

var buyer = &domain.Session{UserID: "b1", Name: "Lucía", Role: domain.RoleBuyer}

func scenarioCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New()
	require.NoError(t, c.Add(cart.LineItem{ProductID: "p1", Name: "Papa", UnitPriceMinor: 1000, SellerID: "s1"}, 2))
	require.NoError(t, c.Add(cart.LineItem{ProductID: "p2", Name: "Leche", UnitPriceMinor: 500, SellerID: "s2"}, 1))
	return c
}

func TestCheckoutFansOutPerSeller(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository(nil)
	outbox := memory.NewOutboxRepository(nil)
	tracker := lifecycle.NewTracker(orders, outbox, memory.NewTimelineRepository(), nil, nil)
	svc := NewService(tracker, WithOutbox(outbox))

	c := scenarioCart(t)
	cartTotal := c.Total()

	result, err := svc.Checkout(ctx, buyer, c)
	require.NoError(t, err)
	require.NotEmpty(t, result.CheckoutID)
	require.Len(t, result.Orders, 2)
	require.Equal(t, cartTotal, result.TotalMinor)

	totals := map[string]int64{}
	for _, o := range result.Orders {
		require.Equal(t, result.CheckoutID, o.CheckoutID)
		require.Equal(t, domain.OrderStatusPending, o.Status)
		for _, item := range o.Items {
			require.Equal(t, map[string]string{"p1": "s1", "p2": "s2"}[item.ProductID], o.SellerID)
		}
		totals[o.SellerID] = o.TotalMinor
	}
	require.Equal(t, map[string]int64{"s1": 2000, "s2": 500}, totals)

	stored, err := orders.List(ctx, domain.OrderQuery{BuyerID: "b1"})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	require.Zero(t, c.Count())
	require.Zero(t, c.Total())

	pending, err := outbox.PullPending(10)
	require.NoError(t, err)
	types := map[string]int{}
	for _, msg := range pending {
		types[msg.EventType]++
	}
	require.Equal(t, 2, types[domain.EventOrderPlaced])
	require.Equal(t, 1, types[domain.EventCheckoutCompleted])
}

func TestCheckoutRejectsUnauthenticated(t *testing.T) {
	placer := &stubPlacer{}
	svc := NewService(placer)
	c := scenarioCart(t)

	_, err := svc.Checkout(context.Background(), nil, c)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.Zero(t, placer.calls.Load())
	require.Equal(t, 3, c.Count())
}

func TestCheckoutEmptyCartIsGuarded(t *testing.T) {
	placer := &stubPlacer{}
	svc := NewService(placer)

	_, err := svc.Checkout(context.Background(), buyer, cart.New())
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	_, err = svc.Checkout(context.Background(), buyer, nil)
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	require.Zero(t, placer.calls.Load())
}

func TestCheckoutPartialFailureKeepsCreatedOrdersAndCart(t *testing.T) {
	placer := &stubPlacer{failSeller: "s2"}
	svc := NewService(placer)
	c := scenarioCart(t)

	_, err := svc.Checkout(context.Background(), buyer, c)
	require.ErrorIs(t, err, domain.ErrCheckoutFailed)
	require.Equal(t, "checkout failed", err.Error(), "no per-seller detail leaks to the caller")

	require.Equal(t, int32(2), placer.calls.Load(), "all sellers attempted")
	require.Equal(t, []string{"s1"}, placer.createdSellers())
	require.Equal(t, 3, c.Count(), "cart is kept for retry")
}

func TestCheckoutRequestsRunConcurrently(t *testing.T) {
	placer := &stubPlacer{delay: 100 * time.Millisecond}
	svc := NewService(placer, WithConcurrency(4))

	c := cart.New()
	for _, seller := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, c.Add(cart.LineItem{ProductID: "p-" + seller, UnitPriceMinor: 100, SellerID: seller}, 1))
	}

	start := time.Now()
	result, err := svc.Checkout(context.Background(), buyer, c)
	require.NoError(t, err)
	require.Len(t, result.Orders, 4)
	require.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestCheckoutKeepsItemsAddedDuringPlacement(t *testing.T) {
	c := scenarioCart(t)
	var once sync.Once
	placer := &stubPlacer{onPlace: func() {
		once.Do(func() {
			require.NoError(t, c.Add(cart.LineItem{ProductID: "p1", Name: "Papa", UnitPriceMinor: 1000, SellerID: "s1"}, 1))
			require.NoError(t, c.Add(cart.LineItem{ProductID: "p3", Name: "Queso", UnitPriceMinor: 750, SellerID: "s3"}, 1))
		})
	}}
	svc := NewService(placer)

	result, err := svc.Checkout(context.Background(), buyer, c)
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)
	require.Equal(t, int64(2500), result.TotalMinor)

	left := map[string]int32{}
	for _, li := range c.Items() {
		left[li.ProductID] = li.Qty
	}
	require.Equal(t, map[string]int32{"p1": 1, "p3": 1}, left)
	require.Equal(t, int64(1750), c.Total())
}

type stubPlacer struct {
	failSeller string
	delay      time.Duration
	onPlace    func()
	calls      atomic.Int32

	mu      sync.Mutex
	created []string
}

func (p *stubPlacer) Place(ctx context.Context, order domain.Order) (domain.Order, error) {
	p.calls.Add(1)
	if p.onPlace != nil {
		p.onPlace()
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if order.SellerID == p.failSeller {
		return domain.Order{}, errors.New("backend unavailable")
	}
	p.mu.Lock()
	p.created = append(p.created, order.SellerID)
	p.mu.Unlock()
	return order, nil
}

func (p *stubPlacer) createdSellers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...)
}
