package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/memory"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"validation", domain.NewValidationError("price", "must be positive"), codes.InvalidArgument},
		{"wrapped validation", fmt.Errorf("publish: %w", domain.NewValidationError("name", "is required")), codes.InvalidArgument},
		{"empty cart", domain.ErrEmptyCart, codes.InvalidArgument},
		{"amount overflow", fmt.Errorf("items[0]: %w", domain.ErrAmountOverflow), codes.InvalidArgument},
		{"weak password", domain.ErrWeakPassword, codes.InvalidArgument},
		{"image not uploaded", domain.ErrImageNotUploaded, codes.InvalidArgument},
		{"unauthenticated", domain.ErrUnauthenticated, codes.Unauthenticated},
		{"bad credentials", domain.ErrInvalidCredentials, codes.Unauthenticated},
		{"permission", domain.ErrPermissionDenied, codes.PermissionDenied},
		{"order not found", domain.ErrOrderNotFound, codes.NotFound},
		{"product not found", fmt.Errorf("get: %w", domain.ErrProductNotFound), codes.NotFound},
		{"transition", fmt.Errorf("%w: delivered -> pending", domain.ErrInvalidTransition), codes.FailedPrecondition},
		{"version conflict", domain.ErrOrderVersionConflict, codes.Aborted},
		{"email exists", domain.ErrEmailAlreadyRegistered, codes.AlreadyExists},
		{"checkout failed", domain.ErrCheckoutFailed, codes.Unavailable},
		{"canceled", context.Canceled, codes.Canceled},
		{"unknown", errors.New("disk on fire"), codes.Internal},
		{"already status", status.Error(codes.ResourceExhausted, "slow down"), codes.ResourceExhausted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.code, status.Code(toStatus(tc.err)))
		})
	}

	require.NoError(t, toStatus(nil))
	require.Equal(t, "internal error", status.Convert(toStatus(errors.New("secret detail"))).Message())
}

func TestRateLimiter_StrictTierForSignIn(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(100, 100)
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}})

	allowed := 0
	for i := 0; i < burstStrict+3; i++ {
		if limiter.allow(ctx, MethodSignIn) {
			allowed++
		}
	}
	require.Equal(t, burstStrict, allowed)
	require.True(t, limiter.allow(ctx, MethodGetProduct), "general tier has its own bucket")
}

func TestRateLimiter_PerSession(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, 2)
	alice := ContextWithSession(context.Background(), domain.Session{UserID: "alice", Role: domain.RoleBuyer})
	bob := ContextWithSession(context.Background(), domain.Session{UserID: "bob", Role: domain.RoleBuyer})

	require.True(t, limiter.allow(alice, MethodCheckout))
	require.True(t, limiter.allow(alice, MethodCheckout))
	require.False(t, limiter.allow(alice, MethodCheckout))
	require.True(t, limiter.allow(bob, MethodCheckout))
}

func TestRateLimiter_DisabledAndIdleVisitorsPruned(t *testing.T) {
	t.Parallel()

	disabled := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, disabled.allow(context.Background(), MethodCheckout))
	}

	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(10, 10)
	limiter.now = func() time.Time { return now }

	limiter.allow(ContextWithSession(context.Background(), domain.Session{UserID: "u1"}), MethodGetOrder)
	require.Len(t, limiter.visitors, 1)

	now = now.Add(2 * visitorIdleTTL)
	limiter.allow(ContextWithSession(context.Background(), domain.Session{UserID: "u2"}), MethodGetOrder)
	require.Len(t, limiter.visitors, 1)
	require.Contains(t, limiter.visitors, "user:u2:"+tierGeneral)
}

func TestSessionFromContext(t *testing.T) {
	t.Parallel()

	_, ok := SessionFromContext(context.Background())
	require.False(t, ok)

	_, ok = SessionFromContext(ContextWithSession(context.Background(), domain.Session{}))
	require.False(t, ok, "session without user is anonymous")

	session, ok := SessionFromContext(ContextWithSession(context.Background(), domain.Session{UserID: "u1", Role: domain.RoleProducer}))
	require.True(t, ok)
	require.True(t, session.IsProducer())
}

func TestBuildIdempotencyRequestHash(t *testing.T) {
	t.Parallel()

	first, err := buildIdempotencyRequestHash(&CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 2}}})
	require.NoError(t, err)
	again, err := buildIdempotencyRequestHash(&CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 2}}})
	require.NoError(t, err)
	require.Equal(t, first, again)

	otherQty, err := buildIdempotencyRequestHash(&CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 3}}})
	require.NoError(t, err)
	require.NotEqual(t, first, otherQty)
}

func TestWithIdempotency_KeyScopedPerUser(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	svc := NewMarketService(Services{}, WithIdempotency(repo, time.Hour))
	md := metadata.Pairs(idempotencyKeyHeader, "cart-1")

	calls := 0
	handler := func(context.Context) (*CheckoutResponse, error) {
		calls++
		return &CheckoutResponse{CheckoutID: fmt.Sprintf("c%d", calls)}, nil
	}

	ana := metadata.NewIncomingContext(ContextWithSession(context.Background(), domain.Session{UserID: "ana", Role: domain.RoleBuyer}), md)
	luis := metadata.NewIncomingContext(ContextWithSession(context.Background(), domain.Session{UserID: "luis", Role: domain.RoleBuyer}), md)

	first, err := withIdempotency(svc, ana, MethodCheckout, &CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 1}}}, handler)
	require.NoError(t, err)
	replay, err := withIdempotency(svc, ana, MethodCheckout, &CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 1}}}, handler)
	require.NoError(t, err)
	require.Equal(t, first.CheckoutID, replay.CheckoutID)

	other, err := withIdempotency(svc, luis, MethodCheckout, &CheckoutRequest{Items: []CartLine{{ProductID: "p9", Qty: 4}}}, handler)
	require.NoError(t, err)
	require.NotEqual(t, first.CheckoutID, other.CheckoutID)
	require.Equal(t, 2, calls)

	_, err = withIdempotency(svc, ana, MethodCheckout, &CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 5}}}, handler)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	record, err := repo.Get(domain.NewIdempotencyKey("ana", MethodCheckout, "cart-1"))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestWithIdempotency_ReplaysStoredFailure(t *testing.T) {
	t.Parallel()

	svc := NewMarketService(Services{}, WithIdempotency(memory.NewIdempotencyRepository(), time.Hour))
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(idempotencyKeyHeader, "key-1"))

	calls := 0
	handler := func(context.Context) (*OrderResponse, error) {
		calls++
		return nil, status.Error(codes.FailedPrecondition, "order is delivered")
	}

	_, err := withIdempotency(svc, ctx, MethodAdvanceOrder, &AdvanceOrderRequest{OrderID: "o1"}, handler)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = withIdempotency(svc, ctx, MethodAdvanceOrder, &AdvanceOrderRequest{OrderID: "o1"}, handler)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, "order is delivered", status.Convert(err).Message())
	require.Equal(t, 1, calls)
}

func TestWithIdempotency_TransientFailureReleasesKey(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	svc := NewMarketService(Services{}, WithIdempotency(repo, time.Hour))
	ctx := metadata.NewIncomingContext(
		ContextWithSession(context.Background(), domain.Session{UserID: "ana", Role: domain.RoleBuyer}),
		metadata.Pairs(idempotencyKeyHeader, "cart-7"),
	)
	req := &CheckoutRequest{Items: []CartLine{{ProductID: "p1", Qty: 1}}}

	calls := 0
	handler := func(context.Context) (*CheckoutResponse, error) {
		calls++
		if calls == 1 {
			return nil, status.Error(codes.Unavailable, domain.ErrCheckoutFailed.Error())
		}
		return &CheckoutResponse{CheckoutID: "c2"}, nil
	}

	_, err := withIdempotency(svc, ctx, MethodCheckout, req, handler)
	require.Equal(t, codes.Unavailable, status.Code(err))
	_, err = repo.Get(domain.NewIdempotencyKey("ana", MethodCheckout, "cart-7"))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	resp, err := withIdempotency(svc, ctx, MethodCheckout, req, handler)
	require.NoError(t, err)
	require.Equal(t, "c2", resp.CheckoutID)
	require.Equal(t, 2, calls)

	replay, err := withIdempotency(svc, ctx, MethodCheckout, req, handler)
	require.NoError(t, err)
	require.Equal(t, "c2", replay.CheckoutID)
	require.Equal(t, 2, calls)
}

func TestTransientFailure(t *testing.T) {
	t.Parallel()

	require.True(t, transientFailure(status.Error(codes.Unavailable, "checkout failed")))
	require.True(t, transientFailure(status.Error(codes.Aborted, "version conflict")))
	require.False(t, transientFailure(status.Error(codes.FailedPrecondition, "order is delivered")))
	require.False(t, transientFailure(status.Error(codes.InvalidArgument, "qty is too large")))
}

func TestWithIdempotency_WithoutKeyRunsEveryTime(t *testing.T) {
	t.Parallel()

	svc := NewMarketService(Services{}, WithIdempotency(memory.NewIdempotencyRepository(), time.Hour))

	calls := 0
	handler := func(context.Context) (*Empty, error) {
		calls++
		return &Empty{}, nil
	}

	for i := 0; i < 3; i++ {
		_, err := withIdempotency(svc, context.Background(), MethodPublishProduct, &PublishProductRequest{Name: "Papa"}, handler)
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestDecodeIdempotencyFailure_FallsBackToStatusCode(t *testing.T) {
	t.Parallel()

	err := decodeIdempotencyFailure(domain.IdempotencyRecord{Code: int(codes.NotFound)})
	require.Equal(t, codes.NotFound, status.Code(err))

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{Code: 999})
	require.Equal(t, codes.Internal, status.Code(err))
}
