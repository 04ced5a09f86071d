package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIdempotencyRepo() (*idempotencyRepositoryInMemory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)}
	return newIdempotencyRepository(clock.Now), clock
}

func TestIdempotencyRepository_ReserveAndReplay(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()
	key := domain.NewIdempotencyKey("buyer-1", "/market/Checkout", "cart-1")

	created, err := repo.Reserve(key, "hash-1", clock.now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.Equal(t, clock.now, created.CreatedAt)

	existing, err := repo.Reserve(key, "hash-1", clock.now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	_, err = repo.Reserve(key, "hash-2", clock.now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	body := []byte(`{"checkout_id":"c1"}`)
	require.NoError(t, repo.Settle(key, domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: body}))
	body[0] = 'X'

	got, err := repo.Get(key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, `{"checkout_id":"c1"}`, string(got.Body), "stored body is a copy")
}

func TestIdempotencyRepository_ReleaseOnlyProcessing(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()
	key := domain.NewIdempotencyKey("buyer-1", "/market/Checkout", "cart-2")

	_, err := repo.Reserve(key, "hash-1", clock.now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Release(key))
	require.ErrorIs(t, repo.Release(key), domain.ErrIdempotencyKeyNotFound)

	_, err = repo.Reserve(key, "hash-1", clock.now.Add(time.Hour))
	require.NoError(t, err, "released key is free again")
	require.NoError(t, repo.Settle(key, domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: []byte(`{}`)}))
	require.ErrorIs(t, repo.Release(key), domain.ErrIdempotencyKeyNotFound)

	got, err := repo.Get(key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
}

func TestIdempotencyRepository_KeysAreScopedPerUser(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()

	_, err := repo.Reserve(domain.NewIdempotencyKey("buyer-1", "/market/Checkout", "k"), "hash-a", clock.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = repo.Reserve(domain.NewIdempotencyKey("buyer-2", "/market/Checkout", "k"), "hash-b", clock.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = repo.Reserve(domain.NewIdempotencyKey("buyer-1", "/market/AdvanceOrder", "k"), "hash-c", clock.now.Add(time.Hour))
	require.NoError(t, err)
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()
	key := domain.NewIdempotencyKey("buyer-1", "/market/Checkout", "cart-1")

	_, err := repo.Reserve(key, "hash-1", clock.now.Add(time.Minute))
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Minute)
	reserved, err := repo.Reserve(key, "hash-2", clock.now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "hash-2", reserved.RequestHash)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()
	key := domain.NewIdempotencyKey("u1", "/market/Checkout", "k1")

	_, err := repo.Reserve(domain.NewIdempotencyKey("u1", "/market/Checkout", " "), "hash", clock.now)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.Reserve(key, " ", clock.now)
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	_, err = repo.Get(key)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	require.ErrorIs(t, repo.Settle(key, domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed}), domain.ErrIdempotencyKeyNotFound)

	reserved, err := repo.Reserve(key, "hash", time.Time{})
	require.NoError(t, err)
	require.Equal(t, clock.now.Add(defaultIdempotencyTTL), reserved.ExpiresAt)

	require.Error(t, repo.Settle(key, domain.IdempotencyOutcome{Status: domain.IdempotencyStatusProcessing}))
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo, clock := newTestIdempotencyRepo()
	start := clock.now

	for i, ttl := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute, time.Hour} {
		key := domain.NewIdempotencyKey("u1", "/market/Checkout", string(rune('a'+i)))
		_, err := repo.Reserve(key, "hash", start.Add(ttl))
		require.NoError(t, err)
	}

	clock.now = start.Add(10 * time.Minute)
	removed, err := repo.DeleteExpired(clock.now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get(domain.NewIdempotencyKey("u1", "/market/Checkout", "a"))
	require.NoError(t, err, "latest expiry survives a limited batch")
	_, err = repo.Get(domain.NewIdempotencyKey("u1", "/market/Checkout", "b"))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	removed, err = repo.DeleteExpired(time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(domain.NewIdempotencyKey("u1", "/market/Checkout", "d"))
	require.NoError(t, err)
}
