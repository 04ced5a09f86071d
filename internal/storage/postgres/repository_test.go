package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

var orderRowColumns = []string{
	"id", "checkout_id", "seller_id", "buyer_id", "buyer_name",
	"total_minor", "status", "version", "created_at", "updated_at",
}

var productRowColumns = []string{
	"id", "seller_id", "name", "price_minor", "description", "image_ref", "stock",
	"category", "unit", "search_key", "version", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func sampleOrder() domain.Order {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:         "o1",
		CheckoutID: "c1",
		SellerID:   "s1",
		BuyerID:    "b1",
		BuyerName:  "Ana",
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Papa", Qty: 2, PriceMinor: 1000, SubtotalMinor: 2000},
			{ProductID: "p2", Name: "Yuca", Qty: 1, PriceMinor: 500, SubtotalMinor: 500},
		},
		TotalMinor: 2500,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func expectNotify(mock sqlmock.Sqlmock, topic string) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs(changesChannel, topic).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestOrderRepositoryCreateWritesItemsAndNotifies(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder()

	signals, unsubscribe := store.Hub().Subscribe(changefeed.TopicOrders)
	defer unsubscribe()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs("o1", "c1", "s1", "b1", "Ana", int64(2500), "pending", int64(0), order.CreatedAt, order.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("o1", 0, "p1", "Papa", int32(2), int64(1000), int64(2000), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("o1", 1, "p2", "Yuca", int32(1), int64(500), int64(500), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock, changefeed.TopicOrders)
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), order))
	require.NoError(t, mock.ExpectationsWereMet())

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("hub was not notified about new order")
	}
}

func TestOrderRepositoryCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleOrder())
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryGet(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(
			"o1", "c1", "s1", "b1", "Ana", int64(2500), "in_progress", int64(1), order.CreatedAt, order.UpdatedAt,
		))
	mock.ExpectQuery("FROM order_items").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "name", "qty", "price_minor", "subtotal_minor", "image_ref"}).
			AddRow("p1", "Papa", int32(2), int64(1000), int64(2000), "").
			AddRow("p2", "Yuca", int32(1), int64(500), int64(500), ""))

	got, err := repo.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusInProgress, got.Status)
	require.Equal(t, int64(1), got.Version)
	require.Len(t, got.Items, 2)
	require.Equal(t, "Yuca", got.Items[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectQuery("FROM orders").WithArgs("missing").WillReturnRows(sqlmock.NewRows(orderRowColumns))

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepositoryListBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE seller_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("s1", "pending", 10).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(
			"o1", "c1", "s1", "b1", "Ana", int64(2500), "pending", int64(0), order.CreatedAt, order.UpdatedAt,
		))
	mock.ExpectQuery("FROM order_items").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "name", "qty", "price_minor", "subtotal_minor", "image_ref"}))

	got, err := repo.List(context.Background(), domain.OrderQuery{SellerID: "s1", Status: domain.OrderStatusPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositorySaveVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs("pending", "Ana", order.UpdatedAt, "o1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM orders WHERE id = $1")).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), order)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositorySaveNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM orders").WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleOrder())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositorySaveCommits(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock, changefeed.TopicOrders)
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), sampleOrder()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositoryListEscapesSearchPrefix(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewProductRepository(store)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE category = $1 AND stock > $2 AND search_key LIKE $3 ESCAPE '\' ORDER BY created_at DESC, id DESC`)).
		WithArgs("Verduras", 0, `pa\_%`).
		WillReturnRows(sqlmock.NewRows(productRowColumns).AddRow(
			"p1", "s1", "Pa_pa", int64(1250), "fresca", "https://cdn/p.jpg", int32(4),
			"Verduras", "kg", "pa_pa", int64(2), now, now,
		))

	got, err := repo.List(context.Background(), domain.ProductQuery{
		Category:     domain.CategoryVegetables,
		InStockOnly:  true,
		SearchPrefix: "pa_",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.UnitKilogram, got[0].Unit)
	require.Equal(t, int32(4), got[0].Stock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositoryDeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewProductRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs("p404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "p404")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepositorySaveConflict(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewProductRepository(store)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM products").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), domain.Product{ID: "p1", Version: 3})
	require.ErrorIs(t, err, domain.ErrProductVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewUserRepository(store)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", "Rosa", "rosa@finca.co", "", "producer", []byte("hash"), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := repo.Create(context.Background(), domain.User{
		ID:           "u1",
		Name:         "Rosa",
		Email:        " Rosa@Finca.co",
		Role:         domain.RoleProducer,
		PasswordHash: []byte("hash"),
		CreatedAt:    time.Now(),
	})
	require.ErrorIs(t, err, domain.ErrEmailAlreadyRegistered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewUserRepository(store)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(email) = $1")).
		WithArgs("nadie@finca.co").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "role", "password_hash", "created_at"}))

	_, err := repo.GetByEmail(context.Background(), "Nadie@Finca.co")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestOutboxRepositoryEnqueueWakesWorker(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	signals, unsubscribe := store.Hub().Subscribe(changefeed.TopicOutbox)
	defer unsubscribe()

	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(sqlmock.AnyArg(), "order", "o1", domain.EventOrderPlaced, []byte(`{}`), outboxStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock, changefeed.TopicOutbox)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "o1",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("outbox topic was not notified")
	}
}

func TestOutboxRepositoryMarkUnknown(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs("x", outboxStatusSent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.MarkSent("x"), domain.ErrOutboxPublish)
}

func TestOutboxRepositoryPullPendingClaimsInEnqueueOrder(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(outboxStatusPending, sqlmock.AnyArg(), 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
			AddRow("m2", "order", "o2", domain.EventOrderPlaced, []byte(`{}`), at.Add(time.Second)).
			AddRow("m1", "order", "o1", domain.EventOrderPlaced, []byte(`{}`), at))

	batch, err := repo.PullPending(2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "m1", batch[0].ID)
	require.Equal(t, at, batch[0].CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimelineRepositoryAppendRequiresOrder(t *testing.T) {
	store, _ := newMockStore(t)
	repo := NewTimelineRepository(store)

	err := repo.Append(context.Background(), domain.TimelineEvent{Type: domain.EventOrderPlaced, To: domain.OrderStatusPending})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTimelineRepositoryRoundTripsTransition(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO timeline_events").
		WithArgs("o1", domain.EventOrderStatusChanged, "pending", "in_progress", "s1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM timeline_events").
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"type", "from_status", "to_status", "actor_id", "occurred"}).
			AddRow(domain.EventOrderStatusChanged, "pending", "in_progress", "s1", at))

	order := domain.Order{ID: "o1", Status: domain.OrderStatusInProgress, UpdatedAt: at}
	require.NoError(t, repo.Append(context.Background(), domain.TransitionEvent(order, domain.OrderStatusPending, "s1")))

	events, err := repo.List(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "o1", events[0].OrderID)
	require.Equal(t, domain.OrderStatusPending, events[0].From)
	require.Equal(t, domain.OrderStatusInProgress, events[0].To)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimelineRepositoryRejectsUnknownStatus(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)

	err := repo.Append(context.Background(), domain.TimelineEvent{OrderID: "o1", Type: domain.EventOrderPlaced, To: "lost"})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepositoryReserveHashMismatch(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)
	now := time.Now().UTC()
	key := domain.NewIdempotencyKey("b1", "/market/Checkout", "k1")

	mock.ExpectQuery("INSERT INTO idempotency_keys").
		WithArgs("b1", "/market/Checkout", "k1", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM idempotency_keys").
		WithArgs("b1", "/market/Checkout", "k1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "method", "key", "request_hash", "status", "grpc_code", "body", "expires_at", "created_at", "updated_at",
		}).AddRow("b1", "/market/Checkout", "k1", "other-hash", "processing", 0, nil, now.Add(time.Hour), now, now))

	existing, err := repo.Reserve(key, "hash", now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, key, existing.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepositoryDeleteExpiredLimit(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)
	before := time.Now().UTC()

	mock.ExpectExec(`ORDER BY expires_at LIMIT \$2`).
		WithArgs(before, 50).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := repo.DeleteExpired(before, 50)
	require.NoError(t, err)
	require.Equal(t, 7, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepositorySettleRejectsProcessing(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)

	err := repo.Settle(domain.NewIdempotencyKey("b1", "/market/Checkout", "k1"), domain.IdempotencyOutcome{Status: domain.IdempotencyStatusProcessing})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePrefixEscapesWildcards(t *testing.T) {
	require.Equal(t, `50\%\_off%`, likePrefix("50%_off"))
	require.Equal(t, `a\\b%`, likePrefix(`a\b`))
}
