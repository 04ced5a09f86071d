package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

const orderColumns = `id, checkout_id, seller_id, buyer_id, buyer_name, total_minor, status, version, created_at, updated_at`

type orderRepository struct {
	db  *sql.DB
	hub *changefeed.Hub
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB(), hub: store.Hub()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.CheckoutID, order.SellerID, order.BuyerID, order.BuyerName,
		order.TotalMinor, string(order.Status), order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, qty, price_minor, subtotal_minor, image_ref
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, i, item.ProductID, item.Name, item.Qty, item.PriceMinor, item.SubtotalMinor, item.ImageRef,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = notifyChange(ctx, tx, changefeed.TopicOrders); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	r.hub.Notify(changefeed.TopicOrders)
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var f filter
	if q.SellerID != "" {
		f.add("seller_id = $%d", q.SellerID)
	}
	if q.BuyerID != "" {
		f.add("buyer_id = $%d", q.BuyerID)
	}
	if q.Status != "" {
		f.add("status = $%d", string(q.Status))
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + f.where() +
		` ORDER BY created_at DESC, id DESC` + f.limit(q.Limit)

	rows, err := r.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save меняет статус заказа; позиции после оформления неизменны.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    buyer_name = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $4
		  AND version = $5
	`,
		string(order.Status),
		order.BuyerName,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := rowExists(ctx, tx, `SELECT 1 FROM orders WHERE id = $1`, order.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	if err = notifyChange(ctx, tx, changefeed.TopicOrders); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	r.hub.Notify(changefeed.TopicOrders)
	return nil
}

func (r *orderRepository) Watch(ctx context.Context, q domain.OrderQuery) (*domain.Subscription[[]domain.Order], error) {
	return changefeed.Watch(ctx, r.hub, changefeed.TopicOrders, func(ctx context.Context) ([]domain.Order, error) {
		return r.List(ctx, q)
	}, nil)
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, qty, price_minor, subtotal_minor, image_ref
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ProductID, &item.Name, &item.Qty, &item.PriceMinor, &item.SubtotalMinor, &item.ImageRef,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// rowScanner — общее у *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &order.CheckoutID, &order.SellerID, &order.BuyerID, &order.BuyerName,
		&order.TotalMinor, &status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
