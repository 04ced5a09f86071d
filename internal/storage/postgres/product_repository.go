package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
	"github.com/vladislavdragonenkov/agromarket/internal/storage/changefeed"
)

const productColumns = `id, seller_id, name, price_minor, description, image_ref, stock, category, unit, search_key, version, created_at, updated_at`

type productRepository struct {
	db  *sql.DB
	hub *changefeed.Hub
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB(), hub: store.Hub()}
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	return r.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			p.ID, p.SellerID, p.Name, p.PriceMinor, p.Description, p.ImageRef, p.Stock,
			string(p.Category), string(p.Unit), p.SearchKey, p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrProductVersionConflict
			}
			return fmt.Errorf("insert product: %w", err)
		}
		return nil
	})
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context, q domain.ProductQuery) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var f filter
	if q.SellerID != "" {
		f.add("seller_id = $%d", q.SellerID)
	}
	if q.Category != "" {
		f.add("category = $%d", string(q.Category))
	}
	if q.InStockOnly {
		f.add("stock > $%d", 0)
	}
	if q.SearchPrefix != "" {
		f.add(`search_key LIKE $%d ESCAPE '\'`, likePrefix(q.SearchPrefix))
	}
	query := `SELECT ` + productColumns + ` FROM products` + f.where() +
		` ORDER BY created_at DESC, id DESC` + f.limit(q.Limit)

	rows, err := r.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) Save(ctx context.Context, p domain.Product) error {
	return r.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET name = $1,
			    price_minor = $2,
			    description = $3,
			    image_ref = $4,
			    stock = $5,
			    category = $6,
			    unit = $7,
			    search_key = $8,
			    version = version + 1,
			    updated_at = $9
			WHERE id = $10
			  AND version = $11
		`,
			p.Name, p.PriceMinor, p.Description, p.ImageRef, p.Stock,
			string(p.Category), string(p.Unit), p.SearchKey, p.UpdatedAt,
			p.ID, p.Version,
		)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		exists, err := rowExists(ctx, tx, `SELECT 1 FROM products WHERE id = $1`, p.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrProductVersionConflict
	})
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	return r.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrProductNotFound
		}
		return nil
	})
}

func (r *productRepository) Watch(ctx context.Context, q domain.ProductQuery) (*domain.Subscription[[]domain.Product], error) {
	return changefeed.Watch(ctx, r.hub, changefeed.TopicProducts, func(ctx context.Context) ([]domain.Product, error) {
		return r.List(ctx, q)
	}, nil)
}

// write выполняет изменение и уведомление об изменении каталога в одной транзакции.
func (r *productRepository) write(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := notifyChange(ctx, tx, changefeed.TopicProducts); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit products tx: %w", err)
	}

	r.hub.Notify(changefeed.TopicProducts)
	return nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p        domain.Product
		category string
		unit     string
	)
	if err := row.Scan(
		&p.ID, &p.SellerID, &p.Name, &p.PriceMinor, &p.Description, &p.ImageRef, &p.Stock,
		&category, &unit, &p.SearchKey, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	p.Category = domain.Category(category)
	p.Unit = domain.Unit(unit)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
