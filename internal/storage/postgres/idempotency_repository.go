package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const idempotencyColumns = `user_id, method, key, request_hash, status, grpc_code, body, expires_at, created_at, updated_at`

// reserveIdempotencyKeySQL вставляет ключ или перехватывает просроченную запись.
// Живая запись не трогается, и RETURNING ничего не отдаёт.
const reserveIdempotencyKeySQL = `
	INSERT INTO idempotency_keys (` + idempotencyColumns + `)
	VALUES ($1, $2, $3, $4, 'processing', 0, NULL, $5, $6, $6)
	ON CONFLICT (user_id, method, key) DO UPDATE
	SET request_hash = EXCLUDED.request_hash,
	    status       = EXCLUDED.status,
	    grpc_code    = 0,
	    body         = NULL,
	    expires_at   = EXCLUDED.expires_at,
	    created_at   = EXCLUDED.created_at,
	    updated_at   = EXCLUDED.updated_at
	WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
	RETURNING created_at`

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) Reserve(key domain.IdempotencyKey, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	if err := key.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, reserveIdempotencyKeySQL,
		key.UserID, key.Method, key.Key, requestHash, expiresAt, now,
	).Scan(&createdAt)
	switch {
	case err == nil:
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyStatusProcessing,
			ExpiresAt:   expiresAt,
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("load reserved idempotency key %s: %w", key, getErr)
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

func (r *idempotencyRepository) Get(key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	if err := key.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_keys
		WHERE user_id = $1 AND method = $2 AND key = $3
	`, key.UserID, key.Method, key.Key)

	record, err := scanIdempotencyRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, err
}

func (r *idempotencyRepository) Settle(key domain.IdempotencyKey, outcome domain.IdempotencyOutcome) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $4, grpc_code = $5, body = $6, updated_at = $7
		WHERE user_id = $1 AND method = $2 AND key = $3
	`, key.UserID, key.Method, key.Key, string(outcome.Status), outcome.Code, outcome.Body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("settle idempotency key %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *idempotencyRepository) Release(key domain.IdempotencyKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE user_id = $1 AND method = $2 AND key = $3 AND status = 'processing'
	`, key.UserID, key.Method, key.Key)
	if err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет до limit записей с самым ранним сроком; limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	f := &filter{}
	f.add("expires_at <= $%d", before)
	query := `
		DELETE FROM idempotency_keys
		WHERE (user_id, method, key) IN (
			SELECT user_id, method, key FROM idempotency_keys` + f.where() + `
			ORDER BY expires_at` + f.limit(limit) + `
		)`

	res, err := r.db.ExecContext(ctx, query, f.args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func scanIdempotencyRecord(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record    domain.IdempotencyRecord
		statusRaw string
	)
	err := row.Scan(
		&record.Key.UserID,
		&record.Key.Method,
		&record.Key.Key,
		&record.RequestHash,
		&statusRaw,
		&record.Code,
		&record.Body,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, record.Key)
	}
	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
