package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

const userColumns = `id, name, email, phone, role, password_hash, created_at`

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) Create(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Phone, string(u.Role), u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailAlreadyRegistered
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getBy(ctx, "LOWER(email) = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) getBy(ctx context.Context, cond string, arg any) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		u    domain.User
		role string
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &role, &u.PasswordHash, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
