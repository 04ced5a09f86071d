package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

type userRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewUserRepository создаёт in-memory хранилище профилей.
func NewUserRepository() domain.UserRepository {
	return &userRepositoryInMemory{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

func (r *userRepositoryInMemory) Create(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(user.Email))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[email]; taken {
		return domain.ErrEmailAlreadyRegistered
	}
	user.Email = email
	user.PasswordHash = append([]byte(nil), user.PasswordHash...)
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	return nil
}

func (r *userRepositoryInMemory) Get(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepositoryInMemory) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.byID[id], nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
