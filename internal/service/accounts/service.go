// Package accounts — регистрация, вход и проверка токенов сессий.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// MinPasswordLength — минимальная длина пароля.
const MinPasswordLength = 6

// RegisterInput — данные формы регистрации.
type RegisterInput struct {
	Name            string `json:"name" validate:"required,max=120"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"required,max=32"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	Role            string `json:"role" validate:"required,oneof=producer buyer"`
}

// SignInResult — сессия и токен, выданные при входе.
type SignInResult struct {
	Session   domain.Session
	Token     string
	ExpiresAt time.Time
}

// Service управляет учётными записями.
type Service struct {
	users      domain.UserRepository
	tokens     *TokenIssuer
	validate   *validator.Validate
	bcryptCost int
	logger     *log.Entry
	now        func() time.Time
}

// NewService создаёт сервис учётных записей.
func NewService(users domain.UserRepository, tokens *TokenIssuer, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "accounts")
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register создаёт профиль и возвращает сессию нового пользователя.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Role = strings.TrimSpace(in.Role)

	if err := s.validate.Struct(in); err != nil {
		return domain.Session{}, registerValidationError(err)
	}
	if in.Password != in.ConfirmPassword {
		return domain.Session{}, domain.ErrPasswordMismatch
	}
	if len([]rune(in.Password)) < MinPasswordLength {
		return domain.Session{}, domain.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return domain.Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		Role:         domain.Role(in.Role),
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return domain.Session{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("user registered")
	return domain.SessionFor(user), nil
}

// SignIn проверяет email и пароль и выпускает токен.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return SignInResult{}, domain.ErrInvalidCredentials
		}
		return SignInResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return SignInResult{}, domain.ErrInvalidCredentials
	}

	session := domain.SessionFor(user)
	token, expiresAt, err := s.tokens.Issue(session)
	if err != nil {
		return SignInResult{}, err
	}

	s.logger.WithField("user_id", user.ID).Debug("user signed in")
	return SignInResult{Session: session, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate восстанавливает сессию по токену.
func (s *Service) Authenticate(token string) (domain.Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domain.Session{}, domain.ErrUnauthenticated
	}
	return s.tokens.Parse(token)
}

func registerValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	first := verrs[0]
	reason := "is invalid"
	switch first.Tag() {
	case "required":
		reason = "is required"
	case "email":
		reason = "must be a valid email"
	case "oneof":
		reason = "must be producer or buyer"
	case "max":
		reason = "is too long"
	}
	return domain.NewValidationError(toSnake(first.Field()), reason)
}

func toSnake(field string) string {
	switch field {
	case "ConfirmPassword":
		return "confirm_password"
	default:
		return strings.ToLower(field)
	}
}
