package domain

import "time"

// Role — роль пользователя на площадке.
type Role string

const (
	RoleProducer Role = "producer"
	RoleBuyer    Role = "buyer"
)

// Valid проверяет, что роль поддерживается.
func (r Role) Valid() bool {
	return r == RoleProducer || r == RoleBuyer
}

// User — профиль пользователя. PasswordHash никогда не покидает сервис.
type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Role         Role
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session — явный контекст вошедшего пользователя. Создаётся при входе,
// передаётся сервисам аргументом и отбрасывается при выходе.
type Session struct {
	UserID string
	Name   string
	Email  string
	Role   Role
}

// Authenticated сообщает, что сессия принадлежит вошедшему пользователю.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// IsProducer сообщает, что пользователь продавец.
func (s *Session) IsProducer() bool {
	return s.Authenticated() && s.Role == RoleProducer
}

// DisplayName возвращает имя для заказов с запасным значением.
func (s *Session) DisplayName() string {
	if s == nil || s.Name == "" {
		return DefaultBuyerName
	}
	return s.Name
}

// SessionFor строит сессию по профилю пользователя.
func SessionFor(u User) Session {
	return Session{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}
