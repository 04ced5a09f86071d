package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Settled сообщает, что у запроса уже есть итоговый ответ.
func (s IdempotencyStatus) Settled() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyKey адресует запрос. Клиентский ключ действует только в пределах
// пользователя и метода: два покупателя с одинаковым ключом не мешают друг другу.
type IdempotencyKey struct {
	UserID string
	Method string
	Key    string
}

// NewIdempotencyKey нормализует части ключа.
func NewIdempotencyKey(userID, method, key string) IdempotencyKey {
	return IdempotencyKey{
		UserID: strings.TrimSpace(userID),
		Method: strings.TrimSpace(method),
		Key:    strings.TrimSpace(key),
	}
}

// Validate проверяет обязательные части. UserID пуст для анонимных вызовов.
func (k IdempotencyKey) Validate() error {
	if k.Key == "" || k.Method == "" {
		return ErrIdempotencyKeyRequired
	}
	return nil
}

func (k IdempotencyKey) String() string {
	return k.Method + "/" + k.UserID + "/" + k.Key
}

// IdempotencyOutcome итог обработки, который отдаётся при повторе.
type IdempotencyOutcome struct {
	Status IdempotencyStatus
	// Code gRPC-код ответа.
	Code int
	Body []byte
}

// Validate допускает только итоговые статусы.
func (o IdempotencyOutcome) Validate() error {
	if !o.Status.Settled() {
		return NewValidationError("status", "must be done or failed")
	}
	return nil
}

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
type IdempotencyRecord struct {
	Key         IdempotencyKey
	RequestHash string
	Status      IdempotencyStatus
	Code        int
	Body        []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, что запись пережила TTL. Такой ключ снова свободен,
// даже если cleanup ещё не успел её удалить.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Outcome возвращает сохранённый итог.
func (r IdempotencyRecord) Outcome() IdempotencyOutcome {
	return IdempotencyOutcome{Status: r.Status, Code: r.Code, Body: r.Body}
}
