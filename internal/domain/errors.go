package domain

import (
	"errors"
	"fmt"
)

// Ошибки валидации входных данных.
var (
	// ErrValidation общий признак ошибки валидации; все ValidationError сводятся к нему.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyCart попытка оформить пустую корзину.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrItemQtyInvalid количество позиции меньше единицы.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrItemPriceInvalid отрицательная цена позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrSellerRequired у заказа или товара нет продавца.
	ErrSellerRequired = errors.New("seller_id is required")
	// ErrBuyerRequired у заказа нет покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// ErrItemsRequired заказ без позиций.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrTotalMismatch сумма заказа не совпадает с суммой подытогов.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// ErrAmountOverflow количество или сумма вышли за допустимый диапазон.
	ErrAmountOverflow = errors.New("order amount is out of range")
	// ErrImageNotUploaded ссылка на изображение всё ещё указывает на локальный файл.
	ErrImageNotUploaded = errors.New("image is not uploaded yet")
	// ErrUnsupportedMedia загружаемый файл не является изображением.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Ошибки аутентификации и доступа.
var (
	ErrUnauthenticated        = errors.New("not signed in")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrWeakPassword           = errors.New("password is too weak")
	ErrPasswordMismatch       = errors.New("passwords do not match")
	ErrPermissionDenied       = errors.New("permission denied")
)

// Ошибки хранилища и внешних систем.
var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар удалён или не существовал.
	ErrProductNotFound = errors.New("product not found")
	// ErrUserNotFound возвращается, если профиль пользователя не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductVersionConflict сигнализирует о конфликте версий при сохранении товара.
	ErrProductVersionConflict = errors.New("product version conflict")
	// ErrInvalidTransition запрошенный переход статуса не разрешён.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrCheckoutFailed агрегированная ошибка оформления; деталей по продавцам нет.
	ErrCheckoutFailed = errors.New("checkout failed")
	// ErrOutboxPublish ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrBlobNotFound объект в blob-хранилище не найден.
	ErrBlobNotFound = errors.New("blob not found")
)

// Ошибки idempotency-key.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

// ValidationError описывает некорректное поле ввода.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError короткий конструктор для ValidationError.
func NewValidationError(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrProductVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использовался.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound объединяет все ошибки отсутствия документа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
