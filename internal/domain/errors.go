package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые виды ошибок. Все остальные ошибки пакета оборачивают один из них.
var (
	// ErrValidation — нарушено одно или несколько правил полей сущности.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — связанная сущность не существует на момент операции.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation — хранилище отклонило изменения (уникальность, restrict, версия).
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrCanceled — операция прервана вызывающей стороной до завершения.
	ErrCanceled = errors.New("operation canceled")
)

var (
	ErrCustomerNotFound  = fmt.Errorf("customer %w", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrOrderItemNotFound = fmt.Errorf("order item %w", ErrNotFound)
)

var (
	// ErrDuplicateEmail — email уже используется другим клиентом.
	ErrDuplicateEmail = fmt.Errorf("%w: customer email already exists", ErrConstraintViolation)
	// ErrDuplicateProductName — товар с таким названием уже существует.
	ErrDuplicateProductName = fmt.Errorf("%w: product name already exists", ErrConstraintViolation)
	// ErrDuplicateOrderItem — позиция с этим товаром уже есть в заказе.
	ErrDuplicateOrderItem = fmt.Errorf("%w: order already contains this product", ErrConstraintViolation)
	// ErrCustomerHasOrders — клиента нельзя удалить, пока на него ссылаются заказы.
	ErrCustomerHasOrders = fmt.Errorf("%w: customer is referenced by orders", ErrConstraintViolation)
	// ErrProductInUse — товар нельзя удалить, пока на него ссылаются позиции заказов.
	ErrProductInUse = fmt.Errorf("%w: product is referenced by order items", ErrConstraintViolation)
	// ErrReferenceMissing — вставляемая строка ссылается на несуществующую запись.
	ErrReferenceMissing = fmt.Errorf("%w: referenced row does not exist", ErrConstraintViolation)
	// ErrOrderVersionConflict сигнализирует, что заказ изменили параллельно.
	ErrOrderVersionConflict = fmt.Errorf("%w: order version conflict", ErrConstraintViolation)
)

// ErrUnitOfWorkClosed возвращается при попытке использовать завершённую единицу работы.
var ErrUnitOfWorkClosed = errors.New("unit of work is already closed")

// Правила валидации. ValidationError разворачивается в каждое нарушенное правило.
var (
	ErrFirstNameRequired = errors.New("first name is required")
	ErrFirstNameTooLong  = fmt.Errorf("first name must be at most %d characters", MaxPersonNameLength)
	ErrLastNameRequired  = errors.New("last name is required")
	ErrLastNameTooLong   = fmt.Errorf("last name must be at most %d characters", MaxPersonNameLength)
	ErrEmailRequired     = errors.New("email is required")
	ErrEmailInvalid      = errors.New("email must contain '@'")
	ErrEmailTooLong      = fmt.Errorf("email must be at most %d characters", MaxEmailLength)

	ErrProductNameRequired = errors.New("product name is required")
	ErrProductNameTooLong  = fmt.Errorf("product name must be at most %d characters", MaxProductNameLength)
	ErrProductPriceInvalid = errors.New("product price must be greater than zero")
	ErrPriceTooLarge       = errors.New("price exceeds the supported maximum")
	ErrPriceScale          = fmt.Errorf("price must have at most %d decimal places", PriceScale)

	ErrCustomerIDRequired = errors.New("customer_id is required")
	ErrProductIDRequired  = errors.New("product_id is required")
	ErrOrderIDRequired    = errors.New("order_id is required")
	ErrItemQtyInvalid     = errors.New("item quantity must be at least 1")
	ErrItemQtyTooLarge    = fmt.Errorf("item quantity must be at most %d", MaxQuantity)
	ErrItemPriceInvalid   = errors.New("item unit price must be non-negative")
)

// ValidationError агрегирует все нарушенные правила одной проверки.
type ValidationError struct {
	Violations []error
}

// NewValidationError возвращает nil, если нарушений нет.
func NewValidationError(violations []error) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Error())
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is позволяет сравнивать с ErrValidation через errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap отдаёт нарушенные правила для errors.Is/errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Violations
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, что ссылка на сущность не разрешилась.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConstraintViolation проверяет, что хранилище отклонило фиксацию.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsCanceled проверяет, что операция прервана вызывающей стороной.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
