package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxPersonNameLength ограничивает имя и фамилию клиента (в символах).
	MaxPersonNameLength = 100
	// MaxEmailLength ограничивает длину email (в символах).
	MaxEmailLength = 255
)

// Customer описывает клиента. Заказы ссылаются на клиента, но не принадлежат ему.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// FullName возвращает имя и фамилию через пробел.
func (c Customer) FullName() string {
	return c.FirstName + " " + c.LastName
}

// Validate проверяет поля клиента и возвращает все нарушения сразу.
// Имена не обрезаются: сохраняются ровно в том виде, в котором пришли.
func (c Customer) Validate() error {
	var errs []error

	switch {
	case strings.TrimSpace(c.FirstName) == "":
		errs = append(errs, ErrFirstNameRequired)
	case utf8.RuneCountInString(c.FirstName) > MaxPersonNameLength:
		errs = append(errs, ErrFirstNameTooLong)
	}

	switch {
	case strings.TrimSpace(c.LastName) == "":
		errs = append(errs, ErrLastNameRequired)
	case utf8.RuneCountInString(c.LastName) > MaxPersonNameLength:
		errs = append(errs, ErrLastNameTooLong)
	}

	switch {
	case strings.TrimSpace(c.Email) == "":
		errs = append(errs, ErrEmailRequired)
	default:
		if !strings.Contains(c.Email, "@") {
			errs = append(errs, ErrEmailInvalid)
		}
		if utf8.RuneCountInString(c.Email) > MaxEmailLength {
			errs = append(errs, ErrEmailTooLong)
		}
	}

	return NewValidationError(errs)
}
