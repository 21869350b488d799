package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxProductNameLength ограничивает название товара после обрезки пробелов.
	MaxProductNameLength = 200
	// PriceScale — число знаков после запятой в денежных колонках NUMERIC(18,2).
	PriceScale = 2
)

// PriceCeiling — первое значение, которое уже не помещается в NUMERIC(18,2).
// Цены должны быть строго меньше, иначе суммы по заказу переполнят колонку.
var PriceCeiling = decimal.New(1, 18-PriceScale)

// Product описывает товар каталога.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	CreatedAt time.Time
}

// NormalizeProductName обрезает пробелы по краям названия.
func NormalizeProductName(name string) string {
	return strings.TrimSpace(name)
}

// Normalize возвращает копию товара с обрезанным названием.
func (p Product) Normalize() Product {
	p.Name = NormalizeProductName(p.Name)
	return p
}

// Validate проверяет товар. Ожидается, что название уже нормализовано.
func (p Product) Validate() error {
	var errs []error

	name := NormalizeProductName(p.Name)
	switch {
	case name == "":
		errs = append(errs, ErrProductNameRequired)
	case utf8.RuneCountInString(name) > MaxProductNameLength:
		errs = append(errs, ErrProductNameTooLong)
	}

	if !p.Price.IsPositive() {
		errs = append(errs, ErrProductPriceInvalid)
	}
	errs = append(errs, priceBounds(p.Price)...)

	return NewValidationError(errs)
}

// priceBounds проверяет потолок и точность цены.
func priceBounds(price decimal.Decimal) []error {
	var errs []error
	if price.GreaterThanOrEqual(PriceCeiling) {
		errs = append(errs, ErrPriceTooLarge)
	}
	if !price.Equal(price.Round(PriceScale)) {
		errs = append(errs, ErrPriceScale)
	}
	return errs
}
