package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity — верхняя граница количества в позиции (колонка INTEGER).
const MaxQuantity = math.MaxInt32

// OrderItem — позиция заказа. Ключ позиции — пара (OrderID, ProductID).
type OrderItem struct {
	OrderID   string
	ProductID string
	Quantity  int32
	// UnitPrice фиксируется при добавлении позиции и дальше не пересчитывается.
	UnitPrice decimal.Decimal
	// Product заполняется только при жадной загрузке (GetByIDWithItems).
	Product *Product
}

// LineTotal возвращает Quantity × UnitPrice.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Quantity))
}

// Validate проверяет количество и снимок цены позиции.
func (i OrderItem) Validate() error {
	return NewValidationError(i.violations())
}

func (i OrderItem) violations() []error {
	var errs []error
	if i.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if i.Quantity < 1 {
		errs = append(errs, ErrItemQtyInvalid)
	}
	if i.UnitPrice.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}
	errs = append(errs, priceBounds(i.UnitPrice)...)
	return errs
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID         string
	CustomerID string
	// OrderDate задаётся при создании и больше не меняется.
	OrderDate time.Time
	// Version растёт при каждом изменении агрегата (optimistic locking).
	Version int64
	// Items хранится в порядке добавления.
	Items []OrderItem
	// Customer заполняется только при жадной загрузке (GetByIDWithItems).
	Customer *Customer
}

// Total возвращает сумму всех позиций.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ItemsQuantity возвращает суммарное количество единиц товара в заказе.
func (o Order) ItemsQuantity() int64 {
	var qty int64
	for _, item := range o.Items {
		qty += int64(item.Quantity)
	}
	return qty
}

// FindItem ищет позицию по товару и возвращает её индекс или -1.
func (o Order) FindItem(productID string) int {
	for idx, item := range o.Items {
		if item.ProductID == productID {
			return idx
		}
	}
	return -1
}

// ValidateInvariants проверяет инварианты агрегата и возвращает список замечаний.
func (o Order) ValidateInvariants() []error {
	var errs []error
	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerIDRequired)
	}

	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		errs = append(errs, item.violations()...)
		if _, dup := seen[item.ProductID]; dup {
			errs = append(errs, ErrDuplicateOrderItem)
		}
		seen[item.ProductID] = struct{}{}
	}
	return errs
}
