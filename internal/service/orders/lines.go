package orders

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// LineRequest — запрошенная позиция заказа.
type LineRequest struct {
	ProductID string
	Quantity  int32
	// PriceOverride заменяет текущую цену товара в снимке позиции.
	PriceOverride *decimal.Decimal
}

func (l LineRequest) violations() []error {
	var errs []error
	if l.ProductID == "" {
		errs = append(errs, domain.ErrProductIDRequired)
	}
	if l.Quantity < 1 {
		errs = append(errs, domain.ErrItemQtyInvalid)
	}
	if l.PriceOverride != nil {
		// Проверяем как снимок позиции: цена неотрицательна и помещается в NUMERIC(18,2).
		probe := domain.OrderItem{ProductID: l.ProductID, Quantity: 1, UnitPrice: *l.PriceOverride}
		errs = append(errs, unwrapViolations(probe.Validate())...)
	}
	return errs
}

// mergeLines проверяет позиции и схлопывает повторы одного товара в одну строку:
// количества суммируются, цена берётся из первого вхождения.
func mergeLines(lines []LineRequest) ([]LineRequest, error) {
	var errs []error
	merged := make([]LineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	totals := make(map[string]int64, len(lines))

	for _, line := range lines {
		if v := line.violations(); len(v) > 0 {
			errs = append(errs, v...)
			continue
		}
		totals[line.ProductID] += int64(line.Quantity)
		if idx, seen := index[line.ProductID]; seen {
			if totals[line.ProductID] <= domain.MaxQuantity {
				merged[idx].Quantity = int32(totals[line.ProductID])
			}
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	for _, total := range totals {
		if total > domain.MaxQuantity {
			errs = append(errs, domain.ErrItemQtyTooLarge)
		}
	}

	if err := domain.NewValidationError(dedupe(errs)); err != nil {
		return nil, err
	}
	return merged, nil
}

// addQuantity складывает количества и проверяет верхнюю границу.
func addQuantity(current, delta int32) (int32, error) {
	total := int64(current) + int64(delta)
	if total > domain.MaxQuantity {
		return 0, domain.NewValidationError([]error{domain.ErrItemQtyTooLarge})
	}
	return int32(total), nil
}

func unwrapViolations(err error) []error {
	if err == nil {
		return nil
	}
	if vErr, ok := err.(*domain.ValidationError); ok {
		return vErr.Violations
	}
	return []error{err}
}

// dedupe убирает повторяющиеся правила, сохраняя порядок первого появления.
func dedupe(errs []error) []error {
	seen := make(map[error]struct{}, len(errs))
	out := errs[:0]
	for _, err := range errs {
		if _, ok := seen[err]; ok {
			continue
		}
		seen[err] = struct{}{}
		out = append(out, err)
	}
	return out
}
