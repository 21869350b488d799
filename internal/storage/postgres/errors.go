package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// uniqueConstraints сопоставляет имена ограничений схемы с доменными ошибками.
var uniqueConstraints = map[string]error{
	"customers_email_key": domain.ErrDuplicateEmail,
	"products_name_key":   domain.ErrDuplicateProductName,
	"order_items_pkey":    domain.ErrDuplicateOrderItem,
}

// mapCommitError переводит ошибку PostgreSQL в доменную, сохраняя исходную в цепочке.
// onForeignKey задаёт ошибку нарушения внешнего ключа для конкретного запроса.
func mapCommitError(err error, onForeignKey error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		mapped, ok := uniqueConstraints[pgErr.ConstraintName]
		if !ok {
			mapped = domain.ErrConstraintViolation
		}
		return fmt.Errorf("%w: %w", mapped, pgErr)
	case pgForeignKeyViolation:
		if onForeignKey == nil {
			onForeignKey = domain.ErrReferenceMissing
		}
		return fmt.Errorf("%w: %w", onForeignKey, pgErr)
	case pgCheckViolation:
		return fmt.Errorf("%w: %w", domain.ErrConstraintViolation, pgErr)
	default:
		return err
	}
}
