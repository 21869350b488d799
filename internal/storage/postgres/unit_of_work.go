package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// statement — отложенный запрос единицы работы.
type statement struct {
	query string
	args  []any
	// uncounted исключает запрос из числа затронутых строк (например, outbox).
	uncounted bool
	// onZeroRows возвращается, если запрос не затронул ни одной строки.
	onZeroRows error
	// onForeignKey возвращается при нарушении внешнего ключа.
	onForeignKey error
}

// unitOfWork читает через открытую транзакцию и выполняет изменения только в Commit.
type unitOfWork struct {
	tx     *sql.Tx
	stmts  []statement
	closed bool
}

func (u *unitOfWork) Customers() domain.CustomerRepository { return customerRepository{uow: u} }
func (u *unitOfWork) Products() domain.ProductRepository   { return productRepository{uow: u} }
func (u *unitOfWork) Orders() domain.OrderRepository       { return orderRepository{uow: u} }
func (u *unitOfWork) Outbox() domain.OutboxWriter          { return outboxWriter{uow: u} }

func (u *unitOfWork) stage(stmt statement) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	u.stmts = append(u.stmts, stmt)
	return nil
}

func (u *unitOfWork) reader() (*sql.Tx, error) {
	if u.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	return u.tx, nil
}

// Commit выполняет поставленные запросы по порядку и фиксирует транзакцию.
// При любой ошибке транзакция откатывается целиком.
func (u *unitOfWork) Commit(ctx context.Context) (int, error) {
	if u.closed {
		return 0, domain.ErrUnitOfWorkClosed
	}
	u.closed = true
	stmts := u.stmts
	u.stmts = nil

	if err := ctx.Err(); err != nil {
		_ = u.tx.Rollback()
		return 0, err
	}

	affected := 0
	for _, stmt := range stmts {
		res, err := u.tx.ExecContext(ctx, stmt.query, stmt.args...)
		if err != nil {
			_ = u.tx.Rollback()
			return 0, mapCommitError(err, stmt.onForeignKey)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = u.tx.Rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 && stmt.onZeroRows != nil {
			_ = u.tx.Rollback()
			return 0, stmt.onZeroRows
		}
		if !stmt.uncounted {
			affected += int(n)
		}
	}

	if err := u.tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit unit of work: %w", err)
	}
	return affected, nil
}

// Rollback откатывает транзакцию; повторный вызов ничего не делает.
func (u *unitOfWork) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.stmts = nil
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback unit of work: %w", err)
	}
	return nil
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
