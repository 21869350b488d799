package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

type customerRepository struct{ uow *unitOfWork }

func (r customerRepository) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return domain.Customer{}, err
	}

	var c domain.Customer
	err = tx.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r customerRepository) GetAll(ctx context.Context) ([]domain.Customer, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, created_at
		FROM customers
		ORDER BY last_name, first_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return result, nil
}

func (r customerRepository) Add(c domain.Customer) error {
	return r.uow.stage(statement{
		query: `INSERT INTO customers (id, first_name, last_name, email, created_at) VALUES ($1,$2,$3,$4,$5)`,
		args:  []any{c.ID, c.FirstName, c.LastName, c.Email, c.CreatedAt},
	})
}

func (r customerRepository) Update(c domain.Customer) error {
	return r.uow.stage(statement{
		query:      `UPDATE customers SET first_name = $2, last_name = $3, email = $4 WHERE id = $1`,
		args:       []any{c.ID, c.FirstName, c.LastName, c.Email},
		onZeroRows: domain.ErrCustomerNotFound,
	})
}

func (r customerRepository) Remove(id string) error {
	return r.uow.stage(statement{
		query:        `DELETE FROM customers WHERE id = $1`,
		args:         []any{id},
		onZeroRows:   domain.ErrCustomerNotFound,
		onForeignKey: domain.ErrCustomerHasOrders,
	})
}

type productRepository struct{ uow *unitOfWork }

func (r productRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return domain.Product{}, err
	}

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, price, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r productRepository) GetAll(ctx context.Context) ([]domain.Product, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price, created_at
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (r productRepository) Add(p domain.Product) error {
	return r.uow.stage(statement{
		query: `INSERT INTO products (id, name, price, created_at) VALUES ($1,$2,$3,$4)`,
		args:  []any{p.ID, p.Name, p.Price, p.CreatedAt},
	})
}

func (r productRepository) Update(p domain.Product) error {
	return r.uow.stage(statement{
		query:      `UPDATE products SET name = $2, price = $3 WHERE id = $1`,
		args:       []any{p.ID, p.Name, p.Price},
		onZeroRows: domain.ErrProductNotFound,
	})
}

func (r productRepository) Remove(id string) error {
	return r.uow.stage(statement{
		query:        `DELETE FROM products WHERE id = $1`,
		args:         []any{id},
		onZeroRows:   domain.ErrProductNotFound,
		onForeignKey: domain.ErrProductInUse,
	})
}

type orderRepository struct{ uow *unitOfWork }

const selectOrders = `
	SELECT id, customer_id, order_date, version
	FROM orders
`

func (r orderRepository) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, false)
}

func (r orderRepository) GetByIDWithItems(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, true)
}

func (r orderRepository) get(ctx context.Context, id string, eager bool) (domain.Order, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return domain.Order{}, err
	}

	var o domain.Order
	err = tx.QueryRowContext(ctx, selectOrders+` WHERE id = $1`, id).
		Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	o.OrderDate = o.OrderDate.UTC()

	if eager {
		customer, err := customerRepository{uow: r.uow}.GetByID(ctx, o.CustomerID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("load order customer: %w", err)
		}
		o.Customer = &customer
	}

	items, err := loadItems(ctx, tx, `WHERE i.order_id = $1`, eager, id)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[id]
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	return o, nil
}

func (r orderRepository) GetAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, "", "")
}

func (r orderRepository) GetByCustomerID(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE customer_id = $1`, customerID)
}

func (r orderRepository) list(ctx context.Context, where, customerID string) ([]domain.Order, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return nil, err
	}

	var args []any
	itemsWhere := ""
	if where != "" {
		args = append(args, customerID)
		itemsWhere = `WHERE i.order_id IN (SELECT id FROM orders WHERE customer_id = $1)`
	}

	rows, err := tx.QueryContext(ctx, selectOrders+where+` ORDER BY order_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.Version); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		o.OrderDate = o.OrderDate.UTC()
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close order rows: %w", err)
	}

	items, err := loadItems(ctx, tx, itemsWhere, false, args...)
	if err != nil {
		return nil, err
	}
	for idx := range result {
		result[idx].Items = items[result[idx].ID]
		if result[idx].Items == nil {
			result[idx].Items = []domain.OrderItem{}
		}
	}
	return result, nil
}

// loadItems возвращает позиции, сгруппированные по заказу, в порядке вставки.
func loadItems(ctx context.Context, tx *sql.Tx, where string, eager bool, args ...any) (map[string][]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT i.order_id, i.product_id, i.quantity, i.unit_price, p.name, p.price, p.created_at
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		`+where+`
		ORDER BY i.order_id, i.line_seq
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem)
	for rows.Next() {
		var (
			item    domain.OrderItem
			product domain.Product
		)
		if err := rows.Scan(
			&item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice,
			&product.Name, &product.Price, &product.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if eager {
			product.ID = item.ProductID
			product.CreatedAt = product.CreatedAt.UTC()
			item.Product = &product
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

func (r orderRepository) ExistsForCustomer(ctx context.Context, customerID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)`, customerID)
}

func (r orderRepository) ExistsForProduct(ctx context.Context, productID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)`, productID)
}

func (r orderRepository) exists(ctx context.Context, query, id string) (bool, error) {
	tx, err := r.uow.reader()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check references: %w", err)
	}
	return exists, nil
}

func (r orderRepository) Add(o domain.Order) error {
	if err := r.uow.stage(statement{
		query:        `INSERT INTO orders (id, customer_id, order_date, version) VALUES ($1,$2,$3,$4)`,
		args:         []any{o.ID, o.CustomerID, o.OrderDate, o.Version},
		onForeignKey: domain.ErrReferenceMissing,
	}); err != nil {
		return err
	}
	for _, item := range o.Items {
		item.OrderID = o.ID
		if err := r.AddItem(item); err != nil {
			return err
		}
	}
	return nil
}

func (r orderRepository) AddItem(item domain.OrderItem) error {
	return r.uow.stage(statement{
		query:        `INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1,$2,$3,$4)`,
		args:         []any{item.OrderID, item.ProductID, item.Quantity, item.UnitPrice},
		onForeignKey: domain.ErrReferenceMissing,
	})
}

func (r orderRepository) UpdateItemQuantity(orderID, productID string, quantity int32) error {
	return r.uow.stage(statement{
		query:      `UPDATE order_items SET quantity = $3 WHERE order_id = $1 AND product_id = $2`,
		args:       []any{orderID, productID, quantity},
		onZeroRows: domain.ErrOrderItemNotFound,
	})
}

func (r orderRepository) RemoveItem(orderID, productID string) error {
	return r.uow.stage(statement{
		query:      `DELETE FROM order_items WHERE order_id = $1 AND product_id = $2`,
		args:       []any{orderID, productID},
		onZeroRows: domain.ErrOrderItemNotFound,
	})
}

// BumpVersion блокирует строку заказа до конца транзакции; параллельная
// транзакция с той же ожидаемой версией увидит 0 строк после нашего коммита.
func (r orderRepository) BumpVersion(orderID string, expected int64) error {
	return r.uow.stage(statement{
		query:      `UPDATE orders SET version = version + 1 WHERE id = $1 AND version = $2`,
		args:       []any{orderID, expected},
		onZeroRows: domain.ErrOrderVersionConflict,
	})
}

func (r orderRepository) Remove(id string) error {
	// Позиции удаляются явно, чтобы они вошли в число затронутых строк;
	// ON DELETE CASCADE страхует прочие пути удаления.
	if err := r.uow.stage(statement{
		query: `DELETE FROM order_items WHERE order_id = $1`,
		args:  []any{id},
	}); err != nil {
		return err
	}
	return r.uow.stage(statement{
		query:      `DELETE FROM orders WHERE id = $1`,
		args:       []any{id},
		onZeroRows: domain.ErrOrderNotFound,
	})
}

type outboxWriter struct{ uow *unitOfWork }

func (w outboxWriter) Enqueue(msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return w.uow.stage(statement{
		query: `
			INSERT INTO outbox_messages (
				id, aggregate_type, aggregate_id, event_type, payload,
				status, attempt_count, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,'pending',0,NOW(),NOW())
		`,
		args:      []any{msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload},
		uncounted: true,
	})
}

var (
	_ domain.CustomerRepository = customerRepository{}
	_ domain.ProductRepository  = productRepository{}
	_ domain.OrderRepository    = orderRepository{}
	_ domain.OutboxWriter       = outboxWriter{}
)
