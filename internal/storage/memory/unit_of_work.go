package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// unitOfWork копит изменения до Commit. Чтение идёт по зафиксированному состоянию Store.
type unitOfWork struct {
	store    *Store
	changes  []change
	messages []domain.OutboxMessage
	closed   bool
}

func newUnitOfWork(store *Store) *unitOfWork {
	return &unitOfWork{store: store}
}

func (u *unitOfWork) Customers() domain.CustomerRepository { return customerRepository{uow: u} }
func (u *unitOfWork) Products() domain.ProductRepository   { return productRepository{uow: u} }
func (u *unitOfWork) Orders() domain.OrderRepository       { return orderRepository{uow: u} }
func (u *unitOfWork) Outbox() domain.OutboxWriter          { return outboxWriter{uow: u} }

func (u *unitOfWork) stage(c change) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	u.changes = append(u.changes, c)
	return nil
}

// Commit применяет всё поставленное одной операцией над Store.
func (u *unitOfWork) Commit(ctx context.Context) (int, error) {
	if u.closed {
		return 0, domain.ErrUnitOfWorkClosed
	}
	u.closed = true
	changes, messages := u.changes, u.messages
	u.changes, u.messages = nil, nil

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return u.store.commit(changes, messages)
}

func (u *unitOfWork) Rollback() error {
	u.closed = true
	u.changes, u.messages = nil, nil
	return nil
}

type customerRepository struct{ uow *unitOfWork }

func (r customerRepository) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	c, ok := r.uow.store.customer(id)
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (r customerRepository) GetAll(ctx context.Context) ([]domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.uow.store.customers(), nil
}

func (r customerRepository) Add(c domain.Customer) error    { return r.uow.stage(insertCustomer(c)) }
func (r customerRepository) Update(c domain.Customer) error { return r.uow.stage(updateCustomer(c)) }
func (r customerRepository) Remove(id string) error         { return r.uow.stage(deleteCustomer(id)) }

type productRepository struct{ uow *unitOfWork }

func (r productRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p, ok := r.uow.store.product(id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r productRepository) GetAll(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.uow.store.products(), nil
}

func (r productRepository) Add(p domain.Product) error    { return r.uow.stage(insertProduct(p)) }
func (r productRepository) Update(p domain.Product) error { return r.uow.stage(updateProduct(p)) }
func (r productRepository) Remove(id string) error        { return r.uow.stage(deleteProduct(id)) }

type orderRepository struct{ uow *unitOfWork }

func (r orderRepository) get(ctx context.Context, id string, eager bool) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	order, ok := r.uow.store.order(id, eager)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r orderRepository) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, false)
}

func (r orderRepository) GetByIDWithItems(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, true)
}

func (r orderRepository) GetAll(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.uow.store.orders(nil), nil
}

func (r orderRepository) GetByCustomerID(ctx context.Context, customerID string) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.uow.store.orders(func(row orderRow) bool { return row.CustomerID == customerID }), nil
}

func (r orderRepository) ExistsForCustomer(ctx context.Context, customerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.uow.store.hasOrdersForCustomer(customerID), nil
}

func (r orderRepository) ExistsForProduct(ctx context.Context, productID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.uow.store.hasItemsForProduct(productID), nil
}

func (r orderRepository) Add(o domain.Order) error {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return r.uow.stage(insertOrder(o))
}

func (r orderRepository) AddItem(item domain.OrderItem) error {
	return r.uow.stage(insertItem(item))
}

func (r orderRepository) UpdateItemQuantity(orderID, productID string, quantity int32) error {
	return r.uow.stage(updateItemQuantity(orderID, productID, quantity))
}

func (r orderRepository) RemoveItem(orderID, productID string) error {
	return r.uow.stage(deleteItem(orderID, productID))
}

func (r orderRepository) BumpVersion(orderID string, expected int64) error {
	return r.uow.stage(bumpVersion(orderID, expected))
}

func (r orderRepository) Remove(id string) error {
	return r.uow.stage(deleteOrder(id))
}

type outboxWriter struct{ uow *unitOfWork }

// Enqueue ставит сообщение в outbox; оно станет pending только вместе с Commit.
func (w outboxWriter) Enqueue(msg domain.OutboxMessage) error {
	if w.uow.closed {
		return domain.ErrUnitOfWorkClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	w.uow.messages = append(w.uow.messages, msg)
	return nil
}

var (
	_ domain.UnitOfWork         = (*unitOfWork)(nil)
	_ domain.CustomerRepository = customerRepository{}
	_ domain.ProductRepository  = productRepository{}
	_ domain.OrderRepository    = orderRepository{}
	_ domain.OutboxWriter       = outboxWriter{}
)
