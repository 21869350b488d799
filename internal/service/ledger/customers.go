package ledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
)

// CustomerService управляет клиентами.
type CustomerService struct {
	*base
	manager *orders.Manager
}

// CustomerInput — изменяемые поля клиента.
type CustomerInput struct {
	FirstName string
	LastName  string
	Email     string
}

func (in CustomerInput) apply(c domain.Customer) domain.Customer {
	c.FirstName = in.FirstName
	c.LastName = in.LastName
	c.Email = in.Email
	return c
}

// Create проверяет и сохраняет нового клиента. Дубликат email даёт ErrDuplicateEmail.
func (s *CustomerService) Create(ctx context.Context, in CustomerInput) (customer domain.Customer, err error) {
	ctx, finish := s.instrument(ctx, "create_customer")
	defer func() { finish(err) }()

	customer = in.apply(domain.Customer{ID: s.cfg.newID(), CreatedAt: s.timestamp()})
	if err := customer.Validate(); err != nil {
		return domain.Customer{}, err
	}

	err = s.write(ctx, "create_customer", func(_ context.Context, uow domain.UnitOfWork) error {
		return uow.Customers().Add(customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// Get возвращает клиента по идентификатору.
func (s *CustomerService) Get(ctx context.Context, id string) (customer domain.Customer, err error) {
	err = s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		customer, err = uow.Customers().GetByID(ctx, id)
		return err
	})
	return customer, err
}

// List возвращает всех клиентов.
func (s *CustomerService) List(ctx context.Context) (customers []domain.Customer, err error) {
	err = s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		customers, err = uow.Customers().GetAll(ctx)
		return err
	})
	return customers, err
}

// Update перезаписывает имя, фамилию и email. CreatedAt не меняется.
func (s *CustomerService) Update(ctx context.Context, id string, in CustomerInput) (customer domain.Customer, err error) {
	ctx, finish := s.instrument(ctx, "update_customer", attribute.String("customer.id", id))
	defer func() { finish(err) }()

	if err := in.apply(domain.Customer{}).Validate(); err != nil {
		return domain.Customer{}, err
	}

	err = s.write(ctx, "update_customer", func(ctx context.Context, uow domain.UnitOfWork) error {
		existing, err := uow.Customers().GetByID(ctx, id)
		if err != nil {
			return err
		}
		customer = in.apply(existing)
		return uow.Customers().Update(customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// Delete удаляет клиента, если на него не ссылаются заказы.
func (s *CustomerService) Delete(ctx context.Context, id string) error {
	return s.manager.DeleteCustomer(ctx, id)
}
