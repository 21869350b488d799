package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Демонстрационный каталог с фиксированными идентификаторами.
var (
	demoCustomers = []domain.Customer{
		{ID: "11111111-1111-1111-1111-111111111111", FirstName: "John", LastName: "Doe", Email: "john.doe@example.com"},
		{ID: "22222222-2222-2222-2222-222222222222", FirstName: "Sarah", LastName: "Smith", Email: "sarah.smith@example.com"},
		{ID: "33333333-3333-3333-3333-333333333333", FirstName: "Michael", LastName: "Brown", Email: "michael.brown@example.com"},
	}
	demoProducts = []domain.Product{
		{ID: "a1a1a1a1-a1a1-a1a1-a1a1-a1a1a1a1a1a1", Name: "Laptop 15-inch", Price: decimal.RequireFromString("1200.00")},
		{ID: "b2b2b2b2-b2b2-b2b2-b2b2-b2b2b2b2b2b2", Name: "Wireless Mouse", Price: decimal.RequireFromString("25.50")},
		{ID: "c3c3c3c3-c3c3-c3c3-c3c3-c3c3c3c3c3c3", Name: "Keyboard", Price: decimal.RequireFromString("45.99")},
	}
	demoOrders = []domain.Order{
		demoOrder("d4d4d4d4-d4d4-d4d4-d4d4-d4d4d4d4d4d4", demoCustomers[0].ID, 10, demoProducts[0], 1),
		demoOrder("e5e5e5e5-e5e5-e5e5-e5e5-e5e5e5e5e5e5", demoCustomers[0].ID, 11, demoProducts[1], 2),
		demoOrder("f6f6f6f6-f6f6-f6f6-f6f6-f6f6f6f6f6f6", demoCustomers[1].ID, 12, demoProducts[2], 1),
	}
)

func demoOrder(id, customerID string, day int, product domain.Product, qty int32) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: customerID,
		OrderDate:  time.Date(2025, time.January, day, 0, 0, 0, 0, time.UTC),
		Version:    1,
		Items: []domain.OrderItem{{
			OrderID:   id,
			ProductID: product.ID,
			Quantity:  qty,
			UnitPrice: product.Price,
		}},
	}
}

// SeedDemoData заполняет пустое хранилище демонстрационными данными одним коммитом.
// Если клиенты уже есть, ничего не делает и возвращает false.
func (l *Ledger) SeedDemoData(ctx context.Context) (seeded bool, err error) {
	b := l.Customers.base
	ctx, finish := b.instrument(ctx, "seed_demo_data")
	defer func() { finish(err) }()

	err = b.write(ctx, "seed_demo_data", func(ctx context.Context, uow domain.UnitOfWork) error {
		existing, err := uow.Customers().GetAll(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errAlreadySeeded
		}

		created := b.timestamp()
		for _, c := range demoCustomers {
			c.CreatedAt = created
			if err := uow.Customers().Add(c); err != nil {
				return err
			}
		}
		for _, p := range demoProducts {
			p.CreatedAt = created
			if err := uow.Products().Add(p); err != nil {
				return err
			}
		}
		for _, o := range demoOrders {
			if err := uow.Orders().Add(o); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadySeeded) {
		b.cfg.logger.Info("demo data already present, skipping seed")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b.cfg.logger.WithField("customers", len(demoCustomers)).
		WithField("products", len(demoProducts)).
		WithField("orders", len(demoOrders)).
		Info("demo data seeded")
	return true, nil
}
