package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

func beginForTest(t *testing.T, store *Store) domain.UnitOfWork {
	t.Helper()
	uow, err := store.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _ = uow.Rollback() })
	return uow
}

func seedForTest(t *testing.T, store *Store) {
	t.Helper()
	uow := beginForTest(t, store)
	now := time.Now().UTC().Truncate(time.Microsecond)
	steps := []error{
		uow.Customers().Add(domain.Customer{ID: "c1", FirstName: "John", LastName: "Doe", Email: "john@example.com", CreatedAt: now}),
		uow.Products().Add(domain.Product{ID: "p1", Name: "Laptop 15-inch", Price: decimal.RequireFromString("1200.00"), CreatedAt: now}),
		uow.Products().Add(domain.Product{ID: "p2", Name: "Wireless Mouse", Price: decimal.RequireFromString("25.50"), CreatedAt: now}),
		uow.Orders().Add(domain.Order{
			ID: "o1", CustomerID: "c1", OrderDate: now, Version: 1,
			Items: []domain.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("1200.00")}},
		}),
		uow.Outbox().Enqueue(domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder, AggregateID: "o1", EventType: "order.created", Payload: []byte(`{}`)}),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatalf("stage: %v", err)
		}
	}
	n, err := uow.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 affected rows without outbox, got %d", n)
	}
}

func TestUnitOfWork_PostgresCommitAndRead(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForTest(t, store)
	ctx := context.Background()

	uow := beginForTest(t, store)
	order, err := uow.Orders().GetByIDWithItems(ctx, "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Customer == nil || order.Customer.Email != "john@example.com" {
		t.Fatalf("expected eager customer, got %+v", order.Customer)
	}
	if len(order.Items) != 1 || order.Items[0].Product == nil || order.Items[0].Product.Name != "Laptop 15-inch" {
		t.Fatalf("expected eager product, got %+v", order.Items)
	}
	if !order.Total().Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("unexpected total %s", order.Total())
	}

	products, err := uow.Products().GetAll(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 2 || products[0].Name != "Laptop 15-inch" {
		t.Fatalf("expected products by name, got %+v", products)
	}

	stats, err := store.Outbox().Stats(ctx)
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected outbox message committed with the order, got %d", stats.PendingCount)
	}
}

func TestUnitOfWork_PostgresConstraintMapping(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForTest(t, store)
	ctx := context.Background()

	cases := []struct {
		name  string
		stage func(uow domain.UnitOfWork) error
		want  error
	}{
		{
			name: "duplicate email",
			stage: func(uow domain.UnitOfWork) error {
				return uow.Customers().Add(domain.Customer{ID: "c2", FirstName: "A", LastName: "B", Email: "john@example.com"})
			},
			want: domain.ErrDuplicateEmail,
		},
		{
			name: "duplicate product name",
			stage: func(uow domain.UnitOfWork) error {
				return uow.Products().Add(domain.Product{ID: "p3", Name: "Wireless Mouse", Price: decimal.NewFromInt(1)})
			},
			want: domain.ErrDuplicateProductName,
		},
		{
			name: "duplicate order line",
			stage: func(uow domain.UnitOfWork) error {
				return uow.Orders().AddItem(domain.OrderItem{OrderID: "o1", ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
			},
			want: domain.ErrDuplicateOrderItem,
		},
		{
			name:  "customer restrict",
			stage: func(uow domain.UnitOfWork) error { return uow.Customers().Remove("c1") },
			want:  domain.ErrCustomerHasOrders,
		},
		{
			name:  "product restrict",
			stage: func(uow domain.UnitOfWork) error { return uow.Products().Remove("p1") },
			want:  domain.ErrProductInUse,
		},
		{
			name: "missing reference",
			stage: func(uow domain.UnitOfWork) error {
				return uow.Orders().Add(domain.Order{ID: "o2", CustomerID: "nobody", OrderDate: time.Now().UTC(), Version: 1})
			},
			want: domain.ErrReferenceMissing,
		},
		{
			name:  "stale version",
			stage: func(uow domain.UnitOfWork) error { return uow.Orders().BumpVersion("o1", 7) },
			want:  domain.ErrOrderVersionConflict,
		},
		{
			name:  "missing item",
			stage: func(uow domain.UnitOfWork) error { return uow.Orders().RemoveItem("o1", "p2") },
			want:  domain.ErrOrderItemNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uow := beginForTest(t, store)
			if err := tc.stage(uow); err != nil {
				t.Fatalf("stage: %v", err)
			}
			_, err := uow.Commit(ctx)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUnitOfWork_PostgresCascadeAndAtomicity(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForTest(t, store)
	ctx := context.Background()

	failing := beginForTest(t, store)
	if err := failing.Products().Add(domain.Product{ID: "p3", Name: "Keyboard", Price: decimal.RequireFromString("45.99")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := failing.Customers().Remove("c1"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := failing.Commit(ctx); !domain.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}

	check := beginForTest(t, store)
	if _, err := check.Products().GetByID(ctx, "p3"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected rollback of the whole unit, got %v", err)
	}
	_ = check.Rollback()

	del := beginForTest(t, store)
	if err := del.Orders().Remove("o1"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	n, err := del.Commit(ctx)
	if err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected order and item deleted, got %d rows", n)
	}

	after := beginForTest(t, store)
	inUse, err := after.Orders().ExistsForProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if inUse {
		t.Fatal("expected items cascaded with order")
	}
}

func TestUnitOfWork_PostgresClosed(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	uow := beginForTest(t, store)
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("second rollback must be a no-op: %v", err)
	}
	if err := uow.Customers().Add(domain.Customer{ID: "c1"}); !errors.Is(err, domain.ErrUnitOfWorkClosed) {
		t.Fatalf("expected ErrUnitOfWorkClosed, got %v", err)
	}
	if _, err := uow.Customers().GetAll(context.Background()); !errors.Is(err, domain.ErrUnitOfWorkClosed) {
		t.Fatalf("expected ErrUnitOfWorkClosed on read, got %v", err)
	}
}
