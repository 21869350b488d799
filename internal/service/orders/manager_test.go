package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/metrics"
	"github.com/vladislavdragonenkov/salesledger/internal/storage/memory"
)

// countingFactory считает открытые единицы работы и вызовы Commit.
type countingFactory struct {
	inner domain.UnitOfWorkFactory

	mu      sync.Mutex
	begins  int
	commits int
}

func (f *countingFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	uow, err := f.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return &countingUnitOfWork{UnitOfWork: uow, factory: f}, nil
}

func (f *countingFactory) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.commits
}

type countingUnitOfWork struct {
	domain.UnitOfWork
	factory *countingFactory
}

func (u *countingUnitOfWork) Commit(ctx context.Context) (int, error) {
	u.factory.mu.Lock()
	u.factory.commits++
	u.factory.mu.Unlock()
	return u.UnitOfWork.Commit(ctx)
}

type fixture struct {
	store   *memory.Store
	factory *countingFactory
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	factory := &countingFactory{inner: store}
	seq := 0
	manager := NewManager(factory,
		WithLogger(log.New().WithField("test", t.Name())),
		WithMetrics(metrics.NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())),
		WithClock(func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return "order-" + string(rune('0'+seq))
		}),
	)

	f := &fixture{store: store, factory: factory, manager: manager}
	f.seed(t)
	return f
}

// seed добавляет клиента C1 и товары P1 (10.00), P2 (20.00) напрямую через хранилище.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	uow, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Customers().Add(domain.Customer{ID: "C1", FirstName: "John", LastName: "Doe", Email: "john@example.com"}))
	require.NoError(t, uow.Products().Add(domain.Product{ID: "P1", Name: "Pen", Price: dec("10.00")}))
	require.NoError(t, uow.Products().Add(domain.Product{ID: "P2", Name: "Notebook", Price: dec("20.00")}))
	_, err = uow.Commit(context.Background())
	require.NoError(t, err)
}

func (f *fixture) resetCounts() {
	f.factory.mu.Lock()
	f.factory.begins, f.factory.commits = 0, 0
	f.factory.mu.Unlock()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestManager_OrderLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P2", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.True(t, order.Total().Equal(dec("50.00")), "total %s", order.Total())
	require.Equal(t, int64(1), order.Version)

	order, err = f.manager.RemoveItemFromOrder(ctx, order.ID, "P1")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.True(t, order.Total().Equal(dec("40.00")), "total %s", order.Total())

	stored, err := f.manager.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, stored.Total().Equal(dec("40.00")))
	require.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.Customer)
	require.Equal(t, "John", stored.Customer.FirstName)
	require.NotNil(t, stored.Items[0].Product)

	require.NoError(t, f.manager.DeleteOrder(ctx, order.ID))

	orders, err := f.manager.ListOrdersForCustomer(ctx, "C1")
	require.NoError(t, err)
	require.Empty(t, orders)

	uow, err := f.store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	products, err := uow.Products().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
}

func TestManager_CreateOrderSnapshotsPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{
		{ProductID: "P1", Quantity: 3},
		{ProductID: "P2", Quantity: 1, PriceOverride: decPtr("15.00")},
	})
	require.NoError(t, err)
	require.True(t, order.Items[0].UnitPrice.Equal(dec("10.00")))
	require.True(t, order.Items[1].UnitPrice.Equal(dec("15.00")))

	// Изменение цены товара не трогает уже зафиксированные позиции.
	uow, err := f.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Products().Update(domain.Product{ID: "P1", Name: "Pen", Price: dec("99.00")}))
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	stored, err := f.manager.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, stored.Items[0].UnitPrice.Equal(dec("10.00")))
	require.True(t, stored.Total().Equal(dec("45.00")))
}

func TestManager_CreateOrderMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)

	order, err := f.manager.CreateOrder(context.Background(), "C1", []LineRequest{
		{ProductID: "P1", Quantity: 1, PriceOverride: decPtr("8.00")},
		{ProductID: "P2", Quantity: 1},
		{ProductID: "P1", Quantity: 2, PriceOverride: decPtr("1.00")},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.Equal(t, "P1", order.Items[0].ProductID)
	require.Equal(t, int32(3), order.Items[0].Quantity)
	require.True(t, order.Items[0].UnitPrice.Equal(dec("8.00")))
}

func TestManager_CreateOrderEmptyLines(t *testing.T) {
	f := newFixture(t)

	order, err := f.manager.CreateOrder(context.Background(), "C1", nil)
	require.NoError(t, err)
	require.Empty(t, order.Items)
	require.True(t, order.Total().IsZero())
}

func TestManager_CreateOrderNotFoundLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resetCounts()

	_, err := f.manager.CreateOrder(ctx, "missing", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	_, err = f.manager.CreateOrder(ctx, "C1", []LineRequest{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, commits := f.factory.counts()
	require.Zero(t, commits, "not found must short-circuit before commit")

	all, err := f.manager.ListAllOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, f.store.Outbox().AllPending())
}

func TestManager_ValidationBeforeUnitOfWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resetCounts()

	_, err := f.manager.CreateOrder(ctx, "", []LineRequest{
		{ProductID: "", Quantity: 0},
		{ProductID: "P1", Quantity: 1, PriceOverride: decPtr("-1")},
	})
	require.True(t, domain.IsValidation(err))
	require.ErrorIs(t, err, domain.ErrCustomerIDRequired)
	require.ErrorIs(t, err, domain.ErrProductIDRequired)
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)
	require.ErrorIs(t, err, domain.ErrItemPriceInvalid)

	_, err = f.manager.CreateOrder(ctx, "C1", []LineRequest{
		{ProductID: "P1", Quantity: domain.MaxQuantity},
		{ProductID: "P1", Quantity: 1},
	})
	require.ErrorIs(t, err, domain.ErrItemQtyTooLarge)

	_, err = f.manager.SetItemQuantity(ctx, "order-1", "P1", 0)
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	_, err = f.manager.AddItemToOrder(ctx, "", LineRequest{ProductID: "P1", Quantity: 1, PriceOverride: decPtr("1.001")})
	require.ErrorIs(t, err, domain.ErrOrderIDRequired)
	require.ErrorIs(t, err, domain.ErrPriceScale)

	begins, commits := f.factory.counts()
	require.Zero(t, begins, "validation must not touch the unit of work")
	require.Zero(t, commits)
}

func TestManager_AddItemMergesIntoExistingLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1, PriceOverride: decPtr("9.00")}})
	require.NoError(t, err)

	f.resetCounts()
	order, err = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "P1", Quantity: 4, PriceOverride: decPtr("1.00")})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, int32(5), order.Items[0].Quantity)
	require.True(t, order.Items[0].UnitPrice.Equal(dec("9.00")), "snapshot must not change")

	order, err = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "P2", Quantity: 1})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.True(t, order.Items[1].UnitPrice.Equal(dec("20.00")))
	require.Equal(t, int64(3), order.Version)

	begins, commits := f.factory.counts()
	require.Equal(t, 2, begins)
	require.Equal(t, 2, commits, "exactly one commit per operation")

	_, err = f.manager.AddItemToOrder(ctx, "nope", LineRequest{ProductID: "P1", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "nope", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "P1", Quantity: domain.MaxQuantity})
	require.ErrorIs(t, err, domain.ErrItemQtyTooLarge)
}

func TestManager_SetAndRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	order, err = f.manager.SetItemQuantity(ctx, order.ID, "P1", 7)
	require.NoError(t, err)
	require.Equal(t, int32(7), order.Items[0].Quantity)
	require.True(t, order.Total().Equal(dec("70.00")))

	_, err = f.manager.SetItemQuantity(ctx, order.ID, "P2", 2)
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)

	_, err = f.manager.RemoveItemFromOrder(ctx, order.ID, "P2")
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
	require.True(t, domain.IsNotFound(err))

	_, err = f.manager.RemoveItemFromOrder(ctx, "missing", "P1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestManager_DeleteRestrictedByReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	err = f.manager.DeleteCustomer(ctx, "C1")
	require.ErrorIs(t, err, domain.ErrCustomerHasOrders)
	require.True(t, domain.IsConstraintViolation(err))

	f.resetCounts()
	err = f.manager.DeleteProduct(ctx, "P1")
	require.ErrorIs(t, err, domain.ErrProductInUse)
	_, commits := f.factory.counts()
	require.Zero(t, commits, "referenced product is rejected before commit")

	// P2 ни в одном заказе не встречается.
	require.NoError(t, f.manager.DeleteProduct(ctx, "P2"))

	require.NoError(t, f.manager.DeleteOrder(ctx, order.ID))
	require.NoError(t, f.manager.DeleteProduct(ctx, "P1"))
	require.NoError(t, f.manager.DeleteCustomer(ctx, "C1"))

	require.ErrorIs(t, f.manager.DeleteCustomer(ctx, "C1"), domain.ErrCustomerNotFound)
	require.ErrorIs(t, f.manager.DeleteProduct(ctx, "P1"), domain.ErrProductNotFound)
	require.ErrorIs(t, f.manager.DeleteOrder(ctx, order.ID), domain.ErrOrderNotFound)
}

func TestManager_ListOrdersForUnknownCustomer(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ListOrdersForCustomer(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestManager_ConcurrentAddsNeverDropLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", nil)
	require.NoError(t, err)

	products := []string{"P1", "P2"}
	errs := make([]error, len(products))
	var wg sync.WaitGroup
	for idx, productID := range products {
		wg.Add(1)
		go func(idx int, productID string) {
			defer wg.Done()
			_, errs[idx] = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: productID, Quantity: 1})
		}(idx, productID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, domain.IsVersionConflict(err), "unexpected error: %v", err)
	}
	require.GreaterOrEqual(t, succeeded, 1)

	stored, err := f.manager.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, succeeded, "every successful add must be persisted")
	require.Equal(t, int64(1+succeeded), stored.Version)
}

// staleFactory подсовывает конкурирующий коммит между чтением и коммитом.
type staleFactory struct {
	inner  domain.UnitOfWorkFactory
	before func()
}

func (f *staleFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	uow, err := f.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &staleUnitOfWork{UnitOfWork: uow, before: f.before}, nil
}

type staleUnitOfWork struct {
	domain.UnitOfWork
	before func()
}

func (u *staleUnitOfWork) Commit(ctx context.Context) (int, error) {
	if u.before != nil {
		u.before()
	}
	return u.UnitOfWork.Commit(ctx)
}

func TestManager_StaleReadFailsCleanly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	racing := NewManager(&staleFactory{
		inner: f.store,
		before: func() {
			_, err := f.manager.SetItemQuantity(ctx, order.ID, "P1", 5)
			require.NoError(t, err)
		},
	}, WithLogger(log.New().WithField("test", "stale")))

	_, err = racing.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "P2", Quantity: 1})
	require.True(t, domain.IsVersionConflict(err), "expected version conflict, got %v", err)

	stored, err := f.manager.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1, "losing operation must not leave partial state")
	require.Equal(t, int32(5), stored.Items[0].Quantity)
}

func TestManager_DeleteCustomerRacingOrderRejectedByStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	racing := NewManager(&staleFactory{
		inner: f.store,
		before: func() {
			_, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
			require.NoError(t, err)
		},
	}, WithLogger(log.New().WithField("test", "racing-delete")))

	err := racing.DeleteCustomer(ctx, "C1")
	require.ErrorIs(t, err, domain.ErrCustomerHasOrders)

	orders, err := f.manager.ListOrdersForCustomer(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestManager_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.True(t, domain.IsCanceled(err), "got %v", err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestManager_OutboxEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.manager.CreateOrder(ctx, "C1", []LineRequest{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	_, err = f.manager.AddItemToOrder(ctx, order.ID, LineRequest{ProductID: "P2", Quantity: 1})
	require.NoError(t, err)
	_, err = f.manager.SetItemQuantity(ctx, order.ID, "P2", 3)
	require.NoError(t, err)
	_, err = f.manager.RemoveItemFromOrder(ctx, order.ID, "P1")
	require.NoError(t, err)
	require.NoError(t, f.manager.DeleteOrder(ctx, order.ID))

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 5)

	want := []domain.OrderEventType{
		domain.OrderEventCreated,
		domain.OrderEventItemAdded,
		domain.OrderEventQuantityChanged,
		domain.OrderEventItemRemoved,
		domain.OrderEventDeleted,
	}
	for idx, msg := range pending {
		require.Equal(t, string(want[idx]), msg.EventType)
		require.Equal(t, order.ID, msg.AggregateID)

		var event domain.OrderEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, want[idx], event.Type)
	}

	var last domain.OrderEvent
	require.NoError(t, json.Unmarshal(pending[4].Payload, &last))
	require.True(t, last.Total.Equal(dec("60.00")), "delete event carries final snapshot, got %s", last.Total)
}
