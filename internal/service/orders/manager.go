package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/salesledger/internal/service/orders"

// Manager управляет агрегатом заказа и удалением связанных с ним сущностей.
// Каждая операция использует одну единицу работы и фиксирует её не более одного раза.
// Собственных блокировок у Manager нет: согласованность обеспечивает хранилище.
type Manager struct {
	uow     domain.UnitOfWorkFactory
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics включает prometheus-метрики операций.
func WithMetrics(metrics *metrics.LedgerMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer задаёт tracer; по умолчанию используется глобальный провайдер otel.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов (для тестов).
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// NewManager создаёт Manager поверх фабрики единиц работы.
func NewManager(uow domain.UnitOfWorkFactory, opts ...Option) *Manager {
	m := &Manager{
		uow:   uow,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "order-manager")
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	return m
}

// CreateOrder создаёт заказ со всеми позициями одним коммитом.
// Повторы одного товара схлопываются в одну позицию. Пустой список позиций допустим.
func (m *Manager) CreateOrder(ctx context.Context, customerID string, lines []LineRequest) (order domain.Order, err error) {
	ctx, finish := m.trace(ctx, "create_order", attribute.String("customer.id", customerID), attribute.Int("order.lines", len(lines)))
	defer func() { finish(err) }()

	var errs []error
	if customerID == "" {
		errs = append(errs, domain.ErrCustomerIDRequired)
	}
	merged, mergeErr := mergeLines(lines)
	errs = append(errs, unwrapViolations(mergeErr)...)
	if err := domain.NewValidationError(errs); err != nil {
		return domain.Order{}, err
	}

	err = m.mutate(ctx, "create_order", func(ctx context.Context, uow domain.UnitOfWork) error {
		customer, err := uow.Customers().GetByID(ctx, customerID)
		if err != nil {
			return err
		}

		order = domain.Order{
			ID:         m.newID(),
			CustomerID: customer.ID,
			OrderDate:  m.timestamp(),
			Version:    1,
			Items:      make([]domain.OrderItem, 0, len(merged)),
			Customer:   &customer,
		}
		for _, line := range merged {
			product, err := uow.Products().GetByID(ctx, line.ProductID)
			if err != nil {
				return err
			}
			order.Items = append(order.Items, domain.OrderItem{
				OrderID:   order.ID,
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: snapshotPrice(line.PriceOverride, product),
				Product:   &product,
			})
		}

		if err := uow.Orders().Add(order); err != nil {
			return err
		}
		return m.enqueue(uow, domain.OrderEventCreated, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// AddItemToOrder добавляет товар в заказ. Если позиция с этим товаром уже есть,
// её количество увеличивается, а снимок цены (и PriceOverride запроса) не меняется.
func (m *Manager) AddItemToOrder(ctx context.Context, orderID string, line LineRequest) (order domain.Order, err error) {
	ctx, finish := m.trace(ctx, "add_item", attribute.String("order.id", orderID), attribute.String("product.id", line.ProductID))
	defer func() { finish(err) }()

	errs := line.violations()
	if orderID == "" {
		errs = append([]error{domain.ErrOrderIDRequired}, errs...)
	}
	if err := domain.NewValidationError(dedupe(errs)); err != nil {
		return domain.Order{}, err
	}

	err = m.mutate(ctx, "add_item", func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err = uow.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		product, err := uow.Products().GetByID(ctx, line.ProductID)
		if err != nil {
			return err
		}

		if err := uow.Orders().BumpVersion(order.ID, order.Version); err != nil {
			return err
		}

		if idx := order.FindItem(product.ID); idx >= 0 {
			qty, err := addQuantity(order.Items[idx].Quantity, line.Quantity)
			if err != nil {
				return err
			}
			if err := uow.Orders().UpdateItemQuantity(order.ID, product.ID, qty); err != nil {
				return err
			}
			order.Items[idx].Quantity = qty
		} else {
			item := domain.OrderItem{
				OrderID:   order.ID,
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: snapshotPrice(line.PriceOverride, product),
			}
			if err := uow.Orders().AddItem(item); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
		}
		order.Version++
		return m.enqueue(uow, domain.OrderEventItemAdded, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// SetItemQuantity задаёт количество существующей позиции.
func (m *Manager) SetItemQuantity(ctx context.Context, orderID, productID string, quantity int32) (order domain.Order, err error) {
	ctx, finish := m.trace(ctx, "set_item_quantity", attribute.String("order.id", orderID), attribute.String("product.id", productID))
	defer func() { finish(err) }()

	if err := validateItemKey(orderID, productID, quantity < 1); err != nil {
		return domain.Order{}, err
	}

	err = m.mutate(ctx, "set_item_quantity", func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err = uow.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		idx := order.FindItem(productID)
		if idx < 0 {
			return domain.ErrOrderItemNotFound
		}

		if err := uow.Orders().BumpVersion(order.ID, order.Version); err != nil {
			return err
		}
		if err := uow.Orders().UpdateItemQuantity(order.ID, productID, quantity); err != nil {
			return err
		}
		order.Items[idx].Quantity = quantity
		order.Version++
		return m.enqueue(uow, domain.OrderEventQuantityChanged, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// RemoveItemFromOrder удаляет ровно одну позицию заказа.
func (m *Manager) RemoveItemFromOrder(ctx context.Context, orderID, productID string) (order domain.Order, err error) {
	ctx, finish := m.trace(ctx, "remove_item", attribute.String("order.id", orderID), attribute.String("product.id", productID))
	defer func() { finish(err) }()

	if err := validateItemKey(orderID, productID, false); err != nil {
		return domain.Order{}, err
	}

	err = m.mutate(ctx, "remove_item", func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err = uow.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		idx := order.FindItem(productID)
		if idx < 0 {
			return domain.ErrOrderItemNotFound
		}

		if err := uow.Orders().BumpVersion(order.ID, order.Version); err != nil {
			return err
		}
		if err := uow.Orders().RemoveItem(order.ID, productID); err != nil {
			return err
		}
		order.Items = append(order.Items[:idx:idx], order.Items[idx+1:]...)
		order.Version++
		return m.enqueue(uow, domain.OrderEventItemRemoved, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// DeleteOrder удаляет заказ вместе с позициями. Клиент и товары не меняются.
func (m *Manager) DeleteOrder(ctx context.Context, orderID string) (err error) {
	ctx, finish := m.trace(ctx, "delete_order", attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	if orderID == "" {
		return domain.NewValidationError([]error{domain.ErrOrderIDRequired})
	}

	return m.mutate(ctx, "delete_order", func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := uow.Orders().Remove(order.ID); err != nil {
			return err
		}
		return m.enqueue(uow, domain.OrderEventDeleted, order)
	})
}

// DeleteCustomer удаляет клиента. Если на него ссылается хотя бы один заказ,
// операция завершается ErrCustomerHasOrders без коммита. Параллельно созданный
// заказ отсекается уже хранилищем при коммите с той же ошибкой.
func (m *Manager) DeleteCustomer(ctx context.Context, customerID string) (err error) {
	ctx, finish := m.trace(ctx, "delete_customer", attribute.String("customer.id", customerID))
	defer func() { finish(err) }()

	if customerID == "" {
		return domain.NewValidationError([]error{domain.ErrCustomerIDRequired})
	}

	return m.mutate(ctx, "delete_customer", func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Customers().GetByID(ctx, customerID); err != nil {
			return err
		}
		referenced, err := uow.Orders().ExistsForCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if referenced {
			return domain.ErrCustomerHasOrders
		}
		return uow.Customers().Remove(customerID)
	})
}

// DeleteProduct удаляет товар. Если он есть в позициях заказов, операция
// завершается ErrProductInUse; хранилище повторяет ту же проверку при коммите.
func (m *Manager) DeleteProduct(ctx context.Context, productID string) (err error) {
	ctx, finish := m.trace(ctx, "delete_product", attribute.String("product.id", productID))
	defer func() { finish(err) }()

	if productID == "" {
		return domain.NewValidationError([]error{domain.ErrProductIDRequired})
	}

	return m.mutate(ctx, "delete_product", func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Products().GetByID(ctx, productID); err != nil {
			return err
		}
		referenced, err := uow.Orders().ExistsForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if referenced {
			return domain.ErrProductInUse
		}
		return uow.Products().Remove(productID)
	})
}

// GetOrder возвращает заказ с клиентом и товарами позиций.
func (m *Manager) GetOrder(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, finish := m.trace(ctx, "get_order", attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	err = m.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err = uow.Orders().GetByIDWithItems(ctx, orderID)
		return err
	})
	return order, err
}

// ListOrdersForCustomer возвращает заказы клиента по дате; неизвестный клиент — NotFound.
func (m *Manager) ListOrdersForCustomer(ctx context.Context, customerID string) (orders []domain.Order, err error) {
	ctx, finish := m.trace(ctx, "list_customer_orders", attribute.String("customer.id", customerID))
	defer func() { finish(err) }()

	err = m.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Customers().GetByID(ctx, customerID); err != nil {
			return err
		}
		orders, err = uow.Orders().GetByCustomerID(ctx, customerID)
		return err
	})
	return orders, err
}

// ListAllOrders возвращает все заказы с позициями.
func (m *Manager) ListAllOrders(ctx context.Context) (orders []domain.Order, err error) {
	ctx, finish := m.trace(ctx, "list_orders")
	defer func() { finish(err) }()

	err = m.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		orders, err = uow.Orders().GetAll(ctx)
		return err
	})
	return orders, err
}

// mutate выполняет fn в новой единице работы и фиксирует её ровно один раз.
// Если fn вернула ошибку, коммит не вызывается и изменения отбрасываются.
func (m *Manager) mutate(ctx context.Context, op string, fn func(context.Context, domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	uow, err := m.uow.Begin(ctx)
	if err != nil {
		return canceled(fmt.Errorf("begin unit of work: %w", err))
	}
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		return canceled(err)
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	rows, err := uow.Commit(ctx)
	if err != nil {
		return canceled(err)
	}
	m.metrics.RecordRowsAffected(op, rows)
	return nil
}

// read выполняет только чтения; единица работы откатывается.
func (m *Manager) read(ctx context.Context, fn func(context.Context, domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	uow, err := m.uow.Begin(ctx)
	if err != nil {
		return canceled(fmt.Errorf("begin unit of work: %w", err))
	}
	defer func() { _ = uow.Rollback() }()

	return canceled(fn(ctx, uow))
}

func (m *Manager) enqueue(uow domain.UnitOfWork, eventType domain.OrderEventType, order domain.Order) error {
	payload, err := json.Marshal(domain.NewOrderEvent(eventType, order, m.timestamp()))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return uow.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	})
}

// trace открывает span и возвращает функцию, завершающую span, метрики и лог операции.
func (m *Manager) trace(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "OrderManager."+op, trace.WithAttributes(attrs...))
	done := m.metrics.Start(op)

	return ctx, func(err error) {
		defer span.End()
		done(err)

		entry := m.logger.WithContext(ctx).WithField("operation", op)
		for _, attr := range attrs {
			entry = entry.WithField(string(attr.Key), attr.Value.Emit())
		}

		if err == nil {
			span.SetStatus(codes.Ok, "")
			entry.Debug("operation completed")
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.Result(err))
		if expected(err) {
			entry.WithError(err).Warn("operation rejected")
			return
		}
		entry.WithError(err).Error("operation failed")
	}
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

func snapshotPrice(override *decimal.Decimal, product domain.Product) decimal.Decimal {
	if override != nil {
		return *override
	}
	return product.Price
}

func validateItemKey(orderID, productID string, badQuantity bool) error {
	var errs []error
	if orderID == "" {
		errs = append(errs, domain.ErrOrderIDRequired)
	}
	if productID == "" {
		errs = append(errs, domain.ErrProductIDRequired)
	}
	if badQuantity {
		errs = append(errs, domain.ErrItemQtyInvalid)
	}
	return domain.NewValidationError(errs)
}

// canceled помечает ошибки контекста как ErrCanceled.
func canceled(err error) error {
	if err == nil || domain.IsCanceled(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrCanceled, err)
	}
	return err
}

// expected отделяет отказы бизнес-правил от сбоев инфраструктуры.
func expected(err error) bool {
	return domain.IsValidation(err) || domain.IsNotFound(err) ||
		domain.IsConstraintViolation(err) || domain.IsCanceled(err)
}
