// Package ledger собирает фасад сервисов поверх единицы работы и менеджера заказов.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/metrics"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
)

const tracerName = "github.com/vladislavdragonenkov/salesledger/internal/service/ledger"

// Ledger объединяет сервисы клиентов, товаров и заказов.
type Ledger struct {
	Customers *CustomerService
	Products  *ProductService
	Orders    *OrderService
}

type config struct {
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает фасад.
type Option func(*config)

// WithLogger задаёт logger для всех сервисов.
func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTracer задаёт tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) { c.tracer = tracer }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов новых сущностей.
func WithIDGenerator(newID func() string) Option {
	return func(c *config) { c.newID = newID }
}

// New собирает фасад. Все сервисы работают через одну фабрику единиц работы.
func New(uow domain.UnitOfWorkFactory, opts ...Option) *Ledger {
	cfg := config{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "ledger")
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}

	manager := orders.NewManager(uow,
		orders.WithLogger(cfg.logger.WithField("component", "order-manager")),
		orders.WithMetrics(cfg.metrics),
		orders.WithTracer(cfg.tracer),
		orders.WithClock(cfg.now),
		orders.WithIDGenerator(cfg.newID),
	)

	base := &base{uow: uow, cfg: cfg}
	return &Ledger{
		Customers: &CustomerService{base: base, manager: manager},
		Products:  &ProductService{base: base, manager: manager},
		Orders:    &OrderService{manager: manager},
	}
}

// base — общая часть сервисов простых сущностей.
type base struct {
	uow domain.UnitOfWorkFactory
	cfg config
}

func (b *base) timestamp() time.Time {
	return b.cfg.now().UTC().Truncate(time.Microsecond)
}

// instrument открывает span и метрику операции; завершение пишет лог по результату.
func (b *base) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := b.cfg.tracer.Start(ctx, "Ledger."+op, trace.WithAttributes(attrs...))
	done := b.cfg.metrics.Start(op)

	return ctx, func(err error) {
		defer span.End()
		done(err)

		entry := b.cfg.logger.WithContext(ctx).WithField("operation", op)
		for _, attr := range attrs {
			entry = entry.WithField(string(attr.Key), attr.Value.Emit())
		}
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
			entry.Debug("operation completed")
		case domain.IsValidation(err) || domain.IsNotFound(err) || domain.IsConstraintViolation(err) || domain.IsCanceled(err):
			span.RecordError(err)
			span.SetStatus(codes.Error, metrics.Result(err))
			entry.WithError(err).Warn("operation rejected")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, metrics.Result(err))
			entry.WithError(err).Error("operation failed")
		}
	}
}

// write выполняет fn в единице работы и фиксирует её один раз.
func (b *base) write(ctx context.Context, op string, fn func(context.Context, domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	uow, err := b.uow.Begin(ctx)
	if err != nil {
		return canceled(fmt.Errorf("begin unit of work: %w", err))
	}
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		return canceled(err)
	}
	rows, err := uow.Commit(ctx)
	if err != nil {
		return canceled(err)
	}
	b.cfg.metrics.RecordRowsAffected(op, rows)
	return nil
}

// read выполняет fn без коммита.
func (b *base) read(ctx context.Context, fn func(context.Context, domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	uow, err := b.uow.Begin(ctx)
	if err != nil {
		return canceled(fmt.Errorf("begin unit of work: %w", err))
	}
	defer func() { _ = uow.Rollback() }()
	return canceled(fn(ctx, uow))
}

func canceled(err error) error {
	if err == nil || domain.IsCanceled(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrCanceled, err)
	}
	return err
}

// errAlreadySeeded прерывает посев без коммита.
var errAlreadySeeded = errors.New("ledger already contains data")
