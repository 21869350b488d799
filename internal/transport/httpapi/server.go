// Package httpapi публикует фасад учёта продаж как JSON API поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/ledger"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
	"github.com/vladislavdragonenkov/salesledger/internal/service/reports"
)

// Customers — операции над клиентами, нужные API.
type Customers interface {
	Create(ctx context.Context, in ledger.CustomerInput) (domain.Customer, error)
	Get(ctx context.Context, id string) (domain.Customer, error)
	List(ctx context.Context) ([]domain.Customer, error)
	Update(ctx context.Context, id string, in ledger.CustomerInput) (domain.Customer, error)
	Delete(ctx context.Context, id string) error
}

// Products — операции над каталогом.
type Products interface {
	Create(ctx context.Context, in ledger.ProductInput) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	Update(ctx context.Context, id string, in ledger.ProductInput) (domain.Product, error)
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (domain.Product, error)
	Delete(ctx context.Context, id string) error
}

// Orders — операции над заказами.
type Orders interface {
	Create(ctx context.Context, customerID string, lines []orders.LineRequest) (domain.Order, error)
	AddItem(ctx context.Context, orderID string, line orders.LineRequest) (domain.Order, error)
	SetItemQuantity(ctx context.Context, orderID, productID string, quantity int32) (domain.Order, error)
	RemoveItem(ctx context.Context, orderID, productID string) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
}

// Reports — отчёты по продажам.
type Reports interface {
	SalesSummary(ctx context.Context) (reports.SalesSummary, error)
	TopCustomers(ctx context.Context, limit int) ([]reports.CustomerStat, error)
	TopProducts(ctx context.Context, limit int) ([]reports.ProductStat, error)
}

// Services — зависимости API.
type Services struct {
	Customers Customers
	Products  Products
	Orders    Orders
	Reports   Reports
}

// Options настраивают handler.
type Options struct {
	Logger *log.Entry
	// TracerProvider используется otelhttp; nil — глобальный провайдер.
	TracerProvider trace.TracerProvider
	// RequestTimeout ограничивает обработку одного запроса; 0 — без ограничения.
	RequestTimeout time.Duration
}

type api struct {
	Services
	logger *log.Entry
}

// NewHandler собирает chi router с middleware и оборачивает его в otelhttp.
func NewHandler(services Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	a := &api{Services: services, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	}

	r.Route("/customers", func(r chi.Router) {
		r.Get("/", a.listCustomers)
		r.Post("/", a.createCustomer)
		r.Get("/{id}", a.getCustomer)
		r.Put("/{id}", a.updateCustomer)
		r.Delete("/{id}", a.deleteCustomer)
		r.Get("/{id}/orders", a.listCustomerOrders)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", a.listProducts)
		r.Post("/", a.createProduct)
		r.Get("/{id}", a.getProduct)
		r.Put("/{id}", a.updateProduct)
		r.Patch("/{id}/price", a.updateProductPrice)
		r.Delete("/{id}", a.deleteProduct)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", a.listOrders)
		r.Post("/", a.createOrder)
		r.Get("/{id}", a.getOrder)
		r.Delete("/{id}", a.deleteOrder)
		r.Post("/{id}/items", a.addOrderItem)
		r.Put("/{id}/items/{productID}", a.setOrderItemQuantity)
		r.Delete("/{id}/items/{productID}", a.removeOrderItem)
	})
	r.Route("/reports", func(r chi.Router) {
		r.Get("/sales-summary", a.salesSummary)
		r.Get("/top-customers", a.topCustomers)
		r.Get("/top-products", a.topProducts)
	})

	otelOpts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routePattern(r)
		}),
		otelhttp.WithMetricAttributesFn(func(r *http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("http.route", routePattern(r))}
		}),
	}
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	return otelhttp.NewHandler(r, "ledger-http", otelOpts...)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// requestLogger пишет одну строку на запрос после ответа.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithContext(r.Context()).WithFields(log.Fields{
				"method":      r.Method,
				"route":       routePattern(r),
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			})
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				entry.Error("http request")
			case ww.Status() >= http.StatusBadRequest:
				entry.Warn("http request")
			default:
				entry.Debug("http request")
			}
		})
	}
}
