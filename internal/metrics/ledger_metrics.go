package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Результаты операций для label `result`.
const (
	ResultOK         = "ok"
	ResultValidation = "validation"
	ResultNotFound   = "not_found"
	ResultConstraint = "constraint"
	ResultConflict   = "version_conflict"
	ResultCanceled   = "canceled"
	ResultError      = "error"
)

// LedgerMetrics содержит метрики операций над клиентами, товарами и заказами.
type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rowsAffected *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// NewLedgerMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations grouped by operation and result.",
		}, []string{"operation", "result"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds, including the commit.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"})),
		rowsAffected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commit_rows_affected_total",
			Help: "Total number of rows affected by successful unit of work commits.",
		}, []string{"operation"})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_operations_in_flight",
			Help: "Number of ledger operations currently in progress.",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// Result сводит ошибку операции к значению label `result`.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case domain.IsValidation(err):
		return ResultValidation
	case domain.IsNotFound(err):
		return ResultNotFound
	case domain.IsVersionConflict(err):
		return ResultConflict
	case domain.IsConstraintViolation(err):
		return ResultConstraint
	case domain.IsCanceled(err):
		return ResultCanceled
	default:
		return ResultError
	}
}

// Start отмечает начало операции и возвращает функцию завершения.
func (m *LedgerMetrics) Start(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		m.operations.WithLabelValues(operation, Result(err)).Inc()
	}
}

// RecordRowsAffected добавляет число затронутых строк успешного коммита.
func (m *LedgerMetrics) RecordRowsAffected(operation string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.rowsAffected.WithLabelValues(operation).Add(float64(rows))
}
