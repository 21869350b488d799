package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ResultOK},
		{err: domain.NewValidationError([]error{domain.ErrEmailRequired}), want: ResultValidation},
		{err: domain.ErrOrderNotFound, want: ResultNotFound},
		{err: domain.ErrOrderVersionConflict, want: ResultConflict},
		{err: domain.ErrProductInUse, want: ResultConstraint},
		{err: fmt.Errorf("%w: %w", domain.ErrCanceled, context.Canceled), want: ResultCanceled},
		{err: errors.New("db down"), want: ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Result(tt.err); got != tt.want {
				t.Fatalf("Result() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLedgerMetrics_StartRecordsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetricsWithRegisterer(reg)

	m.Start("create_order")(nil)
	m.Start("create_order")(domain.ErrCustomerNotFound)
	m.RecordRowsAffected("create_order", 3)
	m.RecordRowsAffected("create_order", 0)

	if got := counterValue(t, m.operations, "create_order", ResultOK); got != 1 {
		t.Fatalf("expected 1 ok operation, got %v", got)
	}
	if got := counterValue(t, m.operations, "create_order", ResultNotFound); got != 1 {
		t.Fatalf("expected 1 not_found operation, got %v", got)
	}
	if got := counterValue(t, m.rowsAffected, "create_order"); got != 3 {
		t.Fatalf("expected 3 rows affected, got %v", got)
	}

	gauge := &dto.Metric{}
	if err := m.inFlight.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 0 {
		t.Fatalf("expected no operations in flight, got %v", gauge.GetGauge().GetValue())
	}
}

func TestLedgerMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewLedgerMetricsWithRegisterer(reg)
	second := NewLedgerMetricsWithRegisterer(reg)

	if first.operations != second.operations {
		t.Fatal("expected the same collector on re-registration")
	}
}

func TestLedgerMetrics_NilSafe(t *testing.T) {
	var m *LedgerMetrics
	m.Start("noop")(errors.New("ignored"))
	m.RecordRowsAffected("noop", 1)
}
