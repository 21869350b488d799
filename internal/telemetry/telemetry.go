// Package telemetry настраивает OpenTelemetry tracing для сервиса.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config описывает экспорт трейсов.
type Config struct {
	// Endpoint — адрес OTLP gRPC collector (host:port). Пустое значение отключает экспорт.
	Endpoint    string
	ServiceName string
	Version     string
	Environment string
	// SampleRatio — доля сэмплируемых трейсов; 0 означает "все".
	SampleRatio float64
}

// Telemetry владеет tracer provider и завершает его при остановке.
type Telemetry struct {
	provider  *sdktrace.TracerProvider
	exporting bool
}

// Setup создаёт tracer provider и делает его глобальным вместе с W3C-пропагаторами.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("telemetry: service name is required")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.AlwaysSample())
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	exporting := false
	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		exporting = true
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.WithFields(log.Fields{
		"service":   cfg.ServiceName,
		"endpoint":  cfg.Endpoint,
		"exporting": exporting,
	}).Info("tracing initialized")

	return &Telemetry{provider: provider, exporting: exporting}, nil
}

// Tracer возвращает именованный tracer из провайдера.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

// Provider отдаёт провайдер, например для otelhttp.WithTracerProvider.
func (t *Telemetry) Provider() trace.TracerProvider {
	return t.provider
}

// Exporting сообщает, настроен ли экспорт во внешний collector.
func (t *Telemetry) Exporting() bool {
	return t.exporting
}

// Shutdown сбрасывает буфер спанов и останавливает провайдер.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
