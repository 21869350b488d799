// Package app собирает сервис учёта продаж из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/salesledger/internal/health"
	"github.com/vladislavdragonenkov/salesledger/internal/metrics"
	"github.com/vladislavdragonenkov/salesledger/internal/service/ledger"
	"github.com/vladislavdragonenkov/salesledger/internal/service/reports"
	"github.com/vladislavdragonenkov/salesledger/internal/telemetry"
	"github.com/vladislavdragonenkov/salesledger/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/salesledger/internal/version"
)

// application — собранный, но ещё не запущенный сервис.
type application struct {
	cfg    Config
	logger *log.Entry

	registry  *prometheus.Registry
	telemetry *telemetry.Telemetry
	deps      runtimeDependencies
	ledger    *ledger.Ledger
	reports   *reports.Service
	messaging *messaging
	health    *health.Handler

	apiServer     *http.Server
	metricsServer *http.Server
	grpcServer    *grpc.Server
	grpcHealth    *grpchealth.Server
}

// Run собирает сервис и обслуживает запросы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version.Version(),
		Environment: cfg.Environment,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("component", "storage"))
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	a := &application{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		telemetry: tel,
		deps:      deps,
	}
	a.ledger = ledger.New(deps.uow,
		ledger.WithLogger(logger.WithField("component", "ledger")),
		ledger.WithMetrics(metrics.NewLedgerMetricsWithRegisterer(registry)),
		ledger.WithTracer(tel.Tracer("salesledger")),
	)
	a.reports = reports.NewService(deps.uow, logger.WithField("component", "reports"))

	if cfg.SeedDemoData {
		if _, err := a.ledger.SeedDemoData(ctx); err != nil {
			a.release()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}

	a.messaging, err = initMessaging(cfg, deps.outbox, a.ledger.Products, registry, logger.WithField("component", "messaging"))
	if err != nil {
		a.release()
		return nil, err
	}

	a.health = health.NewHandler(version.Version(), health.WithLogger(logger.WithField("component", "health")))
	a.health.Register("storage", health.NewPingChecker(deps.pinger))

	a.apiServer = newHTTPServer(httpapi.NewHandler(httpapi.Services{
		Customers: a.ledger.Customers,
		Products:  a.ledger.Products,
		Orders:    a.ledger.Orders,
		Reports:   a.reports,
	}, httpapi.Options{
		Logger:         logger.WithField("component", "http-api"),
		TracerProvider: tel.Provider(),
		RequestTimeout: cfg.RequestTimeout,
	}))
	a.metricsServer = newHTTPServer(newMetricsMux(registry, a.health))
	a.grpcServer, a.grpcHealth = newGRPCServer(registry, logger.WithField("component", "grpc"))
	return a, nil
}

// serve слушает все адреса и блокируется до отмены ctx или падения одного из серверов.
func (a *application) serve(ctx context.Context) error {
	listeners, err := a.listen()
	if err != nil {
		a.messaging.stop()
		a.release()
		return err
	}

	a.messaging.start(ctx)
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Infof("http api listens on %s", listeners.api.Addr())
		return serveHTTP(a.apiServer, listeners.api)
	})
	g.Go(func() error {
		a.logger.Infof("metrics and health checks on %s (/metrics, /healthz, /readyz, /livez)", listeners.metrics.Addr())
		return serveHTTP(a.metricsServer, listeners.metrics)
	})
	g.Go(func() error {
		a.logger.Infof("grpc health listens on %s", listeners.grpc.Addr())
		if err := a.grpcServer.Serve(listeners.grpc); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("stopping servers")
		a.shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type listeners struct {
	api, metrics, grpc net.Listener
}

func (a *application) listen() (listeners, error) {
	var (
		ls  listeners
		err error
	)
	closeAll := func() {
		for _, l := range []net.Listener{ls.api, ls.metrics, ls.grpc} {
			if l != nil {
				_ = l.Close()
			}
		}
	}
	if ls.api, err = net.Listen("tcp", a.cfg.HTTPAddr); err != nil {
		return listeners{}, fmt.Errorf("listen http api: %w", err)
	}
	if ls.metrics, err = net.Listen("tcp", a.cfg.MetricsAddr); err != nil {
		closeAll()
		return listeners{}, fmt.Errorf("listen metrics: %w", err)
	}
	if ls.grpc, err = net.Listen("tcp", a.cfg.GRPCAddr); err != nil {
		closeAll()
		return listeners{}, fmt.Errorf("listen grpc: %w", err)
	}
	return ls, nil
}

// shutdown гасит входящий трафик, затем фоновые обработчики, затем хранилище.
func (a *application) shutdown() {
	timeout := a.cfg.ShutdownTimeout
	stopGRPC(a.grpcServer, a.grpcHealth, timeout, a.logger)
	shutdownHTTP(a.apiServer, timeout, a.logger)
	shutdownHTTP(a.metricsServer, timeout, a.logger)
	a.messaging.stop()
	a.release()
	a.logger.Info("shutdown complete")
}

// release освобождает ресурсы, не связанные с серверами.
func (a *application) release() {
	a.deps.close(a.logger)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to flush traces")
	}
}
