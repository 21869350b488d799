package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/app"
	"github.com/vladislavdragonenkov/salesledger/internal/telemetry"
	"github.com/vladislavdragonenkov/salesledger/internal/version"
)

// setupLogger настраивает формат, уровень и trace_id в записях logrus.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.AddHook(telemetry.TraceHook{})

	lvl := log.InfoLevel
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("LEDGER_LOG_LEVEL: %w", err)
		}
		lvl = parsed
	}
	log.SetLevel(lvl)
	return nil
}

func main() {
	showVersion := flag.Bool("version", false, "print build info and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := setupLogger(os.Getenv("LEDGER_LOG_LEVEL")); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}

	cfg, err := app.ConfigFromEnv(os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        cfg.KafkaEnabled(),
		"build":        version.String(),
	}).Info("starting ledger service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("ledger service stopped with error")
	}

	log.Info("ledger service stopped")
}
