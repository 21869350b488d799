package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.uow == nil || deps.outbox == nil || deps.pinger == nil {
		t.Fatalf("memory dependencies must be initialized: %+v", deps)
	}
	if deps.closeFn != nil {
		t.Error("memory storage has nothing to close")
	}
	if err := deps.pinger.Ping(context.Background()); err != nil {
		t.Errorf("memory ping failed: %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LEDGER_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("LEDGER_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	if deps.uow == nil || deps.outbox == nil || deps.closeFn == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if err := deps.pinger.Ping(context.Background()); err != nil {
		t.Fatalf("postgres ping failed: %v", err)
	}
}
