package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/salesledger/internal/storage/postgres"
)

func noEnv(string) string { return "" }

type fakeMigrator struct {
	calls []string
	state postgres.MigrationState
	err   error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up")
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down")
	return f.err
}

func (f *fakeMigrator) MigrationState(context.Context) (postgres.MigrationState, error) {
	f.calls = append(f.calls, "status")
	return f.state, nil
}

func (f *fakeMigrator) Close() error { return nil }

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-direction", " DOWN ", "-steps", "2"}, func(key string) string {
		if key == "LEDGER_POSTGRES_DSN" {
			return " postgres://ledger@localhost/ledger "
		}
		return ""
	})
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://ledger@localhost/ledger" {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = parseOptions([]string{"-dsn", "postgres://flag"}, func(string) string { return "postgres://env" })
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "up" {
		t.Fatalf("flag must win over env: %+v", opts)
	}
}

func TestParseOptions_Errors(t *testing.T) {
	testCases := map[string][]string{
		"missing dsn":      {"-direction", "up"},
		"bad direction":    {"-direction", "sideways", "-dsn", "postgres://x"},
		"negative steps":   {"-steps", "-1", "-dsn", "postgres://x"},
		"unknown argument": {"-force", "-dsn", "postgres://x"},
	}
	for name, args := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := parseOptions(args, noEnv)
			if !errors.Is(err, errUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	m := &fakeMigrator{state: postgres.MigrationState{Version: 1, Applied: 1, Pending: []string{"0002_indexes"}}}
	var out bytes.Buffer

	if err := execute(context.Background(), m, options{direction: "up"}, &out); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if strings.Join(m.calls, ",") != "up,status" {
		t.Errorf("unexpected calls %v", m.calls)
	}
	if !strings.Contains(out.String(), "version=1 applied=1 pending=1") || !strings.Contains(out.String(), "0002_indexes") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestExecute_StatusOnly(t *testing.T) {
	m := &fakeMigrator{}
	if err := execute(context.Background(), m, options{direction: "status"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if strings.Join(m.calls, ",") != "status" {
		t.Errorf("status must not migrate, calls %v", m.calls)
	}
}

func TestExecute_PropagatesFailure(t *testing.T) {
	m := &fakeMigrator{err: errors.New("lock timeout")}
	err := execute(context.Background(), m, options{direction: "down", steps: 1}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "migrate down failed") {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LEDGER_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("LEDGER_POSTGRES_TEST_DSN is not set")
	}
	var out bytes.Buffer
	if err := run([]string{"-direction", "up", "-dsn", dsn}, noEnv, &out); err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out.String(), "pending=0") {
		t.Errorf("expected no pending migrations, got %q", out.String())
	}
}
