package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, testConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.HTTPAddr = busy.Addr().String()

	err = Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen http api")
}

func TestApplication_HandlersOverSeededStore(t *testing.T) {
	cfg := testConfig()
	cfg.SeedDemoData = true

	a, err := newApplication(context.Background(), cfg, log.WithField("test", t.Name()))
	require.NoError(t, err)
	defer a.release()

	api := httptest.NewServer(a.apiServer.Handler)
	defer api.Close()
	ops := httptest.NewServer(a.metricsServer.Handler)
	defer ops.Close()

	status, body := get(t, api.URL+"/reports/sales-summary")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"revenue":"1296.99"`)

	resp, err := http.Post(api.URL+"/customers", "application/json",
		strings.NewReader(`{"first_name":"Ann","last_name":"Lee","email":"ann@example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	status, body = get(t, ops.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "ledger_operations_total")
	require.Contains(t, body, "go_goroutines")

	status, body = get(t, ops.URL+"/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"storage"`)

	status, body = get(t, ops.URL+"/readyz")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body)

	status, body = get(t, ops.URL+"/livez")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)
}

func TestApplication_ServeReportsGRPCHealth(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)

	a, err := newApplication(context.Background(), cfg, log.WithField("test", t.Name()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer checkCancel()
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 50*time.Millisecond)

	status, _ := get(t, "http://"+cfg.HTTPAddr+"/products")
	require.Equal(t, http.StatusOK, status)

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "serve returned %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
