package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.ScheduleInterval = time.Hour
	cfg.Events.FlushInterval = 10 * time.Millisecond
	return cfg
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	target, err := a.Orchestrator().CreateTarget(context.Background(), crawler.CrawlTarget{
		URL:        "https://acme.example/catalog",
		SupplierID: "acme",
		Selectors:  crawler.SelectorMap{Title: ".title"},
		Frequency:  crawler.FrequencyDaily,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/targets/"+target.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "acme.example")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithRedisLedgerAndLocalSnapshots(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Recovery.Ledger = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Snapshots.Backend = config.BackendLocal
	cfg.Snapshots.BaseDir = t.TempDir()

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NotNil(t, a.redis)
	require.NoError(t, a.Close(context.Background()))
	// Close is idempotent.
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildFailsWhenRedisIsUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Recovery.Ledger = config.BackendRedis
	cfg.Redis.Addr = addr

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "redis ping failed")
}

func TestRunServesUntilCanceled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
