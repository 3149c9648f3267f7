package redisledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/recovery"
)

func newTestLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ledger, err := New(client, cfg)
	require.NoError(t, err)
	return ledger
}

func TestLedgerAppendClearHistory(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t, Config{})
	ctx := context.Background()
	at := time.Date(2024, time.June, 3, 8, 30, 0, 0, time.UTC)

	n, err := ledger.Append(ctx, "t1", crawler.ErrorEntry{Message: "timeout", At: at})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = ledger.Append(ctx, "t1", crawler.ErrorEntry{Message: "503", At: at.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	unresolved, err := ledger.Unresolved(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, unresolved)

	require.NoError(t, ledger.Clear(ctx, "t1"))
	unresolved, err = ledger.Unresolved(ctx, "t1")
	require.NoError(t, err)
	require.Zero(t, unresolved)

	history, err := ledger.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "timeout", history[0].Message)
	require.True(t, history[1].At.Equal(at.Add(time.Minute)))
}

func TestLedgerTrimsHistory(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t, Config{MaxHistory: 2})
	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		_, err := ledger.Append(ctx, "t2", crawler.ErrorEntry{Message: msg, At: time.Now().UTC()})
		require.NoError(t, err)
	}
	history, err := ledger.History(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "b", history[0].Message)
	require.Equal(t, "c", history[1].Message)

	unresolved, err := ledger.Unresolved(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, 3, unresolved)
}

func TestLedgerDrivesRecoveryAlerts(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t, Config{Prefix: "test"})
	sys := recovery.New(ledger, recovery.Config{AlertThreshold: 5})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		sys.RecordError(ctx, "shared", errors.New("fetch failed"))
	}
	require.Len(t, sys.Alerts(), 1)

	sys.ClearErrors(ctx, "shared")
	n, err := sys.UnresolvedCount(ctx, "shared")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)
}
