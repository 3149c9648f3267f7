package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAdmitPacesConfiguredTarget(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultBurst: 1})
	l.Configure("target-a", 10) // one token every 100ms

	ctx := context.Background()
	require.NoError(t, l.Admit(ctx, "target-a"))

	start := time.Now()
	require.NoError(t, l.Admit(ctx, "target-a"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterTargetsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultBurst: 1})
	l.Configure("slow", 1)
	l.Configure("other", 1)

	ctx := context.Background()
	require.NoError(t, l.Admit(ctx, "slow"))

	start := time.Now()
	require.NoError(t, l.Admit(ctx, "other"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "other target must not wait on slow")
}

func TestLimiterUnconfiguredTargetIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Admit(ctx, "free"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterAdmitHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultBurst: 1})
	l.Configure("target-b", 0.1) // one token every 10s
	require.NoError(t, l.Admit(context.Background(), "target-b"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Admit(ctx, "target-b")
	require.Error(t, err)
}

func TestLimiterConfigureUpdatesRate(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultBurst: 1})
	l.Configure("target-c", 0.1)
	require.NoError(t, l.Admit(context.Background(), "target-c"))

	l.Configure("target-c", 0) // unlimited
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Admit(ctx, "target-c"))
}

func TestLimiterConcurrentAdmitters(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultBurst: 1})
	l.Configure("shared", 100)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit(context.Background(), "shared"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.False(t, errors.Is(err, context.Canceled))
	}
}
