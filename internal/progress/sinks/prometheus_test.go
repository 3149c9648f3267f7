package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{Kind: progress.KindCrawlStart, TargetID: "t-1", JobID: "j-1", TS: now},
		{Kind: progress.KindCrawlStart, TargetID: "t-2", JobID: "j-2", TS: now},
		{Kind: progress.KindCrawlSuccess, TargetID: "t-1", JobID: "j-1", TS: now, Dur: 2 * time.Second, Items: 12},
		{Kind: progress.KindCrawlError, TargetID: "t-2", JobID: "j-2", TS: now, Dur: time.Second, Note: "status 503"},
		{Kind: progress.KindTargetPaused, TargetID: "t-2", TS: now},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.itemsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pausesTotal.WithLabelValues("t-2")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobRuntime, "crawler_job_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
