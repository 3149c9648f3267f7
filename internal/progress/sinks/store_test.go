package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

type fakeActivityStore struct {
	mu      sync.Mutex
	records []crawler.ActivityRecord
	failFor string
}

func (f *fakeActivityStore) RecordActivity(_ context.Context, r crawler.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.TargetID == f.failFor {
		return errors.New("insert failed")
	}
	f.records = append(f.records, r)
	return nil
}

func TestStoreSinkRecordsActivity(t *testing.T) {
	t.Parallel()

	store := &fakeActivityStore{failFor: "bad"}
	sink := NewStoreSink(store, nil)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	err := sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindCrawlStart, TargetID: "t-1", JobID: "j-1", TS: now},
		{Kind: progress.KindCrawlStart, TargetID: "bad", JobID: "j-2", TS: now},
		{Kind: progress.KindTargetPaused, TargetID: "t-1", TS: now, Note: "5 unresolved errors"},
	})
	require.Error(t, err)
	require.Len(t, store.records, 2)
	require.Equal(t, crawler.ActivityRecord{Kind: "crawl:start", TargetID: "t-1", JobID: "j-1", At: now}, store.records[0])
	require.Equal(t, "target:paused", store.records[1].Kind)
	require.Equal(t, "5 unresolved errors", store.records[1].Note)

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), nil))
}
