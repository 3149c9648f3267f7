package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// StoreSink writes one activity row per lifecycle event.
type StoreSink struct {
	store  crawler.ActivityStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(store crawler.ActivityStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume records every event in batch, continuing past failed rows. The
// returned error joins the individual failures.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		record := crawler.ActivityRecord{
			Kind:     string(evt.Kind),
			TargetID: evt.TargetID,
			JobID:    evt.JobID,
			At:       evt.TS,
			Note:     evt.Note,
		}
		if err := s.store.RecordActivity(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("record %s for %s: %w", evt.Kind, evt.TargetID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
