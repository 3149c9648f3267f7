// Package worker implements page crawling for a single target and the queue
// workers that execute scheduled crawls.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Executor runs one crawl of a target.
type Executor interface {
	ExecuteCrawl(ctx context.Context, targetID string) (crawler.CrawlResult, error)
}

// Worker consumes queue items and executes crawls.
type Worker struct {
	queue    crawler.Queue
	executor Executor
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, executor Executor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		executor: executor,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue dequeue failed, worker exiting", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued crawl",
			zap.String("target_id", item.TargetID),
			zap.String("reason", item.Reason),
		)
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, err := w.executor.ExecuteCrawl(ctx, item.TargetID)
	switch {
	case err == nil:
		w.logger.Info("scheduled crawl completed",
			zap.String("target_id", item.TargetID),
			zap.Int("items", result.ItemCount),
			zap.Int("pages", result.PagesVisited),
			zap.Duration("duration", result.Duration),
		)
	case errors.Is(err, crawler.ErrAlreadyRunning):
		w.logger.Debug("target already crawling, skipped", zap.String("target_id", item.TargetID))
	case errors.Is(err, crawler.ErrTargetNotActive), errors.Is(err, crawler.ErrTargetNotFound):
		w.logger.Info("scheduled crawl skipped",
			zap.String("target_id", item.TargetID),
			zap.Error(err),
		)
	default:
		w.logger.Error("scheduled crawl failed",
			zap.String("target_id", item.TargetID),
			zap.Error(err),
		)
	}
}
