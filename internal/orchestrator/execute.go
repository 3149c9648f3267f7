package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// errCancelled marks a crawl stopped before it finished.
var errCancelled = errors.New("crawl cancelled")

// ExecuteCrawl runs one crawl of targetID and waits for it. Every run that
// gets past the already-running check ends in a persisted result and exactly
// one of the success or failure counters.
func (s *Service) ExecuteCrawl(ctx context.Context, targetID string) (crawler.CrawlResult, error) {
	target, err := s.deps.Store.GetTarget(ctx, targetID)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	j, err := s.beginJob(targetID)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	return s.run(ctx, target, j)
}

func (s *Service) run(ctx context.Context, target crawler.CrawlTarget, j *job) (crawler.CrawlResult, error) {
	start := s.deps.Clock.Now()
	logger := s.logger.With(zap.String("target_id", target.ID), zap.String("job_id", j.id))

	s.emit(progress.Event{Kind: progress.KindCrawlStart, TargetID: target.ID, JobID: j.id, TS: start})
	s.recordStart(target.ID)

	if err := s.admit(target); err != nil {
		return s.fail(ctx, target, j, start, 0, err, logger)
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Configure(target.ID, target.RateLimit)
	}

	var snapshotURI string
	req := worker.CrawlRequest{
		TargetID:  target.ID,
		URL:       target.URL,
		Selectors: target.Selectors,
		MaxPages:  max(target.MaxPages, 1),
		Options: crawler.NavigateOptions{
			Timeout: s.cfg.NavigationTimeout,
			Headers: target.Headers,
			Cookies: target.Cookies,
		},
		Running: j.running.Load,
		OnPage: func(page crawler.Page, index int) {
			if index == 0 {
				snapshotURI = s.archive(ctx, page, logger)
			}
		},
	}

	run, err := s.crawlWithRetry(ctx, target.ID, req, j, logger)
	if err != nil {
		return s.fail(ctx, target, j, start, crawler.StatusCodeOf(err), err, logger)
	}
	if run.StopReason == worker.StopCancelled {
		return s.fail(ctx, target, j, start, run.StatusCode,
			fmt.Errorf("%w after %d pages", errCancelled, run.PagesVisited), logger)
	}
	if run.Partial() {
		logger.Warn("crawl finished with partial pagination",
			zap.Int("pages", run.PagesVisited),
			zap.Error(run.PageErr),
		)
	}
	return s.succeed(ctx, target, j, start, run, snapshotURI, logger)
}

// admit rejects targets that may not be crawled.
func (s *Service) admit(target crawler.CrawlTarget) error {
	if target.Status != crawler.TargetActive {
		return fmt.Errorf("target %s is %s: %w", target.ID, target.Status, crawler.ErrTargetNotActive)
	}
	if err := extract.ValidateSelectors(target.Selectors); err != nil {
		return fmt.Errorf("target %s: %w", target.ID, err)
	}
	return nil
}

// crawlWithRetry retries whole crawl attempts on transient errors, moving to
// the next proxy on every attempt.
func (s *Service) crawlWithRetry(
	ctx context.Context,
	targetID string,
	req worker.CrawlRequest,
	j *job,
	logger *zap.Logger,
) (worker.PageRun, error) {
	for attempt := 0; ; attempt++ {
		if !j.running.Load() {
			return worker.PageRun{StopReason: worker.StopCancelled}, nil
		}
		req.Options.Proxy = s.nextProxy()
		run, err := s.deps.Crawler.CrawlPaginated(ctx, req)
		if err == nil {
			return run, nil
		}
		if ctx.Err() != nil {
			return run, err
		}
		if !j.running.Load() {
			return run, fmt.Errorf("%w: %w", errCancelled, err)
		}
		s.deps.Recovery.RecordError(ctx, targetID, err)
		if !crawler.IsRetryable(err) {
			return run, err
		}
		if !s.deps.Recovery.ShouldRetry(ctx, targetID, attempt) {
			return run, fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}
		logger.Info("retrying crawl",
			zap.Int("attempt", attempt+1),
			zap.String("proxy", req.Options.Proxy),
			zap.Error(err),
		)
		waitCtx, cancel := j.backoffContext(ctx)
		waitErr := s.deps.Recovery.Wait(waitCtx, attempt)
		cancel()
		if !j.running.Load() {
			return run, fmt.Errorf("%w during retry backoff: %w", errCancelled, err)
		}
		if waitErr != nil {
			return run, errors.Join(err, waitErr)
		}
	}
}

// archive stores the first page under its content hash and returns the URI.
func (s *Service) archive(ctx context.Context, page crawler.Page, logger *zap.Logger) string {
	if s.deps.Blobs == nil || s.deps.Hasher == nil {
		return ""
	}
	body := []byte(page.HTML())
	digest, err := s.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hash snapshot", zap.Error(err))
		return ""
	}
	uri, err := s.deps.Blobs.PutObject(ctx, sha256.ObjectPath(s.cfg.SnapshotPrefix, digest, ".html"), "text/html", body)
	if err != nil {
		logger.Warn("archive snapshot", zap.String("url", page.URL()), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) succeed(
	ctx context.Context,
	target crawler.CrawlTarget,
	j *job,
	start time.Time,
	run worker.PageRun,
	snapshotURI string,
	logger *zap.Logger,
) (crawler.CrawlResult, error) {
	now := s.deps.Clock.Now()
	result := crawler.CrawlResult{
		TargetID:     target.ID,
		Timestamp:    now,
		Success:      true,
		Duration:     now.Sub(start),
		StatusCode:   run.StatusCode,
		PagesVisited: run.PagesVisited,
		ItemCount:    len(run.Items),
		SnapshotURI:  snapshotURI,
		Data:         map[string]*string{},
	}
	if len(run.Items) > 0 {
		result.Data = run.Items[0].Fields
	}
	s.persist(ctx, &result, j, logger)

	s.reconcile(ctx, target, run.Items, logger)

	lastCrawled := now
	if _, err := s.deps.Store.UpdateTarget(ctx, target.ID, crawler.TargetPatch{LastCrawled: &lastCrawled}); err != nil {
		logger.Error("update last crawled", zap.Error(err))
	}
	s.deps.Recovery.ClearErrors(ctx, target.ID)
	s.reschedule(ctx, target, now, logger)

	s.recordSuccess(target.ID, result.Duration, now)
	s.finishJob(target.ID, j, crawler.JobStatusCompleted, nil)
	s.emit(progress.Event{
		Kind:       progress.KindCrawlSuccess,
		TargetID:   target.ID,
		JobID:      j.id,
		TS:         now,
		Dur:        result.Duration,
		StatusCode: result.StatusCode,
		Items:      result.ItemCount,
	})
	return result, nil
}

func (s *Service) fail(
	ctx context.Context,
	target crawler.CrawlTarget,
	j *job,
	start time.Time,
	status int,
	cause error,
	logger *zap.Logger,
) (crawler.CrawlResult, error) {
	now := s.deps.Clock.Now()
	result := crawler.CrawlResult{
		TargetID:     target.ID,
		Timestamp:    now,
		Success:      false,
		ErrorMessage: cause.Error(),
		Duration:     now.Sub(start),
		StatusCode:   status,
		Data:         map[string]*string{},
	}
	s.persist(ctx, &result, j, logger)
	if target.Status == crawler.TargetActive {
		s.reschedule(ctx, target, now, logger)
	}

	jobStatus := crawler.JobStatusFailed
	if errors.Is(cause, errCancelled) || errors.Is(cause, context.Canceled) {
		jobStatus = crawler.JobStatusCancelled
	}
	s.recordFailure(target.ID, cause)
	s.finishJob(target.ID, j, jobStatus, cause)
	s.emit(progress.Event{
		Kind:       progress.KindCrawlError,
		TargetID:   target.ID,
		JobID:      j.id,
		TS:         now,
		Dur:        result.Duration,
		StatusCode: status,
		Note:       cause.Error(),
	})
	logger.Warn("crawl failed", zap.String("job_status", string(jobStatus)), zap.Error(cause))
	return result, fmt.Errorf("crawl target %s: %w", target.ID, cause)
}

// reconcile folds the crawled items into the supplier's catalog. Targets
// without a supplier reconcile under the unassigned supplier identity.
func (s *Service) reconcile(ctx context.Context, target crawler.CrawlTarget, items []crawler.ExtractedItem, logger *zap.Logger) {
	if len(items) == 0 {
		return
	}
	if s.deps.Matcher == nil {
		logger.Warn("catalog reconciliation skipped, no matcher configured", zap.Int("items", len(items)))
		return
	}
	if target.SupplierID == "" {
		logger.Warn("target has no supplier, reconciling under the unassigned supplier", zap.Int("items", len(items)))
	}
	report, err := s.deps.Matcher.Reconcile(ctx, target.SupplierID, items)
	if err != nil {
		logger.Error("catalog reconciliation failed", zap.Error(err))
		return
	}
	logger.Info("catalog reconciled",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed()),
	)
}

// persist assigns an ID and appends the result. Persistence failures are
// logged; the crawl outcome stands.
func (s *Service) persist(ctx context.Context, result *crawler.CrawlResult, j *job, logger *zap.Logger) {
	id, err := s.deps.IDs.NewID()
	if err != nil {
		logger.Error("result id", zap.Error(err))
		id = j.id
	}
	result.ID = id
	if err := s.deps.Store.CreateResult(context.WithoutCancel(ctx), *result); err != nil {
		logger.Error("persist crawl result", zap.String("result_id", id), zap.Error(err))
	}
}

func (s *Service) reschedule(ctx context.Context, target crawler.CrawlTarget, from time.Time, logger *zap.Logger) {
	next, ok, err := crawler.NextRun(target, from)
	if err != nil {
		logger.Error("compute next run", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	schedule := crawler.CrawlSchedule{TargetID: target.ID, NextRun: next}
	if err := s.deps.Store.UpsertSchedule(context.WithoutCancel(ctx), schedule); err != nil {
		logger.Error("upsert schedule", zap.Error(err))
	}
}
