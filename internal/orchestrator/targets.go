package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// CreateTarget validates and stores a new target and schedules its first run.
// Missing IDs are generated; Status defaults to ACTIVE and MaxPages to 1.
func (s *Service) CreateTarget(ctx context.Context, target crawler.CrawlTarget) (crawler.CrawlTarget, error) {
	if target.ID == "" {
		id, err := s.deps.IDs.NewID()
		if err != nil {
			return crawler.CrawlTarget{}, fmt.Errorf("target id: %w", err)
		}
		target.ID = id
	}
	if target.Status == "" {
		target.Status = crawler.TargetActive
	}
	if target.MaxPages == 0 {
		target.MaxPages = 1
	}
	if err := validate(target); err != nil {
		return crawler.CrawlTarget{}, err
	}
	now := s.deps.Clock.Now()
	target.CreatedAt = now
	target.UpdatedAt = now
	target.LastCrawled = nil

	if err := s.deps.Store.CreateTarget(ctx, target); err != nil {
		return crawler.CrawlTarget{}, err
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Configure(target.ID, target.RateLimit)
	}
	if target.Status == crawler.TargetActive {
		s.scheduleFirstRun(ctx, target, now)
	}
	s.logger.Info("crawl target created",
		zap.String("target_id", target.ID),
		zap.String("url", target.URL),
		zap.String("frequency", string(target.Frequency)),
	)
	return target, nil
}

// GetTarget returns one target.
func (s *Service) GetTarget(ctx context.Context, id string) (crawler.CrawlTarget, error) {
	return s.deps.Store.GetTarget(ctx, id)
}

// ListTargets returns every target.
func (s *Service) ListTargets(ctx context.Context) ([]crawler.CrawlTarget, error) {
	return s.deps.Store.ListTargets(ctx)
}

// UpdateTarget applies patch after validating the patched target, then
// refreshes the rate limit. The schedule is recomputed only when the patch
// touches frequency, cron expression or status.
func (s *Service) UpdateTarget(ctx context.Context, id string, patch crawler.TargetPatch) (crawler.CrawlTarget, error) {
	current, err := s.deps.Store.GetTarget(ctx, id)
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	if err := validate(patch.Apply(current)); err != nil {
		return crawler.CrawlTarget{}, err
	}
	updated, err := s.deps.Store.UpdateTarget(ctx, id, patch)
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Configure(updated.ID, updated.RateLimit)
	}
	if updated.Status == crawler.TargetActive && changesSchedule(patch) {
		s.reschedule(ctx, updated, s.deps.Clock.Now(), s.logger.With(zap.String("target_id", id)))
	}
	return updated, nil
}

// DeleteTarget stops any running job and removes the target with its schedule.
func (s *Service) DeleteTarget(ctx context.Context, id string) error {
	s.Stop(id)
	if err := s.deps.Store.DeleteTarget(ctx, id); err != nil {
		return err
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Remove(id)
	}
	s.mu.Lock()
	delete(s.metrics, id)
	s.mu.Unlock()
	s.logger.Info("crawl target deleted", zap.String("target_id", id))
	return nil
}

// PauseTarget marks a target PAUSED and stops its running job.
func (s *Service) PauseTarget(ctx context.Context, id, reason string) (crawler.CrawlTarget, error) {
	status := crawler.TargetPaused
	updated, err := s.deps.Store.UpdateTarget(ctx, id, crawler.TargetPatch{Status: &status})
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	s.Stop(id)
	s.emit(progress.Event{
		Kind:     progress.KindTargetPaused,
		TargetID: id,
		TS:       s.deps.Clock.Now(),
		Note:     reason,
	})
	s.logger.Warn("crawl target paused", zap.String("target_id", id), zap.String("reason", reason))
	return updated, nil
}

// ResumeTarget reactivates a paused target, forgets its recorded errors and
// schedules it from now.
func (s *Service) ResumeTarget(ctx context.Context, id string) (crawler.CrawlTarget, error) {
	status := crawler.TargetActive
	updated, err := s.deps.Store.UpdateTarget(ctx, id, crawler.TargetPatch{Status: &status})
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	s.deps.Recovery.ClearErrors(ctx, id)
	s.scheduleFirstRun(ctx, updated, s.deps.Clock.Now())
	s.logger.Info("crawl target resumed", zap.String("target_id", id))
	return updated, nil
}

// DueTargets returns the active targets whose next run is at or before now.
func (s *Service) DueTargets(ctx context.Context, now time.Time) ([]crawler.CrawlTarget, error) {
	schedules, err := s.deps.Store.DueSchedules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	due := make([]crawler.CrawlTarget, 0, len(schedules))
	for _, sched := range schedules {
		target, err := s.deps.Store.GetTarget(ctx, sched.TargetID)
		if errors.Is(err, crawler.ErrTargetNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if target.Status == crawler.TargetActive {
			due = append(due, target)
		}
	}
	return due, nil
}

// Results returns the newest results of a target.
func (s *Service) Results(ctx context.Context, targetID string, limit int) ([]crawler.CrawlResult, error) {
	if _, err := s.deps.Store.GetTarget(ctx, targetID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListResults(ctx, targetID, limit)
}

// scheduleFirstRun makes target due at now. Targets without a recurring
// schedule, such as custom targets lacking a cron expression, get none.
func (s *Service) scheduleFirstRun(ctx context.Context, target crawler.CrawlTarget, now time.Time) {
	if _, ok, err := crawler.NextRun(target, now); err != nil || !ok {
		return
	}
	if err := s.deps.Store.UpsertSchedule(ctx, crawler.CrawlSchedule{TargetID: target.ID, NextRun: now}); err != nil {
		s.logger.Error("upsert schedule", zap.String("target_id", target.ID), zap.Error(err))
	}
}

func changesSchedule(patch crawler.TargetPatch) bool {
	return patch.Frequency != nil || patch.CronExpr != nil || patch.Status != nil
}

func validate(target crawler.CrawlTarget) error {
	if err := crawler.ValidateTarget(target); err != nil {
		return err
	}
	if err := extract.ValidateSelectors(target.Selectors); err != nil {
		return err
	}
	return nil
}
