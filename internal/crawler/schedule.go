package crawler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun returns when the target should next be crawled after from.
// The boolean is false when the target has no schedule (custom without a
// cron expression).
func NextRun(target CrawlTarget, from time.Time) (time.Time, bool, error) {
	switch target.Frequency {
	case FrequencyHourly:
		return from.Add(time.Hour), true, nil
	case FrequencyDaily:
		return from.AddDate(0, 0, 1), true, nil
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), true, nil
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), true, nil
	case FrequencyCustom:
		if target.CronExpr == "" {
			return time.Time{}, false, nil
		}
		sched, err := cron.ParseStandard(target.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression %q: %w", target.CronExpr, err)
		}
		return sched.Next(from), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: unknown frequency %q", ErrInvalidTarget, target.Frequency)
	}
}

// ValidateTarget checks the admission-time invariants of a target.
func ValidateTarget(target CrawlTarget) error {
	if target.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidTarget)
	}
	if target.Selectors.Container == "" && len(target.Selectors.Fields()) == 0 {
		return fmt.Errorf("%w: no selectors configured", ErrInvalidSelectors)
	}
	if !target.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidTarget, target.Frequency)
	}
	if target.Frequency == FrequencyCustom && target.CronExpr != "" {
		if _, err := cron.ParseStandard(target.CronExpr); err != nil {
			return fmt.Errorf("%w: cron expression: %v", ErrInvalidTarget, err)
		}
	}
	if target.Status != "" && target.Status != TargetActive && target.Status != TargetPaused {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTarget, target.Status)
	}
	if target.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0", ErrInvalidTarget)
	}
	if target.MaxPages < 0 {
		return fmt.Errorf("%w: max pages must be >= 0", ErrInvalidTarget)
	}
	return nil
}
