package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind names a crawl lifecycle event.
type Kind string

// Lifecycle event kinds.
const (
	KindCrawlStart   Kind = "crawl:start"
	KindCrawlSuccess Kind = "crawl:success"
	KindCrawlError   Kind = "crawl:error"
	KindTargetPaused Kind = "target:paused"
)

// Event is one lifecycle notification for a target.
type Event struct {
	Kind     Kind   `json:"kind"`
	TargetID string `json:"target_id"`
	// JobID is empty for target-level events such as pauses.
	JobID      string        `json:"job_id,omitempty"`
	TS         time.Time     `json:"ts"`
	Dur        time.Duration `json:"dur,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Items      int           `json:"items,omitempty"`
	// Note carries low-volume context such as the error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TargetID == "" {
		return errors.New("target id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindCrawlStart, KindCrawlSuccess, KindCrawlError:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Kind)
		}
	case KindTargetPaused:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a crawl job.
func (e Event) Terminal() bool {
	return e.Kind == KindCrawlSuccess || e.Kind == KindCrawlError
}
