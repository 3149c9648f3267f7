// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// TargetStatus is the administrative state of a crawl target.
type TargetStatus string

// Target status values.
const (
	TargetActive TargetStatus = "ACTIVE"
	TargetPaused TargetStatus = "PAUSED"
)

// Frequency controls how often a target is scheduled.
type Frequency string

// Supported crawl frequencies.
const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of one crawl run.
type JobStatus string

// Job status values. A target with no run yet reports JobStatusIdle.
const (
	JobStatusIdle      JobStatus = "IDLE"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Field names produced by the extraction pipeline.
const (
	FieldPrice = "price"
	FieldStock = "stock"
	FieldTitle = "title"
	FieldImage = "image"
)

// SelectorMap tells the extraction pipeline where each field lives on a page.
type SelectorMap struct {
	Container string            `json:"container"`
	Price     string            `json:"price,omitempty"`
	Stock     string            `json:"stock,omitempty"`
	Title     string            `json:"title,omitempty"`
	Image     string            `json:"image,omitempty"`
	NextPage  string            `json:"next_page,omitempty"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// Fields returns the named field selectors, skipping empty ones.
// Custom selectors never shadow the built-in field names.
func (s SelectorMap) Fields() map[string]string {
	out := make(map[string]string, 4+len(s.Custom))
	for name, sel := range s.Custom {
		if sel != "" {
			out[name] = sel
		}
	}
	builtin := map[string]string{
		FieldPrice: s.Price,
		FieldStock: s.Stock,
		FieldTitle: s.Title,
		FieldImage: s.Image,
	}
	for name, sel := range builtin {
		if sel != "" {
			out[name] = sel
		}
	}
	return out
}

// CrawlTarget identifies one external source to crawl.
type CrawlTarget struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	SupplierID  string            `json:"supplier_id"`
	Selectors   SelectorMap       `json:"selectors"`
	Frequency   Frequency         `json:"frequency"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	Status      TargetStatus      `json:"status"`
	Headers     http.Header       `json:"headers,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	RateLimit   float64           `json:"rate_limit"`
	MaxPages    int               `json:"max_pages"`
	LastCrawled *time.Time        `json:"last_crawled,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TargetPatch carries a partial update for a target. Nil fields are left unchanged.
type TargetPatch struct {
	URL         *string
	SupplierID  *string
	Selectors   *SelectorMap
	Frequency   *Frequency
	CronExpr    *string
	Status      *TargetStatus
	Headers     http.Header
	Cookies     map[string]string
	RateLimit   *float64
	MaxPages    *int
	LastCrawled *time.Time
}

// Apply returns a copy of t with the patch applied.
func (p TargetPatch) Apply(t CrawlTarget) CrawlTarget {
	if p.URL != nil {
		t.URL = *p.URL
	}
	if p.SupplierID != nil {
		t.SupplierID = *p.SupplierID
	}
	if p.Selectors != nil {
		t.Selectors = *p.Selectors
	}
	if p.Frequency != nil {
		t.Frequency = *p.Frequency
	}
	if p.CronExpr != nil {
		t.CronExpr = *p.CronExpr
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Headers != nil {
		t.Headers = p.Headers.Clone()
	}
	if p.Cookies != nil {
		t.Cookies = cloneStrings(p.Cookies)
	}
	if p.RateLimit != nil {
		t.RateLimit = *p.RateLimit
	}
	if p.MaxPages != nil {
		t.MaxPages = *p.MaxPages
	}
	if p.LastCrawled != nil {
		ts := *p.LastCrawled
		t.LastCrawled = &ts
	}
	return t
}

// CrawlSchedule holds the next run time for a scheduled target.
type CrawlSchedule struct {
	TargetID string    `json:"target_id"`
	NextRun  time.Time `json:"next_run"`
}

// CrawlResult is the immutable record of one crawl attempt.
type CrawlResult struct {
	ID           string             `json:"id"`
	TargetID     string             `json:"target_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Success      bool               `json:"success"`
	Data         map[string]*string `json:"data"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Duration     time.Duration      `json:"duration"`
	StatusCode   int                `json:"status_code"`
	PagesVisited int                `json:"pages_visited"`
	ItemCount    int                `json:"item_count"`
	SnapshotURI  string             `json:"snapshot_uri,omitempty"`
}

// CrawlerMetrics tracks per-target crawl statistics for the process lifetime.
type CrawlerMetrics struct {
	TotalCrawls      int64         `json:"total_crawls"`
	SuccessfulCrawls int64         `json:"successful_crawls"`
	FailedCrawls     int64         `json:"failed_crawls"`
	InFlight         int64         `json:"in_flight"`
	AverageDuration  time.Duration `json:"average_duration"`
	LastError        string        `json:"last_error,omitempty"`
	LastSuccess      *time.Time    `json:"last_success,omitempty"`
}

// ErrorEntry is one recorded failure for a target.
type ErrorEntry struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ExtractedItem is the raw field map produced for one page before reconciliation.
type ExtractedItem struct {
	Fields    map[string]*string `json:"fields"`
	SourceURL string             `json:"source_url"`
	Page      int                `json:"page"`
}

// Value returns the field value, or "" when the field is null or absent.
func (i ExtractedItem) Value(name string) string {
	if v := i.Fields[name]; v != nil {
		return *v
	}
	return ""
}

// Product is the subset of a catalog entry the engine reads and writes.
type Product struct {
	ID         string            `json:"id"`
	SupplierID string            `json:"supplier_id"`
	Name       string            `json:"name"`
	Price      string            `json:"price,omitempty"`
	Stock      string            `json:"stock,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ActivityRecord is an audit row derived from a lifecycle event.
type ActivityRecord struct {
	Kind     string    `json:"kind"`
	TargetID string    `json:"target_id"`
	JobID    string    `json:"job_id,omitempty"`
	At       time.Time `json:"at"`
	Note     string    `json:"note,omitempty"`
}

// NavigateOptions are passed to the page-fetch capability for every navigation.
type NavigateOptions struct {
	Timeout time.Duration
	Proxy   string
	Headers http.Header
	Cookies map[string]string
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
