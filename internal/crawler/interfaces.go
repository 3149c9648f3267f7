package crawler

import (
	"context"
	"time"
)

// Element is a single DOM node returned by Page.Query.
type Element interface {
	Text() string
	Attr(name string) (string, bool)
}

// Page is a handle to a fetched page.
type Page interface {
	// Query returns the first element matching selector in document order, or nil.
	Query(selector string) Element
	URL() string
	StatusCode() int
	HTML() string
	Close() error
}

// PageFetcher is the external page-fetch capability.
type PageFetcher interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (Page, error)
}

// TargetStore persists crawl targets and their schedules.
type TargetStore interface {
	CreateTarget(ctx context.Context, target CrawlTarget) error
	GetTarget(ctx context.Context, id string) (CrawlTarget, error)
	ListTargets(ctx context.Context) ([]CrawlTarget, error)
	UpdateTarget(ctx context.Context, id string, patch TargetPatch) (CrawlTarget, error)
	DeleteTarget(ctx context.Context, id string) error
	UpsertSchedule(ctx context.Context, schedule CrawlSchedule) error
	DueSchedules(ctx context.Context, now time.Time) ([]CrawlSchedule, error)
}

// ResultStore is the append-only crawl result log.
type ResultStore interface {
	CreateResult(ctx context.Context, result CrawlResult) error
	GetResult(ctx context.Context, id string) (CrawlResult, error)
	ListResults(ctx context.Context, targetID string, limit int) ([]CrawlResult, error)
}

// Catalog is the read/write view of catalog products used for reconciliation.
type Catalog interface {
	ListProductsBySupplier(ctx context.Context, supplierID string) ([]Product, error)
	CreateProduct(ctx context.Context, product Product) error
	UpdateProduct(ctx context.Context, product Product) error
}

// ActivityStore records audit rows for lifecycle events.
type ActivityStore interface {
	RecordActivity(ctx context.Context, record ActivityRecord) error
}

// Store groups every persistence capability the engine needs.
type Store interface {
	TargetStore
	ResultStore
	Catalog
	ActivityStore
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(statusCode int, body []byte) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem asks a worker to crawl one target.
type QueueItem struct {
	TargetID   string    `json:"target_id"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue carries scheduled crawl requests to workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
