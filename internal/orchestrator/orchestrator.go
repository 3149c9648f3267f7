// Package orchestrator owns crawl targets and the lifecycle of their crawl
// jobs. It wires rate limiting, error recovery, paginated crawling and
// catalog reconciliation together, persists results, keeps per-target
// metrics, and emits lifecycle events.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/matcher"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/recovery"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// PageCrawler runs one paginated crawl.
type PageCrawler interface {
	CrawlPaginated(ctx context.Context, req worker.CrawlRequest) (worker.PageRun, error)
}

// RateConfigurer sizes per-target rate limits.
type RateConfigurer interface {
	Configure(targetID string, rps float64)
	Remove(targetID string)
}

// Recovery is the error recovery capability the orchestrator drives.
type Recovery interface {
	RecordError(ctx context.Context, targetID string, err error)
	ShouldRetry(ctx context.Context, targetID string, attempt int) bool
	Wait(ctx context.Context, attempt int) error
	ClearErrors(ctx context.Context, targetID string)
	Alerts() <-chan recovery.Alert
}

// Reconciler writes extracted items to the catalog.
type Reconciler interface {
	Reconcile(ctx context.Context, supplierID string, items []crawler.ExtractedItem) (matcher.ReconcileReport, error)
}

// Config tunes crawl execution.
type Config struct {
	// Proxies are used round-robin, one per crawl attempt. Empty means direct.
	Proxies []string
	// NavigationTimeout bounds each page navigation (default 30s).
	NavigationTimeout time.Duration
	// SnapshotPrefix is the blob path prefix for first-page snapshots.
	SnapshotPrefix string
}

const defaultNavigationTimeout = 30 * time.Second

// Deps are the collaborators of a Service. Store, Crawler, Recovery, IDs and
// Clock are required; the rest are optional.
type Deps struct {
	Store    crawler.Store
	Crawler  PageCrawler
	Limiter  RateConfigurer
	Recovery Recovery
	Matcher  Reconciler
	Events   progress.Emitter
	Blobs    crawler.BlobStore
	Hasher   crawler.Hasher
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// Service is the crawl orchestrator.
type Service struct {
	cfg  Config
	deps Deps

	logger   *zap.Logger
	proxyIdx atomic.Uint64

	mu      sync.Mutex
	jobs    map[string]*job
	metrics map[string]*crawler.CrawlerMetrics

	wg sync.WaitGroup
}

// New constructs a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errMissing("store")
	case deps.Crawler == nil:
		return nil, errMissing("crawler")
	case deps.Recovery == nil:
		return nil, errMissing("recovery")
	case deps.IDs == nil:
		return nil, errMissing("id generator")
	case deps.Clock == nil:
		return nil, errMissing("clock")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	cfg.Proxies = append([]string(nil), cfg.Proxies...)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		jobs:    make(map[string]*job),
		metrics: make(map[string]*crawler.CrawlerMetrics),
	}, nil
}

// nextProxy returns the next proxy in round-robin order, or "".
func (s *Service) nextProxy() string {
	if len(s.cfg.Proxies) == 0 {
		return ""
	}
	n := s.proxyIdx.Add(1) - 1
	return s.cfg.Proxies[n%uint64(len(s.cfg.Proxies))]
}

func (s *Service) emit(evt progress.Event) {
	if s.deps.Events != nil {
		s.deps.Events.Emit(evt)
	}
}

// Wait blocks until every crawl started with Start has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
