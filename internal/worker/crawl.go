package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const defaultConcurrency = 4

// Limiter admits page visits per target.
type Limiter interface {
	Admit(ctx context.Context, targetID string) error
}

// Recovery advises on retries of failed page visits.
type Recovery interface {
	RecordError(ctx context.Context, targetID string, err error)
	ShouldRetry(ctx context.Context, targetID string, attempt int) bool
	Wait(ctx context.Context, attempt int) error
}

// Extractor turns a page into an item.
type Extractor interface {
	Extract(ctx context.Context, page crawler.Page, selectors crawler.SelectorMap) crawler.ExtractedItem
}

// Stop reasons reported in PageRun.
const (
	StopNoNextPage = "no_next_page"
	StopMaxPages   = "max_pages"
	StopFetchError = "fetch_error"
	StopCancelled  = "cancelled"
)

// CrawlRequest describes one paginated crawl of a target.
type CrawlRequest struct {
	TargetID  string
	URL       string
	Selectors crawler.SelectorMap
	// MaxPages bounds the run. Zero or less means a single page.
	MaxPages int
	Options  crawler.NavigateOptions
	// Running is polled between pages; returning false stops the run.
	Running func() bool
	// OnPage observes every fetched page before it is closed.
	OnPage func(page crawler.Page, index int)
}

// PageRun is the outcome of a paginated crawl.
type PageRun struct {
	Items        []crawler.ExtractedItem
	PagesVisited int
	// StatusCode is the status of the first page.
	StatusCode int
	StopReason string
	// PageErr is the error that cut a run short after the first page.
	PageErr error
}

// Partial reports whether a later page failed.
func (r PageRun) Partial() bool {
	return r.PageErr != nil
}

// Crawler drives bounded page visits for a single target.
type Crawler struct {
	fetcher     crawler.PageFetcher
	limiter     Limiter
	extractor   Extractor
	recovery    Recovery
	concurrency int
	logger      *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithRecovery enables retries of later-page failures.
func WithRecovery(r Recovery) Option {
	return func(c *Crawler) { c.recovery = r }
}

// WithConcurrency bounds ProcessURLs fan-out.
func WithConcurrency(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCrawler wires a Crawler. A nil extractor uses the default pipeline.
func NewCrawler(fetcher crawler.PageFetcher, limiter Limiter, extractor Extractor, opts ...Option) *Crawler {
	c := &Crawler{
		fetcher:     fetcher,
		limiter:     limiter,
		extractor:   extractor,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extract.New(c.logger)
	}
	return c
}

// CrawlPaginated visits req.URL and follows the next-page control in order.
// A failure on the first page fails the run. A failure on a later page is
// retried while recovery allows and otherwise ends the run with the items
// gathered so far.
func (c *Crawler) CrawlPaginated(ctx context.Context, req CrawlRequest) (PageRun, error) {
	maxPages := max(req.MaxPages, 1)
	run := PageRun{}
	next := req.URL

	for index := 0; ; index++ {
		if index > 0 && !c.running(ctx, req) {
			run.StopReason = StopCancelled
			return run, nil
		}

		item, status, nextURL, err := c.visitWithRetry(ctx, req, next, index)
		if err != nil {
			if index == 0 {
				return run, err
			}
			run.PageErr = err
			run.StopReason = StopFetchError
			if ctx.Err() != nil {
				run.StopReason = StopCancelled
			}
			c.logger.Warn("pagination stopped on page error",
				zap.String("target_id", req.TargetID),
				zap.String("url", next),
				zap.Int("page", index+1),
				zap.Error(err),
			)
			return run, nil
		}
		if index == 0 {
			run.StatusCode = status
		}
		run.Items = append(run.Items, item)
		run.PagesVisited++

		switch {
		case run.PagesVisited >= maxPages:
			run.StopReason = StopMaxPages
			return run, nil
		case nextURL == "":
			run.StopReason = StopNoNextPage
			return run, nil
		}
		next = nextURL
	}
}

func (c *Crawler) running(ctx context.Context, req CrawlRequest) bool {
	if ctx.Err() != nil {
		return false
	}
	return req.Running == nil || req.Running()
}

// visitWithRetry retries transient failures of pages after the first.
func (c *Crawler) visitWithRetry(
	ctx context.Context,
	req CrawlRequest,
	url string,
	index int,
) (crawler.ExtractedItem, int, string, error) {
	for attempt := 0; ; attempt++ {
		item, status, next, err := c.visit(ctx, req, url, index)
		if err == nil {
			return item, status, next, nil
		}
		if index == 0 || c.recovery == nil || !crawler.IsRetryable(err) || ctx.Err() != nil {
			return crawler.ExtractedItem{}, 0, "", err
		}
		c.recovery.RecordError(ctx, req.TargetID, err)
		if !c.recovery.ShouldRetry(ctx, req.TargetID, attempt) || !c.running(ctx, req) {
			return crawler.ExtractedItem{}, 0, "", err
		}
		metrics.ObserveRetry(req.TargetID)
		if waitErr := c.recovery.Wait(ctx, attempt); waitErr != nil {
			return crawler.ExtractedItem{}, 0, "", errors.Join(err, waitErr)
		}
	}
}

func (c *Crawler) visit(
	ctx context.Context,
	req CrawlRequest,
	url string,
	index int,
) (crawler.ExtractedItem, int, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Admit(ctx, req.TargetID); err != nil {
			return crawler.ExtractedItem{}, 0, "", err
		}
	}
	page, err := c.fetcher.Navigate(ctx, url, req.Options)
	if err != nil {
		metrics.ObservePage(req.TargetID, "error")
		return crawler.ExtractedItem{}, 0, "", fmt.Errorf("navigate page %d: %w", index+1, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			c.logger.Debug("close page", zap.String("url", url), zap.Error(closeErr))
		}
	}()
	metrics.ObservePage(req.TargetID, "ok")

	if req.OnPage != nil {
		req.OnPage(page, index)
	}
	item := c.extractor.Extract(ctx, page, req.Selectors)
	item.Page = index + 1
	next, _ := extract.NextPageURL(page, req.Selectors.NextPage)
	return item, page.StatusCode(), next, nil
}

// ProcessURLs fetches and extracts urls concurrently, at most the configured
// concurrency at a time, each visit admitted by the rate limiter. Items are
// returned in input order. The first error cancels the remaining visits.
func (c *Crawler) ProcessURLs(ctx context.Context, req CrawlRequest, urls []string) ([]crawler.ExtractedItem, error) {
	items := make([]crawler.ExtractedItem, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			item, _, _, err := c.visit(gctx, req, url, i)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("process urls: %w", err)
	}
	return items, nil
}
