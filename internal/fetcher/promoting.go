// Package fetcher composes the static and headless page fetchers.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Promoting fetches statically first and re-renders the page in a headless
// browser when the detector flags it as client-rendered.
type Promoting struct {
	static   crawler.PageFetcher
	headless crawler.PageFetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

var _ crawler.PageFetcher = (*Promoting)(nil)

// NewPromoting wires the two fetchers. A nil detector or headless fetcher
// disables promotion.
func NewPromoting(
	static crawler.PageFetcher,
	headless crawler.PageFetcher,
	detector crawler.HeadlessDetector,
	logger *zap.Logger,
) (*Promoting, error) {
	if static == nil {
		return nil, fmt.Errorf("static fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, headless: headless, detector: detector, logger: logger}, nil
}

// Navigate implements crawler.PageFetcher.
func (p *Promoting) Navigate(ctx context.Context, url string, opts crawler.NavigateOptions) (crawler.Page, error) {
	page, err := p.static.Navigate(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if p.headless == nil || p.detector == nil {
		return page, nil
	}
	if !p.detector.ShouldPromote(page.StatusCode(), []byte(page.HTML())) {
		return page, nil
	}
	p.logger.Debug("promoting fetch to headless", zap.String("url", url))
	rendered, err := p.headless.Navigate(ctx, url, opts)
	if err != nil {
		p.logger.Warn("headless fetch failed, using static page",
			zap.String("url", url),
			zap.Error(err),
		)
		return page, nil
	}
	if closeErr := page.Close(); closeErr != nil {
		p.logger.Debug("close static page", zap.Error(closeErr))
	}
	return rendered, nil
}
