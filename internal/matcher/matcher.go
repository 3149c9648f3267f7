// Package matcher reconciles extracted items against the supplier's catalog
// products, deciding between updating an existing entry and creating a new one.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// ErrUnnamedItem is returned for items that have no title to match on.
var ErrUnnamedItem = errors.New("extracted item has no title")

const (
	defaultThreshold = 0.85
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// Config tunes matching.
type Config struct {
	// Threshold is the minimum token similarity for a non-exact match.
	Threshold float64
	// CacheSize bounds the number of suppliers whose products are cached.
	CacheSize int
	CacheTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = defaultThreshold
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}

// ItemFailure records an item that could not be reconciled.
type ItemFailure struct {
	SourceURL string
	Page      int
	Err       error
}

// ReconcileReport summarizes one batch.
type ReconcileReport struct {
	Created  int
	Updated  int
	Failures []ItemFailure
}

// Failed returns the number of items that were not written.
func (r ReconcileReport) Failed() int {
	return len(r.Failures)
}

// Matcher finds and writes catalog products for extracted items.
type Matcher struct {
	catalog   crawler.Catalog
	ids       crawler.IDGenerator
	clock     crawler.Clock
	threshold float64
	cache     *expirable.LRU[string, []crawler.Product]
	logger    *zap.Logger
}

// New wires a Matcher.
func New(
	catalog crawler.Catalog,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Matcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		catalog:   catalog,
		ids:       ids,
		clock:     clock,
		threshold: cfg.Threshold,
		cache:     expirable.NewLRU[string, []crawler.Product](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:    logger,
	}
}

// FindMatch returns the supplier's product that best matches item, or nil
// when none is close enough. An exact normalized-name match always wins.
func (m *Matcher) FindMatch(ctx context.Context, item crawler.ExtractedItem, supplierID string) (*crawler.Product, error) {
	name := Normalize(item.Value(crawler.FieldTitle))
	if name == "" {
		return nil, nil
	}
	candidates, err := m.candidates(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	idx := m.best(name, supplierID, candidates)
	if idx < 0 {
		return nil, nil
	}
	match := candidates[idx]
	return &match, nil
}

// Reconcile updates matched products and creates the rest. Item failures are
// collected in the report; only a failure to load candidates aborts the batch.
func (m *Matcher) Reconcile(ctx context.Context, supplierID string, items []crawler.ExtractedItem) (ReconcileReport, error) {
	var report ReconcileReport
	if len(items) == 0 {
		return report, nil
	}
	cached, err := m.candidates(ctx, supplierID)
	if err != nil {
		return report, err
	}
	// Work on a private copy so products created earlier in the batch are
	// matched by later items.
	candidates := append([]crawler.Product(nil), cached...)
	defer m.cache.Remove(supplierID)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("reconcile: %w", err)
		}
		candidates, err = m.reconcileItem(ctx, supplierID, item, candidates, &report)
		if err != nil {
			report.Failures = append(report.Failures, ItemFailure{SourceURL: item.SourceURL, Page: item.Page, Err: err})
			m.logger.Warn("item reconciliation failed",
				zap.String("supplier_id", supplierID),
				zap.String("url", item.SourceURL),
				zap.Int("page", item.Page),
				zap.Error(err),
			)
		}
	}
	metrics.ObserveReconcile("created", report.Created)
	metrics.ObserveReconcile("updated", report.Updated)
	metrics.ObserveReconcile("failed", report.Failed())
	return report, nil
}

func (m *Matcher) reconcileItem(
	ctx context.Context,
	supplierID string,
	item crawler.ExtractedItem,
	candidates []crawler.Product,
	report *ReconcileReport,
) ([]crawler.Product, error) {
	title := strings.TrimSpace(item.Value(crawler.FieldTitle))
	name := Normalize(title)
	if name == "" {
		return candidates, ErrUnnamedItem
	}

	if idx := m.best(name, supplierID, candidates); idx >= 0 {
		updated := m.merge(candidates[idx], item)
		if err := m.catalog.UpdateProduct(ctx, updated); err != nil {
			return candidates, fmt.Errorf("update product %s: %w", updated.ID, err)
		}
		candidates[idx] = updated
		report.Updated++
		return candidates, nil
	}

	id, err := m.ids.NewID()
	if err != nil {
		return candidates, fmt.Errorf("product id: %w", err)
	}
	product := m.merge(crawler.Product{ID: id, SupplierID: supplierID, Name: title}, item)
	if err := m.catalog.CreateProduct(ctx, product); err != nil {
		return candidates, fmt.Errorf("create product: %w", err)
	}
	report.Created++
	return append(candidates, product), nil
}

// best returns the index of the best candidate for name, or -1.
func (m *Matcher) best(name, supplierID string, candidates []crawler.Product) int {
	bestIdx, bestScore := -1, 0.0
	for i, cand := range candidates {
		if cand.SupplierID != supplierID {
			continue
		}
		candName := Normalize(cand.Name)
		if candName == name {
			return i
		}
		if score := Similarity(name, candName); score >= m.threshold && score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx
}

// merge copies the extracted price, stock, image and custom fields onto p.
// Null fields leave the existing value untouched.
func (m *Matcher) merge(p crawler.Product, item crawler.ExtractedItem) crawler.Product {
	if v := item.Fields[crawler.FieldPrice]; v != nil {
		p.Price = *v
	}
	if v := item.Fields[crawler.FieldStock]; v != nil {
		p.Stock = *v
	}
	if v := item.Fields[crawler.FieldImage]; v != nil {
		p.ImageURL = *v
	}
	if item.SourceURL != "" {
		p.SourceURL = item.SourceURL
	}
	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	for k, v := range item.Fields {
		switch k {
		case crawler.FieldPrice, crawler.FieldStock, crawler.FieldImage, crawler.FieldTitle:
			continue
		}
		if v != nil {
			meta[k] = *v
		}
	}
	if len(meta) > 0 {
		p.Metadata = meta
	}
	p.UpdatedAt = m.clock.Now()
	return p
}

func (m *Matcher) candidates(ctx context.Context, supplierID string) ([]crawler.Product, error) {
	if cached, ok := m.cache.Get(supplierID); ok {
		return cached, nil
	}
	products, err := m.catalog.ListProductsBySupplier(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list products for supplier %s: %w", supplierID, err)
	}
	m.cache.Add(supplierID, products)
	return products, nil
}
