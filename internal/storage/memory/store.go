package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Store is an in-memory crawler.Store for development and tests.
type Store struct {
	mu        sync.RWMutex
	targets   map[string]crawler.CrawlTarget
	schedules map[string]crawler.CrawlSchedule
	results   map[string]crawler.CrawlResult
	order     []string
	products  map[string]crawler.Product
	activity  []crawler.ActivityRecord
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		targets:   make(map[string]crawler.CrawlTarget),
		schedules: make(map[string]crawler.CrawlSchedule),
		results:   make(map[string]crawler.CrawlResult),
		products:  make(map[string]crawler.Product),
	}
}

// CreateTarget stores a new target.
func (s *Store) CreateTarget(_ context.Context, target crawler.CrawlTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.targets[target.ID]; exists {
		return fmt.Errorf("target %s already exists", target.ID)
	}
	s.targets[target.ID] = target
	return nil
}

// GetTarget fetches a target by ID.
func (s *Store) GetTarget(_ context.Context, id string) (crawler.CrawlTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return crawler.CrawlTarget{}, fmt.Errorf("get target %s: %w", id, crawler.ErrTargetNotFound)
	}
	return target, nil
}

// ListTargets returns every target ordered by creation time.
func (s *Store) ListTargets(_ context.Context) ([]crawler.CrawlTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlTarget, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateTarget applies patch and returns the stored target.
func (s *Store) UpdateTarget(_ context.Context, id string, patch crawler.TargetPatch) (crawler.CrawlTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return crawler.CrawlTarget{}, fmt.Errorf("update target %s: %w", id, crawler.ErrTargetNotFound)
	}
	target = patch.Apply(target)
	target.UpdatedAt = time.Now().UTC()
	s.targets[id] = target
	return target, nil
}

// DeleteTarget removes a target and its schedule. Results are kept.
func (s *Store) DeleteTarget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return fmt.Errorf("delete target %s: %w", id, crawler.ErrTargetNotFound)
	}
	delete(s.targets, id)
	delete(s.schedules, id)
	return nil
}

// UpsertSchedule stores the next run for a target.
func (s *Store) UpsertSchedule(_ context.Context, schedule crawler.CrawlSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.TargetID] = schedule
	return nil
}

// DueSchedules returns schedules whose next run is at or before now.
func (s *Store) DueSchedules(_ context.Context, now time.Time) ([]crawler.CrawlSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlSchedule
	for _, sched := range s.schedules {
		if !sched.NextRun.After(now) {
			out = append(out, sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}

// CreateResult appends a result. Results are never overwritten.
func (s *Store) CreateResult(_ context.Context, result crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.ID]; exists {
		return fmt.Errorf("result %s already exists", result.ID)
	}
	s.results[result.ID] = copyResult(result)
	s.order = append(s.order, result.ID)
	return nil
}

// GetResult fetches a result by ID.
func (s *Store) GetResult(_ context.Context, id string) (crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	if !ok {
		return crawler.CrawlResult{}, fmt.Errorf("get result %s: %w", id, crawler.ErrNotFound)
	}
	return copyResult(result), nil
}

// ListResults returns the newest results for a target first. A limit of zero
// or less returns all of them.
func (s *Store) ListResults(_ context.Context, targetID string, limit int) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlResult
	for i := len(s.order) - 1; i >= 0; i-- {
		result := s.results[s.order[i]]
		if result.TargetID != targetID {
			continue
		}
		out = append(out, copyResult(result))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListProductsBySupplier returns the supplier's products ordered by ID.
func (s *Store) ListProductsBySupplier(_ context.Context, supplierID string) ([]crawler.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Product
	for _, p := range s.products {
		if p.SupplierID == supplierID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateProduct adds a catalog product.
func (s *Store) CreateProduct(_ context.Context, product crawler.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	s.products[product.ID] = product
	return nil
}

// UpdateProduct replaces an existing catalog product.
func (s *Store) UpdateProduct(_ context.Context, product crawler.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		return fmt.Errorf("update product %s: %w", product.ID, crawler.ErrNotFound)
	}
	s.products[product.ID] = product
	return nil
}

// RecordActivity appends an audit row.
func (s *Store) RecordActivity(_ context.Context, record crawler.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, record)
	return nil
}

// Activity returns a copy of the recorded audit rows.
func (s *Store) Activity() []crawler.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ActivityRecord(nil), s.activity...)
}

func copyResult(r crawler.CrawlResult) crawler.CrawlResult {
	if r.Data == nil {
		return r
	}
	data := make(map[string]*string, len(r.Data))
	for k, v := range r.Data {
		if v != nil {
			data[k] = crawler.StringPtr(*v)
		} else {
			data[k] = nil
		}
	}
	r.Data = data
	return r
}
