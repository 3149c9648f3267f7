// Package recovery tracks per-target crawl failures, advises retry and
// backoff, and raises an alert when a target's unresolved error count
// reaches the configured threshold.
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultMaxRetries     = 3
	defaultRetryCeiling   = 10
	defaultAlertThreshold = 5
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultAlertBuffer    = 64
)

// Ledger persists per-target error entries.
type Ledger interface {
	// Append stores entry and returns the unresolved count including it.
	Append(ctx context.Context, targetID string, entry crawler.ErrorEntry) (int, error)
	Unresolved(ctx context.Context, targetID string) (int, error)
	// Clear resets the unresolved count. History is retained.
	Clear(ctx context.Context, targetID string) error
	History(ctx context.Context, targetID string) ([]crawler.ErrorEntry, error)
}

// Config tunes retry eligibility, backoff and alerting.
type Config struct {
	// MaxRetries caps retry attempts within one operation.
	MaxRetries int
	// RetryCeiling stops retries once a target has this many unresolved errors.
	RetryCeiling int
	// AlertThreshold is the unresolved count that raises an Alert.
	AlertThreshold int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AlertBuffer    int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = defaultRetryCeiling
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = defaultAlertThreshold
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.AlertBuffer <= 0 {
		c.AlertBuffer = defaultAlertBuffer
	}
	return c
}

// Alert signals that a target crossed the error threshold.
type Alert struct {
	TargetID   string
	Unresolved int
	At         time.Time
}

// System is the error recovery service. It never fails a crawl; ledger
// failures are logged and treated as "no information".
type System struct {
	cfg    Config
	ledger Ledger
	clock  crawler.Clock
	logger *zap.Logger
	alerts chan Alert

	mu      sync.Mutex
	alerted map[string]bool
}

// Option customizes a System.
type Option func(*System)

// WithClock overrides the clock used to timestamp ledger entries.
func WithClock(clock crawler.Clock) Option {
	return func(s *System) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a System over ledger. A nil ledger falls back to memory.
func New(ledger Ledger, cfg Config, opts ...Option) *System {
	cfg = cfg.withDefaults()
	if ledger == nil {
		ledger = NewMemoryLedger(0)
	}
	s := &System{
		cfg:     cfg,
		ledger:  ledger,
		clock:   utcClock{},
		logger:  zap.NewNop(),
		alerts:  make(chan Alert, cfg.AlertBuffer),
		alerted: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Alerts returns the threshold alert stream.
func (s *System) Alerts() <-chan Alert {
	return s.alerts
}

// Config returns the effective configuration.
func (s *System) Config() Config {
	return s.cfg
}

// RecordError appends err to the target's ledger.
func (s *System) RecordError(ctx context.Context, targetID string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	now := s.clock.Now()
	unresolved, appendErr := s.ledger.Append(ctx, targetID, crawler.ErrorEntry{Message: msg, At: now})
	if appendErr != nil {
		s.logger.Warn("record crawl error failed",
			zap.String("target_id", targetID),
			zap.Error(appendErr),
		)
		return
	}
	s.logger.Debug("crawl error recorded",
		zap.String("target_id", targetID),
		zap.Int("unresolved", unresolved),
		zap.String("error", msg),
	)
	if unresolved >= s.cfg.AlertThreshold {
		s.raise(Alert{TargetID: targetID, Unresolved: unresolved, At: now})
	}
}

// raise delivers at most one alert per target until ClearErrors. A dropped
// alert leaves the target armed so the next error raises it again.
func (s *System) raise(alert Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alerted[alert.TargetID] {
		return
	}
	select {
	case s.alerts <- alert:
		s.alerted[alert.TargetID] = true
		metrics.ObserveAlert(alert.TargetID)
	default:
		metrics.ObserveAlertDropped()
		s.logger.Warn("error threshold alert dropped",
			zap.String("target_id", alert.TargetID),
			zap.Int("unresolved", alert.Unresolved),
		)
	}
}

// ShouldRetry reports whether another attempt is allowed after attempt
// failed attempts within the current operation.
func (s *System) ShouldRetry(ctx context.Context, targetID string, attempt int) bool {
	if attempt >= s.cfg.MaxRetries {
		return false
	}
	unresolved, err := s.ledger.Unresolved(ctx, targetID)
	if err != nil {
		s.logger.Warn("read unresolved errors failed",
			zap.String("target_id", targetID),
			zap.Error(err),
		)
		return false
	}
	return unresolved < s.cfg.RetryCeiling
}

// RetryDelay returns BaseDelay * 2^attempt capped at MaxDelay.
func (s *System) RetryDelay(attempt int) time.Duration {
	return backoff(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt)
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return min(base, maxDelay)
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}

// Wait sleeps for RetryDelay(attempt) or until ctx is done.
func (s *System) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.RetryDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClearErrors resets the target's unresolved count and re-arms its alert.
func (s *System) ClearErrors(ctx context.Context, targetID string) {
	s.mu.Lock()
	delete(s.alerted, targetID)
	s.mu.Unlock()
	if err := s.ledger.Clear(ctx, targetID); err != nil {
		s.logger.Warn("clear crawl errors failed",
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}

// UnresolvedCount returns the number of errors since the last clear.
func (s *System) UnresolvedCount(ctx context.Context, targetID string) (int, error) {
	return s.ledger.Unresolved(ctx, targetID)
}

// History returns every recorded error for the target, oldest first.
func (s *System) History(ctx context.Context, targetID string) ([]crawler.ErrorEntry, error) {
	return s.ledger.History(ctx, targetID)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
