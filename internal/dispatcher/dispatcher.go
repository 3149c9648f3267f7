// Package dispatcher manages worker fan-out over the crawl queue and feeds
// the queue with targets whose schedule is due.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// ReasonSchedule marks queue items produced by the scheduler.
const ReasonSchedule = "schedule"

const defaultInterval = 30 * time.Second

// Planner lists targets that are due for a crawl.
type Planner interface {
	DueTargets(ctx context.Context, now time.Time) ([]crawler.CrawlTarget, error)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker

	planner  Planner
	interval time.Duration
	clock    crawler.Clock
	logger   *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithScheduler polls planner every interval and enqueues due targets.
func WithScheduler(planner Planner, interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.planner = planner
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithClock sets the clock used to evaluate schedules.
func WithClock(clock crawler.Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		workers:  workers,
		interval: defaultInterval,
		clock:    utcClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts all workers and the scheduler, and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	if d.planner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.schedule(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) schedule(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("schedule tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick enqueues every due target once and returns how many were enqueued.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	if d.planner == nil {
		return 0, nil
	}
	now := d.clock.Now()
	due, err := d.planner.DueTargets(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due targets: %w", err)
	}
	enqueued := 0
	for _, target := range due {
		item := crawler.QueueItem{TargetID: target.ID, Reason: ReasonSchedule, EnqueuedAt: now}
		if err := d.Enqueue(ctx, item); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		d.logger.Debug("due targets enqueued", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
