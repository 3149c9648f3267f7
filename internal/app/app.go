// Package app builds the crawler's long-lived services from configuration
// and owns their lifecycle. It is the only place that knows which backend
// implements each capability.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/matcher"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/catalog-crawler/internal/recovery"
	"github.com/JakeFAU/catalog-crawler/internal/recovery/redisledger"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired services.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	reg    prometheus.Registerer

	store     crawler.Store
	pgStore   *pgstore.Store
	redis     *redis.Client
	gcs       *storage.Client
	pubsub    *pubsub.Client
	publisher *gcppublisher.Publisher
	headless  *headlessfetcher.Fetcher
	hub       *progress.Hub
	queue     *queueMemory.Queue

	orch      *orchestrator.Service
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	closeOnce sync.Once
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers the event metrics against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.reg = reg
		}
	}
}

// Build wires every service described by cfg. Close releases whatever was
// opened, including when Build fails halfway.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}
	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("recovery_ledger", cfg.Recovery.Ledger),
		zap.String("snapshot_backend", cfg.Snapshots.Backend),
	)
	if err := a.build(ctx); err != nil {
		_ = a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.store, err = a.setupStore(ctx); err != nil {
		return err
	}
	ledger, err := a.setupLedger(ctx)
	if err != nil {
		return err
	}
	blobs, err := a.setupSnapshots(ctx)
	if err != nil {
		return err
	}
	if a.hub, err = a.setupEvents(ctx); err != nil {
		return err
	}
	pages, err := a.setupFetcher()
	if err != nil {
		return err
	}

	clock := system.New()
	ids := uuid.New()
	rec := recovery.New(ledger, recovery.Config{
		MaxRetries:     a.cfg.Recovery.MaxRetries,
		RetryCeiling:   a.cfg.Recovery.RetryCeiling,
		AlertThreshold: a.cfg.Recovery.AlertThreshold,
		BaseDelay:      a.cfg.Recovery.BaseDelay,
		MaxDelay:       a.cfg.Recovery.MaxDelay,
	}, recovery.WithClock(clock), recovery.WithLogger(logging.Component(a.logger, "recovery")))
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
		DefaultBurst: a.cfg.RateLimit.DefaultBurst,
	})
	crawlerSvc := worker.NewCrawler(pages, limiter, nil,
		worker.WithRecovery(rec),
		worker.WithConcurrency(a.cfg.Crawler.PageConcurrency),
		worker.WithLogger(logging.Component(a.logger, "crawler")),
	)
	match := matcher.New(a.store, ids, clock, matcher.Config{
		Threshold: a.cfg.Matcher.Threshold,
		CacheSize: a.cfg.Matcher.CacheSize,
		CacheTTL:  a.cfg.Matcher.CacheTTL,
	}, logging.Component(a.logger, "matcher"))

	deps := orchestrator.Deps{
		Store:    a.store,
		Crawler:  crawlerSvc,
		Limiter:  limiter,
		Recovery: rec,
		Matcher:  match,
		Events:   a.hub,
		Blobs:    blobs,
		Hasher:   sha256.New(),
		IDs:      ids,
		Clock:    clock,
		Logger:   logging.Component(a.logger, "orchestrator"),
	}
	a.orch, err = orchestrator.New(orchestrator.Config{
		Proxies:           a.cfg.Crawler.Proxies,
		NavigationTimeout: a.cfg.Crawler.NavigationTimeout,
		SnapshotPrefix:    a.cfg.Snapshots.Prefix,
	}, deps)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(a.queue, a.orch,
			logging.Component(a.logger, "worker").With(zap.Int("worker", i))))
	}
	a.dispatch = dispatcher.New(a.queue, workers,
		dispatcher.WithScheduler(a.orch, a.cfg.Crawler.ScheduleInterval),
		dispatcher.WithClock(clock),
		dispatcher.WithLogger(logging.Component(a.logger, "dispatcher")),
	)
	a.apiServer = api.NewServer(a.orch, a.cfg, logging.Component(a.logger, "api"))
	a.logger.Info("application built",
		zap.Int("workers", len(workers)),
		zap.Duration("schedule_interval", a.cfg.Crawler.ScheduleInterval),
		zap.Int("proxies", len(a.cfg.Crawler.Proxies)),
	)
	return nil
}

func (a *App) setupStore(ctx context.Context) (crawler.Store, error) {
	if a.cfg.Storage.Backend != config.BackendPostgres {
		a.logger.Info("using in-memory store")
		return memoryStorage.NewStore(), nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = store
	if a.cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema migrated")
	}
	a.logger.Info("using postgres store", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return store, nil
}

func (a *App) setupLedger(ctx context.Context) (recovery.Ledger, error) {
	if a.cfg.Recovery.Ledger != config.BackendRedis {
		a.logger.Info("using in-memory error ledger")
		return recovery.NewMemoryLedger(a.cfg.Recovery.MaxHistory), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	ledger, err := redisledger.New(a.redis, redisledger.Config{
		Prefix:     a.cfg.Redis.Prefix,
		MaxHistory: int64(a.cfg.Recovery.MaxHistory),
	})
	if err != nil {
		return nil, fmt.Errorf("redis ledger init failed: %w", err)
	}
	a.logger.Info("using redis error ledger", zap.String("addr", a.cfg.Redis.Addr))
	return ledger, nil
}

func (a *App) setupSnapshots(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Snapshots.Backend {
	case config.BackendGCS:
		var err error
		a.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.gcs, gcsstorage.Config{Bucket: a.cfg.Snapshots.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to gcs", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("path", a.cfg.Snapshots.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("snapshot archiving disabled")
		return nil, nil
	}
}

func (a *App) setupEvents(ctx context.Context) (*progress.Hub, error) {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(logging.Component(a.logger, "events")),
		progresssinks.NewStoreSink(a.store, logging.Component(a.logger, "activity")),
	}
	promSink, err := progresssinks.NewPrometheusSink(a.reg)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.PubSub.Enabled() {
		a.pubsub, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.publisher, err = gcppublisher.New(a.pubsub, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName,
			progress.KindCrawlSuccess, progress.KindCrawlError, progress.KindTargetPaused))
		a.logger.Info("publishing lifecycle events",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		FlushInterval:  a.cfg.Events.FlushInterval,
		Logger:         logging.Component(a.logger, "event_hub"),
	}
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return progress.NewHub(hubCfg, sinkList...), nil
}

func (a *App) setupFetcher() (crawler.PageFetcher, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.Crawler.NavigationTimeout,
	})
	var headless crawler.PageFetcher
	if a.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.Crawler.NavigationTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			a.headless = f
			headless = f
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	pages, err := fetcher.NewPromoting(static, headless,
		detector.NewHeuristic(a.cfg.Headless.PromotionThreshold),
		logging.Component(a.logger, "fetcher"))
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	return pages, nil
}

// Orchestrator exposes the crawl orchestrator.
func (a *App) Orchestrator() *orchestrator.Service {
	return a.orch
}

// Dispatcher exposes the scheduler and worker pool.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Crawl runs one crawl of targetID in the foreground.
func (a *App) Crawl(ctx context.Context, targetID string) (crawler.CrawlResult, error) {
	return a.orch.ExecuteCrawl(ctx, targetID)
}

// Targets lists the configured crawl targets.
func (a *App) Targets(ctx context.Context) ([]crawler.CrawlTarget, error) {
	return a.orch.ListTargets(ctx)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API, the scheduler and the alert consumer until ctx ends,
// then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.orch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
			a.logger.Error("http server error", zap.Error(err))
		}
	}
	a.logger.Info("shutdown initiated")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close stops background crawls and releases every client. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		err = a.release(ctx)
		a.logger.Info("shutdown complete")
	})
	return err
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.orch != nil {
		if n := a.orch.StopAll(); n > 0 {
			a.logger.Info("stopping running crawls", zap.Int("jobs", n))
		}
		a.orch.Wait()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event hub close: %w", err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis client close: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	return errors.Join(errs...)
}
