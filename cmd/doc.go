// Package cmd defines the CLI commands of the catalog-crawler executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and target management endpoints under /v1. Targets
//     are validated, stored and scheduled by the orchestrator; crawls can be run, started, stopped, paused and
//     resumed per target.
//   - Scheduler & queue: the dispatcher lists due targets every crawler.schedule_interval and pushes them onto a
//     bounded in-memory queue sized by crawler.queue_depth. A fixed worker pool sized by crawler.concurrency drains
//     it. A target waiting in the queue is not queued twice and a target already crawling is skipped.
//   - Crawl pipeline: each crawl is admitted by the per-target rate limiter, fetched with the Colly fetcher (promoted
//     to a headless Chromedp fetch when the heuristic detector sees a client-rendered shell), follows the next-page
//     control up to the target's page limit, and extracts product fields with CSS selectors.
//   - Recovery: transient failures are recorded in the error ledger (memory or Redis), retried with exponential
//     backoff and rotated through the configured proxies. Crossing the alert threshold pauses the target.
//   - Persistence & fanout: targets, schedules, results, catalog products and activity rows live in memory or
//     Postgres. First-page HTML is archived to local disk or GCS when snapshots are enabled. Lifecycle events go
//     through the event hub to the log, Prometheus, the activity table and, when configured, Pub/Sub.
//
// Quick checklist:
//   - Configure with a YAML file (--config) or CRAWLER_ environment variables, e.g. CRAWLER_STORAGE_BACKEND=postgres,
//     CRAWLER_DB_DSN, CRAWLER_RECOVERY_LEDGER=redis, CRAWLER_SNAPSHOTS_BACKEND=gcs.
//   - Run the service: catalog-crawler serve --config config.yaml
//   - Crawl one target now: catalog-crawler crawl <target-id>
package cmd
