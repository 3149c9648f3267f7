package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const targetColumns = `id, url, supplier_id, selectors, frequency, cron_expr, status, headers, cookies, ` +
	`rate_limit, max_pages, last_crawled, created_at, updated_at`

// CreateTarget inserts a target row.
func (s *Store) CreateTarget(ctx context.Context, target crawler.CrawlTarget) error {
	args, err := targetArgs(target)
	if err != nil {
		return err
	}
	query := `INSERT INTO crawl_targets (` + targetColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// GetTarget fetches a target by ID.
func (s *Store) GetTarget(ctx context.Context, id string) (crawler.CrawlTarget, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM crawl_targets WHERE id = $1`, id)
	target, err := scanTarget(row)
	if err != nil {
		return crawler.CrawlTarget{}, notFound(err, crawler.ErrTargetNotFound, "get target "+id)
	}
	return target, nil
}

// ListTargets returns every target ordered by creation time.
func (s *Store) ListTargets(ctx context.Context) ([]crawler.CrawlTarget, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+targetColumns+` FROM crawl_targets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []crawler.CrawlTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// UpdateTarget applies patch to the locked row inside a transaction.
func (s *Store) UpdateTarget(ctx context.Context, id string, patch crawler.TargetPatch) (crawler.CrawlTarget, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.CrawlTarget{}, fmt.Errorf("begin update target: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+targetColumns+` FROM crawl_targets WHERE id = $1 FOR UPDATE`, id)
	current, err := scanTarget(row)
	if err != nil {
		return crawler.CrawlTarget{}, notFound(err, crawler.ErrTargetNotFound, "update target "+id)
	}
	updated := patch.Apply(current)
	updated.UpdatedAt = time.Now().UTC()

	args, err := targetArgs(updated)
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	query := `UPDATE crawl_targets SET url = $2, supplier_id = $3, selectors = $4, frequency = $5,
	cron_expr = $6, status = $7, headers = $8, cookies = $9, rate_limit = $10, max_pages = $11,
	last_crawled = $12, created_at = $13, updated_at = $14
WHERE id = $1`
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return crawler.CrawlTarget{}, fmt.Errorf("update target %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.CrawlTarget{}, fmt.Errorf("commit update target: %w", err)
	}
	return updated, nil
}

// DeleteTarget removes a target. Its schedule is removed by cascade.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete target %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete target %s: %w", id, crawler.ErrTargetNotFound)
	}
	return nil
}

// UpsertSchedule stores the next run for a target.
func (s *Store) UpsertSchedule(ctx context.Context, schedule crawler.CrawlSchedule) error {
	query := `INSERT INTO crawl_schedules (target_id, next_run) VALUES ($1, $2)
ON CONFLICT (target_id) DO UPDATE SET next_run = EXCLUDED.next_run`
	if _, err := s.pool.Exec(ctx, query, schedule.TargetID, schedule.NextRun); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// DueSchedules returns schedules whose next run is at or before now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]crawler.CrawlSchedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT target_id, next_run FROM crawl_schedules WHERE next_run <= $1 ORDER BY next_run`, now)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlSchedule
	for rows.Next() {
		var sched crawler.CrawlSchedule
		if err := rows.Scan(&sched.TargetID, &sched.NextRun); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

func targetArgs(t crawler.CrawlTarget) ([]any, error) {
	selectors, err := json.Marshal(t.Selectors)
	if err != nil {
		return nil, fmt.Errorf("marshal selectors: %w", err)
	}
	headers, err := json.Marshal(normalizeHeaders(t.Headers))
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	cookies := t.Cookies
	if cookies == nil {
		cookies = map[string]string{}
	}
	cookiesJSON, err := json.Marshal(cookies)
	if err != nil {
		return nil, fmt.Errorf("marshal cookies: %w", err)
	}
	return []any{
		t.ID,
		t.URL,
		t.SupplierID,
		selectors,
		string(t.Frequency),
		t.CronExpr,
		string(t.Status),
		headers,
		cookiesJSON,
		t.RateLimit,
		t.MaxPages,
		t.LastCrawled,
		t.CreatedAt,
		t.UpdatedAt,
	}, nil
}

func scanTarget(row pgx.Row) (crawler.CrawlTarget, error) {
	var (
		t                         crawler.CrawlTarget
		frequency, status         string
		selectors, headers, cooks []byte
	)
	err := row.Scan(
		&t.ID,
		&t.URL,
		&t.SupplierID,
		&selectors,
		&frequency,
		&t.CronExpr,
		&status,
		&headers,
		&cooks,
		&t.RateLimit,
		&t.MaxPages,
		&t.LastCrawled,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return crawler.CrawlTarget{}, err
	}
	t.Frequency = crawler.Frequency(frequency)
	t.Status = crawler.TargetStatus(status)
	if err := json.Unmarshal(selectors, &t.Selectors); err != nil {
		return crawler.CrawlTarget{}, fmt.Errorf("decode selectors: %w", err)
	}
	if len(headers) > 0 {
		var h map[string][]string
		if err := json.Unmarshal(headers, &h); err != nil {
			return crawler.CrawlTarget{}, fmt.Errorf("decode headers: %w", err)
		}
		if len(h) > 0 {
			t.Headers = http.Header(h)
		}
	}
	if len(cooks) > 0 {
		if err := json.Unmarshal(cooks, &t.Cookies); err != nil {
			return crawler.CrawlTarget{}, fmt.Errorf("decode cookies: %w", err)
		}
		if len(t.Cookies) == 0 {
			t.Cookies = nil
		}
	}
	return t, nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
