package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const resultColumns = `id, target_id, ts, success, data, error_message, duration_ms, status_code, pages_visited, item_count, snapshot_uri`

// CreateResult appends a crawl result. Null fields are stored as JSON null.
func (s *Store) CreateResult(ctx context.Context, result crawler.CrawlResult) error {
	data := result.Data
	if data == nil {
		data = map[string]*string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal result data: %w", err)
	}
	query := `INSERT INTO crawl_results (` + resultColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		result.ID,
		result.TargetID,
		result.Timestamp,
		result.Success,
		dataJSON,
		result.ErrorMessage,
		result.Duration.Milliseconds(),
		result.StatusCode,
		result.PagesVisited,
		result.ItemCount,
		result.SnapshotURI,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult fetches a result by ID.
func (s *Store) GetResult(ctx context.Context, id string) (crawler.CrawlResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM crawl_results WHERE id = $1`, id)
	result, err := scanResult(row)
	if err != nil {
		return crawler.CrawlResult{}, notFound(err, crawler.ErrNotFound, "get result "+id)
	}
	return result, nil
}

// ListResults returns the newest results for a target first. A limit of zero
// or less returns all of them.
func (s *Store) ListResults(ctx context.Context, targetID string, limit int) ([]crawler.CrawlResult, error) {
	query := `SELECT ` + resultColumns + ` FROM crawl_results WHERE target_id = $1 ORDER BY ts DESC, id DESC`
	args := []any{targetID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (crawler.CrawlResult, error) {
	var (
		r          crawler.CrawlResult
		data       []byte
		durationMS int64
	)
	err := row.Scan(
		&r.ID,
		&r.TargetID,
		&r.Timestamp,
		&r.Success,
		&data,
		&r.ErrorMessage,
		&durationMS,
		&r.StatusCode,
		&r.PagesVisited,
		&r.ItemCount,
		&r.SnapshotURI,
	)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("decode result data: %w", err)
		}
	}
	return r, nil
}
