// Package redisledger stores crawl error ledgers in Redis so that several
// engine processes share one view of a target's unresolved errors.
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const defaultPrefix = "catalogcrawler:errors"

// Config controls key layout and history retention.
type Config struct {
	Prefix string
	// MaxHistory trims the history list to the newest entries. Zero keeps everything.
	MaxHistory int64
}

// Ledger implements recovery.Ledger on Redis lists and counters.
type Ledger struct {
	client redis.UniversalClient
	cfg    Config
}

// New wraps client.
func New(client redis.UniversalClient, cfg Config) (*Ledger, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Ledger{client: client, cfg: cfg}, nil
}

func (l *Ledger) historyKey(targetID string) string {
	return fmt.Sprintf("%s:%s:history", l.cfg.Prefix, targetID)
}

func (l *Ledger) unresolvedKey(targetID string) string {
	return fmt.Sprintf("%s:%s:unresolved", l.cfg.Prefix, targetID)
}

// Append pushes entry and increments the unresolved counter in one transaction.
func (l *Ledger) Append(ctx context.Context, targetID string, entry crawler.ErrorEntry) (int, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal error entry: %w", err)
	}
	var incr *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, l.historyKey(targetID), payload)
		if l.cfg.MaxHistory > 0 {
			pipe.LTrim(ctx, l.historyKey(targetID), -l.cfg.MaxHistory, -1)
		}
		incr = pipe.Incr(ctx, l.unresolvedKey(targetID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append error entry: %w", err)
	}
	return int(incr.Val()), nil
}

// Unresolved returns the unresolved counter, zero when absent.
func (l *Ledger) Unresolved(ctx context.Context, targetID string) (int, error) {
	n, err := l.client.Get(ctx, l.unresolvedKey(targetID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get unresolved count: %w", err)
	}
	return n, nil
}

// Clear deletes the unresolved counter and leaves history in place.
func (l *Ledger) Clear(ctx context.Context, targetID string) error {
	if err := l.client.Del(ctx, l.unresolvedKey(targetID)).Err(); err != nil {
		return fmt.Errorf("clear unresolved count: %w", err)
	}
	return nil
}

// History returns every retained entry, oldest first.
func (l *Ledger) History(ctx context.Context, targetID string) ([]crawler.ErrorEntry, error) {
	raw, err := l.client.LRange(ctx, l.historyKey(targetID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read error history: %w", err)
	}
	out := make([]crawler.ErrorEntry, 0, len(raw))
	for _, item := range raw {
		var entry crawler.ErrorEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode error entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
