package recovery

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type targetLedger struct {
	history    []crawler.ErrorEntry
	unresolved int
}

// MemoryLedger keeps error ledgers in process memory.
type MemoryLedger struct {
	mu         sync.Mutex
	maxHistory int
	targets    map[string]*targetLedger
}

// NewMemoryLedger returns an empty MemoryLedger that keeps the newest
// maxHistory entries per target. Zero keeps everything.
func NewMemoryLedger(maxHistory int) *MemoryLedger {
	return &MemoryLedger{
		maxHistory: max(maxHistory, 0),
		targets:    make(map[string]*targetLedger),
	}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, targetID string, entry crawler.ErrorEntry) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl := l.targets[targetID]
	if tl == nil {
		tl = &targetLedger{}
		l.targets[targetID] = tl
	}
	tl.history = append(tl.history, entry)
	if l.maxHistory > 0 && len(tl.history) > l.maxHistory {
		tl.history = append(tl.history[:0:0], tl.history[len(tl.history)-l.maxHistory:]...)
	}
	tl.unresolved++
	return tl.unresolved, nil
}

// Unresolved implements Ledger.
func (l *MemoryLedger) Unresolved(_ context.Context, targetID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tl := l.targets[targetID]; tl != nil {
		return tl.unresolved, nil
	}
	return 0, nil
}

// Clear implements Ledger.
func (l *MemoryLedger) Clear(_ context.Context, targetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tl := l.targets[targetID]; tl != nil {
		tl.unresolved = 0
	}
	return nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, targetID string) ([]crawler.ErrorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl := l.targets[targetID]
	if tl == nil {
		return nil, nil
	}
	out := make([]crawler.ErrorEntry, len(tl.history))
	copy(out, tl.history)
	return out, nil
}
