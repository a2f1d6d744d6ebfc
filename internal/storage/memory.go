package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-bot/internal/conversation"
)

// MemoryLog keeps records in process memory. It is meant for tests and for running without a store.
type MemoryLog struct {
	mu      sync.RWMutex
	records []conversation.Record
	opts    options
}

func NewMemoryLog(opts ...Option) *MemoryLog {
	return &MemoryLog{opts: buildOptions(opts)}
}

func (l *MemoryLog) Append(_ context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	rec.ID = uuid.NewString()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *MemoryLog) FetchLatest(_ context.Context, key conversation.Key, _ int) ([]conversation.Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latestTurns(l.records, key)
}

func (l *MemoryLog) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	removed := 0
	for _, r := range l.records {
		if r.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return removed, nil
}

func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *MemoryLog) Close() error { return nil }
