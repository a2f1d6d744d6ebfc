package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-bot/internal/conversation"
)

// FileLog stores records as JSON Lines, one record per line, in append order.
type FileLog struct {
	path string
	mu   sync.Mutex
	opts options
}

func NewFileLog(path string, opts ...Option) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init log file: %w", err)
	}
	_ = f.Close()
	return &FileLog{path: path, opts: buildOptions(opts)}, nil
}

func (l *FileLog) Append(_ context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	rec.ID = uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

func (l *FileLog) FetchLatest(_ context.Context, key conversation.Key, _ int) ([]conversation.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return nil, err
	}
	return latestTurns(recs, key)
}

func (l *FileLog) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return 0, err
	}
	kept := make([]conversation.Record, 0, len(recs))
	for _, r := range recs {
		if !r.CreatedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(recs) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := l.rewrite(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *FileLog) Close() error { return nil }

// load reads all records. Malformed lines are skipped. Caller holds mu.
func (l *FileLog) load() ([]conversation.Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 10*1024*1024)
	var recs []conversation.Record
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec conversation.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return recs, nil
}

// rewrite replaces the file contents through a temp file and rename. Caller holds mu.
func (l *FileLog) rewrite(recs []conversation.Record) error {
	tmp := l.path + ".tmp"
	wf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open write: %w", err)
	}
	enc := json.NewEncoder(wf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = wf.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	return nil
}
