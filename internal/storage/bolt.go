package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"memory-bot/internal/conversation"
)

var boltBucket = []byte("conversation_histories")

// BoltLog stores records in a single bbolt file. Keys are the big-endian
// created_at nanos followed by the bucket sequence, so cursor order is
// creation order and equal timestamps keep append order.
type BoltLog struct {
	db   *bolt.DB
	opts options
}

func NewBoltLog(path string, opts ...Option) (*BoltLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(boltBucket)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltLog{db: db, opts: buildOptions(opts)}, nil
}

func boltKey(createdAt time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k, uint64(createdAt.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

func (l *BoltLog) Append(_ context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	rec.ID = uuid.NewString()
	v, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("bolt sequence: %w", err)
		}
		return b.Put(boltKey(rec.CreatedAt, seq), v)
	})
}

// FetchLatest walks backwards from the newest record until one matches key.
func (l *BoltLog) FetchLatest(_ context.Context, key conversation.Key, _ int) ([]conversation.Turn, error) {
	var found *conversation.Record
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec conversation.Record
			if e := json.Unmarshal(v, &rec); e != nil {
				// Skip malformed
				continue
			}
			if rec.Key() == key {
				found = &rec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt fetch: %w", err)
	}
	if found == nil {
		return []conversation.Turn{}, nil
	}
	return found.Turns()
}

func (l *BoltLog) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	limit := make([]byte, 8)
	binary.BigEndian.PutUint64(limit, uint64(cutoff.UnixNano()))
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], limit) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt prune: %w", err)
	}
	return removed, nil
}

func (l *BoltLog) Close() error { return l.db.Close() }
