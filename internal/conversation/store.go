package conversation

import (
	"context"
	"log"
	"time"
)

// Log is the durable tier. Implementations insert full snapshots and never rewrite old rows.
type Log interface {
	// Append inserts a new timestamped record for key.
	Append(ctx context.Context, key Key, turns []Turn) error
	// FetchLatest returns the turns of the single newest record for key. limit bounds the
	// rows read, never the turns returned; records are not merged.
	FetchLatest(ctx context.Context, key Key, limit int) ([]Turn, error)
	// PruneBefore deletes every record created strictly before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Observer receives store events. observability.Metrics satisfies it.
type Observer interface {
	CacheHit()
	CacheMiss()
	StoreError(op string)
	Swept(n int)
}

type nopObserver struct{}

func (nopObserver) CacheHit()         {}
func (nopObserver) CacheMiss()        {}
func (nopObserver) StoreError(string) {}
func (nopObserver) Swept(int)         {}

const (
	DefaultHistoryLimit = 10
	DefaultRetention    = 30 * 24 * time.Hour
)

// Store ties the cache and the durable log together with a cache-aside read path
// and a write-through save path. No locks are held across log calls; concurrent
// saves to one key are last-writer-wins on each tier independently.
type Store struct {
	log      Log
	cache    Cache
	observer Observer
	now      func() time.Time
	limit    int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

func NewStore(l Log, cache Cache, opts ...Option) *Store {
	if cache == nil {
		cache = NewCache(DefaultCacheCapacity)
	}
	s := &Store{
		log:      l,
		cache:    cache,
		observer: nopObserver{},
		now:      time.Now,
		limit:    DefaultHistoryLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Conversation returns the known turns for key. A failed log read yields an empty
// slice and is not cached, so the next call retries the log. A successful empty
// read is cached.
func (s *Store) Conversation(ctx context.Context, key Key) []Turn {
	if turns, ok := s.cache.Get(key); ok {
		s.observer.CacheHit()
		return turns
	}
	s.observer.CacheMiss()

	turns, err := s.log.FetchLatest(ctx, key, s.limit)
	if err != nil {
		s.observer.StoreError("fetch")
		log.Printf("conversation fetch failed for %s: %v", key, err)
		return []Turn{}
	}
	if turns == nil {
		turns = []Turn{}
	}
	s.cache.Put(key, turns)
	return cloneTurns(turns)
}

// Save persists the full turn list and refreshes the cache with it even when the
// append fails. The append error is returned for the caller to log.
func (s *Store) Save(ctx context.Context, key Key, turns []Turn) error {
	err := s.log.Append(ctx, key, turns)
	if err != nil {
		s.observer.StoreError("append")
		log.Printf("conversation save failed for %s: %v", key, err)
	}
	s.cache.Put(key, turns)
	return err
}

// SweepExpired deletes log records older than retention. The cache is left alone.
func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.now().UTC().Add(-retention)
	n, err := s.log.PruneBefore(ctx, cutoff)
	if err != nil {
		s.observer.StoreError("prune")
		log.Printf("retention sweep failed (cutoff %s): %v", cutoff.Format(time.RFC3339), err)
		return 0, err
	}
	s.observer.Swept(n)
	log.Printf("retention sweep removed %d conversation records older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func (s *Store) Close() error { return s.log.Close() }
