// Package storage holds the durable conversation log backends.
//
// Every backend stores full snapshots: one row per save, keyed by
// (channel_id, user_id, created_at), with the turns serialized as a JSON
// array in the messages column. Rows are never rewritten, only pruned by age.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"memory-bot/internal/config"
	"memory-bot/internal/conversation"
)

var ErrUnknownBackend = errors.New("unknown store backend")

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ResolveBackend picks a backend when none is configured explicitly.
func ResolveBackend(cfg *config.Config) config.StoreBackend {
	if cfg.StoreBackend != config.BackendAuto {
		return config.StoreBackend(strings.ToLower(string(cfg.StoreBackend)))
	}
	switch {
	case cfg.StoreURL != "":
		return config.BackendREST
	case cfg.DatabaseURL != "":
		return config.BackendPostgres
	default:
		return config.BackendMemory
	}
}

// NewLog creates the durable log selected by configuration.
func NewLog(ctx context.Context, cfg *config.Config, opts ...Option) (conversation.Log, error) {
	backend := ResolveBackend(cfg)
	var (
		l   conversation.Log
		err error
	)
	switch backend {
	case config.BackendREST:
		var rl *RESTLog
		if rl, err = NewRESTLog(cfg.StoreURL, cfg.StoreKey, cfg.StoreTable, cfg.StoreTimeout, opts...); err == nil {
			l = rl
		}
	case config.BackendPostgres:
		var pl *PostgresLog
		if pl, err = NewPostgresLog(ctx, cfg.DatabaseURL, cfg.StoreTable, opts...); err == nil {
			l = pl
		}
	case config.BackendRedis:
		var rl *RedisLog
		if rl, err = NewRedisLog(ctx, cfg.RedisAddr, cfg.RedisPrefix, opts...); err == nil {
			l = rl
		}
	case config.BackendBolt:
		var bl *BoltLog
		if bl, err = NewBoltLog(cfg.BoltPath, opts...); err == nil {
			l = bl
		}
	case config.BackendFile:
		var fl *FileLog
		if fl, err = NewFileLog(cfg.LogFilePath, opts...); err == nil {
			l = fl
		}
	case config.BackendMemory:
		log.Printf("Warning: using in-memory conversation log, history will not survive restarts")
		l = NewMemoryLog(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", backend, err)
	}
	return l, nil
}

func newRecord(key conversation.Key, turns []conversation.Turn, createdAt time.Time) (conversation.Record, error) {
	if err := key.Validate(); err != nil {
		return conversation.Record{}, err
	}
	msgs, err := conversation.EncodeTurns(turns)
	if err != nil {
		return conversation.Record{}, err
	}
	return conversation.Record{
		ChannelID: key.ChannelID,
		UserID:    key.UserID,
		Messages:  msgs,
		CreatedAt: createdAt.UTC(),
	}, nil
}

// latestTurns returns the turns of the newest record in recs matching key.
// Ties on created_at go to the record that appears later in recs.
func latestTurns(recs []conversation.Record, key conversation.Key) ([]conversation.Turn, error) {
	var matched []conversation.Record
	for _, r := range recs {
		if r.Key() == key {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return []conversation.Turn{}, nil
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	// SliceStable keeps append order among equal timestamps; prefer the last appended.
	best := matched[0]
	for _, r := range matched[1:] {
		if r.CreatedAt.Equal(best.CreatedAt) {
			best = r
			continue
		}
		break
	}
	return best.Turns()
}
