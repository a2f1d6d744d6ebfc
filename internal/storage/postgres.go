package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memory-bot/internal/conversation"
)

// PostgresLog persists conversation snapshots in PostgreSQL.
type PostgresLog struct {
	pool  *pgxpool.Pool
	table string
	opts  options
}

func NewPostgresLog(ctx context.Context, databaseURL, table string, opts ...Option) (*PostgresLog, error) {
	if table == "" {
		table = "conversation_histories"
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l := &PostgresLog{pool: pool, table: pgx.Identifier{table}.Sanitize(), opts: buildOptions(opts)}
	if err := l.initSchema(ctx, table); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLog) initSchema(ctx context.Context, table string) error {
	idx := pgx.Identifier{"idx_" + table + "_key_created"}.Sanitize()
	idxCreated := pgx.Identifier{"idx_" + table + "_created"}.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + l.table + ` (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			channel_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			messages TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`ALTER TABLE ` + l.table + ` ADD COLUMN IF NOT EXISTS seq BIGSERIAL;`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + l.table + ` (channel_id, user_id, created_at DESC, seq DESC);`,
		`CREATE INDEX IF NOT EXISTS ` + idxCreated + ` ON ` + l.table + ` (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO `+l.table+` (id, channel_id, user_id, messages, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(),
		rec.ChannelID,
		rec.UserID,
		rec.Messages,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (l *PostgresLog) FetchLatest(ctx context.Context, key conversation.Key, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = conversation.DefaultHistoryLimit
	}
	rows, err := l.pool.Query(ctx,
		`SELECT messages FROM `+l.table+` WHERE channel_id=$1 AND user_id=$2 ORDER BY created_at DESC, seq DESC LIMIT $3`,
		key.ChannelID,
		key.UserID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest conversation: %w", err)
	}
	defer rows.Close()

	// Only the newest row is used, whatever limit was.
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate conversation rows: %w", err)
		}
		return []conversation.Turn{}, nil
	}
	var msgs string
	if err := rows.Scan(&msgs); err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conversation.DecodeTurns(msgs)
}

func (l *PostgresLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM `+l.table+` WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}
