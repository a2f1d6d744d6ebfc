package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"memory-bot/internal/conversation"
)

// restTiebreakColumn orders rows that share a created_at. Supabase tables
// carry an identity "id" column that grows with every insert.
const restTiebreakColumn = "id"

// RESTLog talks to a PostgREST endpoint (Supabase style) over HTTPS.
// The table has columns channel_id, user_id, messages and created_at.
type RESTLog struct {
	client    *postgrest.Client
	transport *http.Transport
	table     string
	timeout   time.Duration
	opts      options
}

func NewRESTLog(baseURL, key, table string, timeout time.Duration, opts ...Option) (*RESTLog, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest store: STORE_URL is empty")
	}
	if key == "" {
		return nil, fmt.Errorf("rest store: STORE_KEY is empty")
	}
	if table == "" {
		table = "conversation_histories"
	}
	if !strings.HasSuffix(baseURL, "/rest/v1") {
		baseURL += "/rest/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := postgrest.NewClient(baseURL, "", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("rest store: %w", client.ClientError)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	client.Transport.Parent = tr
	return &RESTLog{
		client:    client,
		transport: tr,
		table:     table,
		timeout:   timeout,
		opts:      buildOptions(opts),
	}, nil
}

type restRow struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Messages  string    `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (l *RESTLog) Append(ctx context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	row := restRow{ChannelID: rec.ChannelID, UserID: rec.UserID, Messages: rec.Messages, CreatedAt: rec.CreatedAt}
	err = l.run(ctx, func() error {
		_, _, err := l.client.From(l.table).Insert(row, false, "", "minimal", "").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (l *RESTLog) FetchLatest(ctx context.Context, key conversation.Key, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = conversation.DefaultHistoryLimit
	}
	var rows []struct {
		Messages json.RawMessage `json:"messages"`
	}
	err := l.run(ctx, func() error {
		_, err := l.client.From(l.table).
			Select("messages", "", false).
			Eq("channel_id", key.ChannelID).
			Eq("user_id", key.UserID).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			Order(restTiebreakColumn, &postgrest.OrderOpts{Ascending: false}).
			Limit(limit, "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if len(rows) == 0 {
		return []conversation.Turn{}, nil
	}
	return decodeMessagesColumn(rows[0].Messages)
}

// PruneBefore asks for the deleted rows back so it can report how many went.
func (l *RESTLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var body []byte
	err := l.run(ctx, func() error {
		b, _, err := l.client.From(l.table).
			Delete("representation", "").
			Lt("created_at", cutoff.UTC().Format(time.RFC3339Nano)).
			Execute()
		body = b
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return 0, nil
	}
	var deleted []json.RawMessage
	if err := json.Unmarshal(body, &deleted); err != nil {
		return 0, fmt.Errorf("decode deleted rows: %w", err)
	}
	return len(deleted), nil
}

func (l *RESTLog) Close() error {
	l.transport.CloseIdleConnections()
	return nil
}

// run bounds a postgrest call by ctx and the store timeout. The client has no
// context support, so an abandoned call finishes in the background.
func (l *RESTLog) run(ctx context.Context, call func() error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeMessagesColumn accepts the column either as a JSON-encoded string (text
// column) or as an inline array (json/jsonb column).
func decodeMessagesColumn(raw json.RawMessage) ([]conversation.Turn, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []conversation.Turn{}, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode messages column: %w", err)
		}
		return conversation.DecodeTurns(s)
	}
	return conversation.DecodeTurns(string(trimmed))
}
