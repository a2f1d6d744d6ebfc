package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"memory-bot/internal/config"
	"memory-bot/internal/conversation"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type logFactory func(t *testing.T, now func() time.Time) conversation.Log

func backends(t *testing.T) map[string]logFactory {
	t.Helper()
	out := map[string]logFactory{
		"memory": func(t *testing.T, now func() time.Time) conversation.Log {
			return NewMemoryLog(WithClock(now))
		},
		"file": func(t *testing.T, now func() time.Time) conversation.Log {
			l, err := NewFileLog(filepath.Join(t.TempDir(), "data", "log.jsonl"), WithClock(now))
			if err != nil {
				t.Fatalf("init file log: %v", err)
			}
			return l
		},
		"bolt": func(t *testing.T, now func() time.Time) conversation.Log {
			l, err := NewBoltLog(filepath.Join(t.TempDir(), "conv.bolt"), WithClock(now))
			if err != nil {
				t.Fatalf("init bolt log: %v", err)
			}
			return l
		},
		"redis": func(t *testing.T, now func() time.Time) conversation.Log {
			srv := miniredis.RunT(t)
			cli := redis.NewClient(&redis.Options{Addr: srv.Addr()})
			return NewRedisLogWithClient(cli, "test", WithClock(now))
		},
		"rest": func(t *testing.T, now func() time.Time) conversation.Log {
			srv := newFakePostgREST(t)
			l, err := NewRESTLog(srv.URL, "anon-key", "conversation_histories", time.Second, WithClock(now))
			if err != nil {
				t.Fatalf("init rest log: %v", err)
			}
			return l
		},
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		out["postgres"] = func(t *testing.T, now func() time.Time) conversation.Log {
			table := "conv_test_" + time.Now().Format("150405000000")
			l, err := NewPostgresLog(context.Background(), dsn, table, WithClock(now))
			if err != nil {
				t.Fatalf("init postgres log: %v", err)
			}
			t.Cleanup(func() {
				_, _ = l.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+l.table)
			})
			return l
		}
	}
	return out
}

func TestLogs_MissingKeyReturnsEmpty(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := &testClock{t: time.Now().UTC()}
			l := mk(t, c.Now)
			defer func() { _ = l.Close() }()
			turns, err := l.FetchLatest(context.Background(), conversation.Key{ChannelID: "c", UserID: "none"}, 10)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if turns == nil || len(turns) != 0 {
				t.Fatalf("want empty slice, got %#v", turns)
			}
		})
	}
}

func TestLogs_FetchLatestReturnsNewestSnapshotOnly(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &testClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
			l := mk(t, c.Now)
			defer func() { _ = l.Close() }()
			key := conversation.Key{ChannelID: "c1", UserID: "u1"}
			other := conversation.Key{ChannelID: "c1", UserID: "u2"}

			first := []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}, {Role: conversation.RoleAssistant, Content: "hello"}}
			second := append(append([]conversation.Turn{}, first...),
				conversation.Turn{Role: conversation.RoleUser, Content: "bye"},
				conversation.Turn{Role: conversation.RoleAssistant, Content: "cya"})

			if err := l.Append(ctx, key, first); err != nil {
				t.Fatalf("append1: %v", err)
			}
			c.t = c.t.Add(time.Minute)
			if err := l.Append(ctx, key, second); err != nil {
				t.Fatalf("append2: %v", err)
			}
			c.t = c.t.Add(time.Minute)
			if err := l.Append(ctx, other, []conversation.Turn{{Role: conversation.RoleUser, Content: "other"}}); err != nil {
				t.Fatalf("append other: %v", err)
			}

			got, err := l.FetchLatest(ctx, key, 10)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(got) != 4 {
				t.Fatalf("want 4 turns (no merge of older snapshots), got %d: %+v", len(got), got)
			}
			for i := range second {
				if got[i] != second[i] {
					t.Fatalf("turn %d: got %+v want %+v", i, got[i], second[i])
				}
			}
		})
	}
}

func TestLogs_SameTimestampPrefersLastAppend(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &testClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
			l := mk(t, c.Now)
			defer func() { _ = l.Close() }()

			for round := 0; round < 20; round++ {
				key := conversation.Key{ChannelID: "frozen", UserID: strconv.Itoa(round)}
				first := []conversation.Turn{{Role: conversation.RoleUser, Content: "first"}}
				second := append(append([]conversation.Turn{}, first...),
					conversation.Turn{Role: conversation.RoleAssistant, Content: "more"})
				if err := l.Append(ctx, key, first); err != nil {
					t.Fatalf("append first: %v", err)
				}
				if err := l.Append(ctx, key, second); err != nil {
					t.Fatalf("append second: %v", err)
				}
				got, err := l.FetchLatest(ctx, key, 10)
				if err != nil {
					t.Fatalf("fetch: %v", err)
				}
				if len(got) != 2 || got[1].Content != "more" {
					t.Fatalf("round %d: want the later snapshot, got %+v", round, got)
				}
			}
		})
	}
}

func TestLogs_PruneBefore(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
			c := &testClock{}
			l := mk(t, c.Now)
			defer func() { _ = l.Close() }()

			old := conversation.Key{ChannelID: "c", UserID: "old"}
			fresh := conversation.Key{ChannelID: "c", UserID: "fresh"}
			c.t = now.Add(-45 * 24 * time.Hour)
			_ = l.Append(ctx, old, []conversation.Turn{{Role: conversation.RoleUser, Content: "a"}})
			c.t = now.Add(-31 * 24 * time.Hour)
			_ = l.Append(ctx, old, []conversation.Turn{{Role: conversation.RoleUser, Content: "b"}})
			c.t = now.Add(-1 * time.Hour)
			_ = l.Append(ctx, fresh, []conversation.Turn{{Role: conversation.RoleUser, Content: "c"}})

			cutoff := now.Add(-30 * 24 * time.Hour)
			n, err := l.PruneBefore(ctx, cutoff)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 2 {
				t.Fatalf("want 2 pruned, got %d", n)
			}
			n, err = l.PruneBefore(ctx, cutoff)
			if err != nil || n != 0 {
				t.Fatalf("second prune: n=%d err=%v", n, err)
			}

			gotOld, _ := l.FetchLatest(ctx, old, 10)
			if len(gotOld) != 0 {
				t.Fatalf("old conversation survived: %+v", gotOld)
			}
			gotFresh, _ := l.FetchLatest(ctx, fresh, 10)
			if len(gotFresh) != 1 || gotFresh[0].Content != "c" {
				t.Fatalf("fresh conversation lost: %+v", gotFresh)
			}
		})
	}
}

func TestLogs_RejectInvalidKey(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := mk(t, time.Now)
			defer func() { _ = l.Close() }()
			err := l.Append(context.Background(), conversation.Key{ChannelID: "c"}, nil)
			if !errors.Is(err, conversation.ErrInvalidKey) {
				t.Fatalf("want ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestFileLog_SkipsMalformedLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.jsonl")
	l, err := NewFileLog(p)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	key := conversation.Key{ChannelID: "c", UserID: "u"}
	if err := l.Append(context.Background(), key, []conversation.Turn{{Role: conversation.RoleUser, Content: "ok"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("{oops\n")
	_ = f.Close()

	got, err := l.FetchLatest(context.Background(), key, 1)
	if err != nil || len(got) != 1 || got[0].Content != "ok" {
		t.Fatalf("unexpected %+v err %v", got, err)
	}
}

func TestRedisLog_KeysDoNotCollide(t *testing.T) {
	l := NewRedisLogWithClient(nil, "p")
	a := l.conversationKey(conversation.Key{ChannelID: "a:b", UserID: "c"})
	b := l.conversationKey(conversation.Key{ChannelID: "a", UserID: "b:c"})
	if a == b {
		t.Fatalf("keys collided: %s", a)
	}
}

func TestRedisLog_PruneDropsEmptyKeysFromIndex(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &testClock{t: now.Add(-40 * 24 * time.Hour)}
	l := NewRedisLogWithClient(cli, "idx", WithClock(c.Now))
	defer func() { _ = l.Close() }()

	stale := conversation.Key{ChannelID: "c", UserID: "stale"}
	mixed := conversation.Key{ChannelID: "c", UserID: "mixed"}
	_ = l.Append(ctx, stale, []conversation.Turn{{Role: conversation.RoleUser, Content: "a"}})
	_ = l.Append(ctx, mixed, []conversation.Turn{{Role: conversation.RoleUser, Content: "b"}})
	c.t = now
	_ = l.Append(ctx, mixed, []conversation.Turn{{Role: conversation.RoleUser, Content: "c"}})

	n, err := l.PruneBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("want 2 pruned, got %d %v", n, err)
	}
	members, err := cli.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(members) != 1 || members[0] != l.conversationKey(mixed) {
		t.Fatalf("want only the live conversation indexed, got %v", members)
	}

	// A later write re-registers the pruned conversation.
	_ = l.Append(ctx, stale, []conversation.Turn{{Role: conversation.RoleUser, Content: "back"}})
	if ok, _ := cli.SIsMember(ctx, l.indexKey(), l.conversationKey(stale)).Result(); !ok {
		t.Fatalf("re-appended conversation missing from index")
	}
}

func TestRedisLog_MemberKeepsAppendOrder(t *testing.T) {
	if encodeMember(9, []byte("{}")) >= encodeMember(10, []byte("{}")) {
		t.Fatalf("sequence prefix must sort numerically")
	}
	rec, err := decodeMember(encodeMember(3, []byte(`{"channel_id":"c","user_id":"u","messages":"[]"}`)))
	if err != nil || rec.ChannelID != "c" || rec.UserID != "u" {
		t.Fatalf("decode: %+v %v", rec, err)
	}
	if _, err := decodeMember(`{"channel_id":"c"}`); err == nil {
		t.Fatalf("want error for member without sequence")
	}
}

func TestResolveBackend(t *testing.T) {
	cases := []struct {
		cfg  config.Config
		want config.StoreBackend
	}{
		{config.Config{StoreURL: "https://x.supabase.co"}, config.BackendREST},
		{config.Config{DatabaseURL: "postgres://localhost/db"}, config.BackendPostgres},
		{config.Config{}, config.BackendMemory},
		{config.Config{StoreBackend: "BOLT", StoreURL: "https://x"}, config.BackendBolt},
	}
	for _, tc := range cases {
		if got := ResolveBackend(&tc.cfg); got != tc.want {
			t.Fatalf("ResolveBackend(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}

func TestNewLog_UnknownBackend(t *testing.T) {
	_, err := NewLog(context.Background(), &config.Config{StoreBackend: "cassandra"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("want ErrUnknownBackend, got %v", err)
	}
}

func TestNewLog_FileBackend(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.BackendFile, LogFilePath: filepath.Join(t.TempDir(), "nested", "conv.jsonl")}
	l, err := NewLog(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer func() { _ = l.Close() }()
	if _, ok := l.(*FileLog); !ok {
		t.Fatalf("want *FileLog, got %T", l)
	}
}

func TestNewLog_RESTMissingKeyFails(t *testing.T) {
	l, err := NewLog(context.Background(), &config.Config{StoreURL: "https://x.supabase.co"})
	if err == nil {
		t.Fatalf("want error without STORE_KEY")
	}
	if l != nil {
		t.Fatalf("want nil log on error, got %T", l)
	}
}
