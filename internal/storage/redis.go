package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"memory-bot/internal/conversation"
)

// RedisLog keeps one sorted set per conversation, scored by created_at in
// microseconds, plus a set of all conversation keys used by PruneBefore.
// Members carry a zero-padded sequence prefix so equal scores sort in
// append order.
type RedisLog struct {
	cli    *redis.Client
	prefix string
	opts   options
}

func NewRedisLog(ctx context.Context, addr, prefix string, opts ...Option) (*RedisLog, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisLogWithClient(cli, prefix, opts...), nil
}

func NewRedisLogWithClient(cli *redis.Client, prefix string, opts ...Option) *RedisLog {
	if prefix == "" {
		prefix = "conv"
	}
	return &RedisLog{cli: cli, prefix: prefix, opts: buildOptions(opts)}
}

// conversationKey length-prefixes the channel id so that ids containing ':' cannot collide.
func (l *RedisLog) conversationKey(key conversation.Key) string {
	return fmt.Sprintf("%s:c:%d:%s:%s", l.prefix, len(key.ChannelID), key.ChannelID, key.UserID)
}

func (l *RedisLog) indexKey() string { return l.prefix + ":keys" }

func (l *RedisLog) seqKey() string { return l.prefix + ":seq" }

// pruneScript trims one conversation and drops it from the index once empty.
// It runs as a script so an Append cannot land between the count and the SREM.
var pruneScript = redis.NewScript(`
local n = redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], KEYS[1])
end
return n
`)

func encodeMember(seq int64, rec []byte) string {
	return fmt.Sprintf("%020d|%s", seq, rec)
}

func decodeMember(member string) (conversation.Record, error) {
	var rec conversation.Record
	_, body, ok := strings.Cut(member, "|")
	if !ok {
		return rec, fmt.Errorf("decode record: missing sequence prefix")
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (l *RedisLog) Append(ctx context.Context, key conversation.Key, turns []conversation.Turn) error {
	rec, err := newRecord(key, turns, l.opts.now())
	if err != nil {
		return err
	}
	rec.ID = uuid.NewString()
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	seq, err := l.cli.Incr(ctx, l.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis sequence: %w", err)
	}
	ck := l.conversationKey(key)
	_, err = l.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, ck, redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: encodeMember(seq, body)})
		p.SAdd(ctx, l.indexKey(), ck)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (l *RedisLog) FetchLatest(ctx context.Context, key conversation.Key, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = conversation.DefaultHistoryLimit
	}
	members, err := l.cli.ZRevRange(ctx, l.conversationKey(key), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis fetch: %w", err)
	}
	if len(members) == 0 {
		return []conversation.Turn{}, nil
	}
	rec, err := decodeMember(members[0])
	if err != nil {
		return nil, err
	}
	return rec.Turns()
}

func (l *RedisLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := l.cli.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list keys: %w", err)
	}
	upper := "(" + strconv.FormatInt(cutoff.UTC().UnixMicro(), 10)
	total := 0
	for _, ck := range keys {
		n, err := pruneScript.Run(ctx, l.cli, []string{ck, l.indexKey()}, upper).Int64()
		if err != nil {
			return total, fmt.Errorf("redis prune %s: %w", ck, err)
		}
		total += int(n)
	}
	return total, nil
}

func (l *RedisLog) Close() error { return l.cli.Close() }
