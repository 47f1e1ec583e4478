package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncwell/pulse/ratelimit"
)

// consumeScript prunes one identifier's window, reports its surviving state,
// and inserts the new entry when under the limit, all in one atomic step so
// two concurrent calls at the limit boundary never both get admitted.
//
// KEYS[1] window sorted set
// ARGV[1] prune cutoff, unix ms (entries at or before this are expired)
// ARGV[2] now, unix ms
// ARGV[3] limit
// ARGV[4] key TTL, ms
// ARGV[5] unique member for the inserted entry
//
// Returns {count, oldest_ms, admitted}.
var consumeScript = goredis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local oldest = 0
if count > 0 then
	local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	oldest = tonumber(first[2])
end
local admitted = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
	admitted = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {count, oldest, admitted}
`)

// Consume prunes entries older than now-window for the identifier, then
// inserts an entry for now if fewer than limit survive.
func (s *Store) Consume(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (ratelimit.Window, bool, error) {
	cutoff := now.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), s.seq.Add(1))

	res, err := consumeScript.Run(ctx, s.client, []string{windowKey(identifier)},
		cutoff,
		now.UnixMilli(),
		limit,
		window.Milliseconds()+1000, // slack so a full window never expires early
		member,
	).Result()
	if err != nil {
		return ratelimit.Window{}, false, fmt.Errorf("pulse/redis: consume window: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return ratelimit.Window{}, false, fmt.Errorf("pulse/redis: consume window: unexpected reply %v", res)
	}
	count, _ := vals[0].(int64)
	oldest, _ := vals[1].(int64)
	admitted, _ := vals[2].(int64)

	w := ratelimit.Window{Count: int(count)}
	if count > 0 {
		w.Oldest = time.UnixMilli(oldest).UTC()
	}
	return w, admitted == 1, nil
}

// Peek prunes and returns the window state without inserting.
func (s *Store) Peek(ctx context.Context, identifier string, window time.Duration, now time.Time) (ratelimit.Window, error) {
	key := windowKey(identifier)
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	card := pipe.ZCard(ctx, key)
	first := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Window{}, fmt.Errorf("pulse/redis: peek window: %w", err)
	}

	w := ratelimit.Window{Count: int(card.Val())}
	if zs := first.Val(); len(zs) > 0 {
		w.Oldest = time.UnixMilli(int64(zs[0].Score)).UTC()
	}
	return w, nil
}
