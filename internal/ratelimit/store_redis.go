package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow выполняется в redis атомарно, поэтому окно общее для всех
// экземпляров шлюза. Оценки в сортированном множестве хранят миллисекунды.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max    = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
	redis.call('PEXPIRE', key, window)
	return {0, count}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count + 1}
`)

// RedisStore окна в redis под префиксом ключей.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, error) {
	const op = "ratelimit.RedisStore.Hit"
	res, err := slidingWindow.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), max, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("%s: unexpected script result %v", op, res)
	}
	return res[0] == 1, int(res[1]), nil
}
