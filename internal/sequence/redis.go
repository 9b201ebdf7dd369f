package sequence

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// reseedScript raises KEYS[1] to ARGV[1] when it is lower and refreshes
// the TTL (ARGV[2], seconds).
var reseedScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 0
`)

// Redis keeps counters in Redis so several server processes share one
// invoice sequence.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client)
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "tokoledger:seq:", ttl: 72 * time.Hour}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Next(ctx context.Context, key string) (int64, error) {
	fullKey := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) Reseed(ctx context.Context, key string, floor int64) error {
	return reseedScript.Run(ctx, r.client, []string{r.prefix + key}, floor, int64(r.ttl/time.Second)).Err()
}
