package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/tours-web/internal/xerrors"
)

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "tours:ratelimit:"

// RedisStore shares counters between instances. Window expiry is enforced
// by Redis key TTLs, so only resetAt reporting depends on the caller's clock.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	k := s.prefix + key

	// INCR and PTTL together so the ttl read belongs to the same window as the count
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, xerrors.Wrapf(err, "redis incr %q", k)
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		// first hit of a new window (or a key that lost its ttl)
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, xerrors.Wrapf(err, "redis pexpire %q", k)
		}
		ttl = window
	}
	return int(incr.Val()), now.Add(ttl), nil
}

// Ping reports whether Redis is reachable, for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
