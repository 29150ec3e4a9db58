package levelcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/platform"
	redis "github.com/redis/go-redis/v9"
)

// Redis is a Cache shared by every process pointing at the same server. Expiry is
// delegated to the key TTL.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Cache = (*Redis)(nil)

// NewRedisFromURL connects using a redis:// URL.
func NewRedisFromURL(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedis(redis.NewClient(opt), ttl), nil
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "stockproxy:levels:"}
}

func (c *Redis) key(k string) string { return c.prefix + k }

// Get treats any redis failure as a miss so that reads fall through to the platform.
func (c *Redis) Get(ctx context.Context, key string) ([]platform.InventoryLevel, bool) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("levelcache: redis get %s: %v", key, err)
		}
		return nil, false
	}
	var levels []platform.InventoryLevel
	if err := json.Unmarshal(raw, &levels); err != nil {
		logger.Warn("levelcache: corrupt entry %s: %v", key, err)
		return nil, false
	}
	return levels, true
}

func (c *Redis) Put(ctx context.Context, key string, levels []platform.InventoryLevel) error {
	if levels == nil {
		levels = []platform.InventoryLevel{}
	}
	data, err := json.Marshal(levels)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), data, c.ttl).Err()
}

// Ping checks connectivity.
func (c *Redis) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Close releases the connection pool.
func (c *Redis) Close() error { return c.rdb.Close() }
