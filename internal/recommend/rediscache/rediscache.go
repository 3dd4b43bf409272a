// Package rediscache provides a Redis-backed recommend.Cache for multi-node
// deployments where recommendation results should be shared across workers.
package rediscache

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/internal/recommend"
)

const keyPrefix = "curio:recommend:"

// Cache stores serialized recommendation responses in Redis with TTL-based
// expiry. Redis enforces expiration server-side; a losing concurrent write
// simply overwrites, matching the single-writer-wins policy.
type Cache struct {
	pool *redis.Pool
	ttl  time.Duration
	log  zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Redis cache against addr (host:port).
func New(addr string, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		pool: &redis.Pool{
			MaxIdle:     4,
			IdleTimeout: 5 * time.Minute,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr, redis.DialConnectTimeout(5*time.Second))
			},
		},
		ttl: ttl,
		log: log.With().Str("component", "rediscache").Logger(),
	}
}

// Close releases the connection pool.
func (c *Cache) Close() error { return c.pool.Close() }

// Get returns the cached response for key, if present. Redis errors degrade
// to a miss: the result is recomputable, a cache outage must not fail the
// request.
func (c *Cache) Get(key string) (*recommend.Response, bool) {
	conn := c.pool.Get()
	defer conn.Close()

	blob, err := redis.Bytes(conn.Do("GET", keyPrefix+key))
	if err == redis.ErrNil {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("cache read failed, treating as miss")
		c.misses.Add(1)
		return nil, false
	}

	var resp recommend.Response
	if err := json.Unmarshal(blob, &resp); err != nil {
		c.log.Warn().Err(err).Msg("cache entry corrupt, treating as miss")
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &resp, true
}

// Put stores resp under key with the configured TTL. Write failures are
// logged and dropped; the entry just won't be served.
func (c *Cache) Put(key string, resp *recommend.Response) {
	blob, err := json.Marshal(resp)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache marshal failed")
		return
	}

	conn := c.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", keyPrefix+key, blob, "PX", c.ttl.Milliseconds()); err != nil {
		c.log.Warn().Err(err).Msg("cache write failed")
	}
}

// Stats reports hit/miss counts observed by this process. Entry count is
// not tracked; Redis owns the keyspace.
func (c *Cache) Stats() recommend.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return recommend.CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}
