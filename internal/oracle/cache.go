package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
)

// OutcomeCache stores fetched outcomes by clan tag.
type OutcomeCache interface {
	Get(ctx context.Context, clanTag string) (Outcome, bool, error)
	Set(ctx context.Context, clanTag string, outcome Outcome, ttl time.Duration) error
}

// ConnectRedis opens and pings a Redis client.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisCache keeps outcomes as JSON values in Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func outcomeKey(clanTag string) string { return "skillbet:warlog:" + clanTag }

// Get returns the cached outcome, if any.
func (c *RedisCache) Get(ctx context.Context, clanTag string) (Outcome, bool, error) {
	raw, err := c.rdb.Get(ctx, outcomeKey(clanTag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, false, err
	}
	return outcome, true, nil
}

// Set stores the outcome with a TTL.
func (c *RedisCache) Set(ctx context.Context, clanTag string, outcome Outcome, ttl time.Duration) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, outcomeKey(clanTag), raw, ttl).Err()
}

// Cached serves repeated lookups for the same clan from a cache. Cache failures
// fall through to the wrapped oracle.
type Cached struct {
	next   ResultOracle
	cache  OutcomeCache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached decorates an oracle with a cache.
func NewCached(next ResultOracle, cache OutcomeCache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Cached{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "result_cache").Logger(),
	}
}

// FetchOutcome consults the cache before the wrapped oracle.
func (c *Cached) FetchOutcome(ctx context.Context, clanTag string) (Outcome, error) {
	tag := bet.NormalizeTag(clanTag)

	outcome, ok, err := c.cache.Get(ctx, tag)
	if err != nil {
		c.logger.Warn().Err(err).Str("clan_tag", tag).Msg("cache read failed")
	} else if ok {
		return outcome, nil
	}

	outcome, err = c.next.FetchOutcome(ctx, tag)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.cache.Set(ctx, tag, outcome, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("clan_tag", tag).Msg("cache write failed")
	}
	return outcome, nil
}

var (
	_ ResultOracle = (*Cached)(nil)
	_ OutcomeCache = (*RedisCache)(nil)
)
