package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"bbsm-garage/internal/database/models"
	"bbsm-garage/internal/metrics"
)

const (
	STOCK_LIST_CACHE_PREFIX = "garage:stocks:"
	STOCK_LIST_GEN_PREFIX   = "garage:stocks:gen:"
	CACHE_TTL_SHORT         = 5 * time.Minute
)

// StockCache keeps each tenant's full stock list in Redis. Lists are stored
// under the tenant's current generation; a ledger change bumps the generation
// instead of deleting, so a load that raced with the change can only write
// to a key no reader will ask for again.
type StockCache struct {
	redis   *redis.Client
	metrics *metrics.Metrics
	group   singleflight.Group
	ttl     time.Duration
}

// NewStockCache accepts a nil client, in which case every List goes to the
// loader.
func NewStockCache(redisClient *redis.Client, m *metrics.Metrics) *StockCache {
	return &StockCache{
		redis:   redisClient,
		metrics: m,
		ttl:     CACHE_TTL_SHORT,
	}
}

func stockListKey(tenantID, gen int64) string {
	return fmt.Sprintf("%s%d:%d", STOCK_LIST_CACHE_PREFIX, tenantID, gen)
}

func stockGenKey(tenantID int64) string {
	return fmt.Sprintf("%s%d", STOCK_LIST_GEN_PREFIX, tenantID)
}

func (c *StockCache) generation(ctx context.Context, tenantID int64) (int64, error) {
	gen, err := c.redis.Get(ctx, stockGenKey(tenantID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *StockCache) enabled() bool {
	return c != nil && c.redis != nil
}

func (c *StockCache) List(ctx context.Context, tenantID int64, load func(ctx context.Context) ([]models.StockRecord, error)) ([]models.StockRecord, error) {
	if !c.enabled() {
		return load(ctx)
	}

	// The generation is read before loading so a concurrent Invalidate
	// always moves it past the key this call writes.
	gen, err := c.generation(ctx, tenantID)
	if err != nil {
		log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("redis error reading cache generation, falling back to DB")
		return load(ctx)
	}

	key := stockListKey(tenantID, gen)
	if stocks, ok := c.get(ctx, key); ok {
		c.hit()
		return stocks, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		if stocks, ok := c.get(ctx, key); ok {
			c.hit()
			return stocks, nil
		}
		c.miss()

		fresh, err := load(ctx)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(fresh)
		if err == nil {
			if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to set stock list cache")
			}
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]models.StockRecord), nil
}

func (c *StockCache) get(ctx context.Context, key string) ([]models.StockRecord, bool) {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("redis error on GET, falling back to DB")
		}
		return nil, false
	}

	var stocks []models.StockRecord
	if err := json.Unmarshal([]byte(val), &stocks); err != nil {
		return nil, false
	}
	return stocks, true
}

// Invalidate retires the tenant's cached list by advancing its generation.
// Failures are logged only; the entry still expires with its TTL.
func (c *StockCache) Invalidate(ctx context.Context, tenantID int64) {
	if !c.enabled() {
		return
	}
	if err := c.redis.Incr(ctx, stockGenKey(tenantID)).Err(); err != nil {
		log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("failed to invalidate stock list cache")
	}
}

func (c *StockCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *StockCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
