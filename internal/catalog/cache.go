package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache holds facet vocabularies per category in Redis. Concurrent misses
// for one category share a single store load. A nil Cache loads straight
// from the store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	loads  singleflight.Group
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

func vocabularyKey(categoryID int64) string {
	return fmt.Sprintf("catalog:vocab:%d", categoryID)
}

// Groups returns the cached groups of a category or loads and stores them.
// Redis failures degrade to a store load and are only logged.
func (c *Cache) Groups(ctx context.Context, categoryID int64, load func(context.Context) ([]Group, error), logger zerolog.Logger) ([]Group, error) {
	if c == nil {
		return load(ctx)
	}
	key := vocabularyKey(categoryID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var groups []Group
		if err = json.Unmarshal(raw, &groups); err == nil {
			return groups, nil
		}
	}
	if !errors.Is(err, redis.Nil) {
		logger.Warn().Err(err).Str("key", key).Msg("catalog vocabulary cache read failed")
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		groups, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(groups); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("catalog vocabulary encode failed")
		} else if err := c.client.Set(context.WithoutCancel(ctx), key, raw, c.ttl).Err(); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("catalog vocabulary cache write failed")
		}
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Group), nil
}

// InvalidateCategory drops the cached vocabulary of a category.
func (c *Cache) InvalidateCategory(ctx context.Context, categoryID int64) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, vocabularyKey(categoryID)).Err()
}
