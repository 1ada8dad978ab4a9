package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Fixed is a fixed window limiter configured with a formatted rate such as
// "10-M" (ten per minute).
type Fixed struct {
	L *limiter.Limiter
}

// NewFixed builds a limiter for rate. A nil client keeps counters in memory.
func NewFixed(rdb *redis.Client, prefix, rate string) (Fixed, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return Fixed{}, fmt.Errorf("ratelimit: rate %q: %w", rate, err)
	}
	var store limiter.Store
	if rdb == nil {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute})
	} else {
		store, err = limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return Fixed{}, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	}
	return Fixed{L: limiter.New(store, r)}, nil
}

// Allow implements Allower.
func (f Fixed) Allow(ctx context.Context, key string) (bool, int, int, time.Time, error) {
	if f.L == nil {
		return true, 0, 0, time.Now(), nil
	}
	lc, err := f.L.Get(ctx, key)
	if err != nil {
		return false, 0, 0, time.Now(), err
	}
	return !lc.Reached, int(lc.Limit), int(lc.Remaining), time.Unix(lc.Reset, 0), nil
}
