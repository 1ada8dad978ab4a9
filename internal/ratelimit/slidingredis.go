package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding counts hits in a Redis sorted set scored by arrival time, so a
// burst at a window edge is still seen by the next window. Used for payment
// provider notifications.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Window time.Duration
	Max    int
	// Now defaults to time.Now.
	Now func() time.Time
}

func (l Sliding) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow implements Allower. Rejected hits are not recorded, so a caller that
// keeps retrying is admitted as soon as the oldest hit leaves the window.
func (l Sliding) Allow(ctx context.Context, key string) (bool, int, int, time.Time, error) {
	now := l.now()
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return true, l.Max, l.Max, now.Add(l.Window), nil
	}

	set := l.Prefix + key
	hit := uuid.NewString()
	floor := strconv.FormatInt(now.Add(-l.Window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, set, "-inf", "("+floor)
	pipe.ZAdd(ctx, set, redis.Z{Score: float64(now.UnixNano()), Member: hit})
	card := pipe.ZCard(ctx, set)
	oldest := pipe.ZRangeWithScores(ctx, set, 0, 0)
	pipe.PExpire(ctx, set, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, l.Max, 0, now.Add(l.Window), err
	}

	reset := now.Add(l.Window)
	if first := oldest.Val(); len(first) > 0 {
		reset = time.Unix(0, int64(first[0].Score)).Add(l.Window)
	}
	used := int(card.Val())
	if used > l.Max {
		if err := l.Client.ZRem(ctx, set, hit).Err(); err != nil {
			return false, l.Max, 0, reset, err
		}
		return false, l.Max, 0, reset, nil
	}
	return true, l.Max, l.Max - used, reset, nil
}
