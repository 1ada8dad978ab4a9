// Package lock guards short critical sections, such as one checkout per cart,
// with a Redis key owned by a random token.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder owns the key.
var ErrNotAcquired = errors.New("lock: held by another owner")

const defaultTTL = 30 * time.Second

// unlock deletes the key only while it still carries our token, so a holder
// whose TTL ran out cannot free a lock taken over by someone else.
var unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Locker struct {
	R *redis.Client
}

// Try runs fn while holding key or returns ErrNotAcquired at once. fn's
// error is returned as is; the key is released either way.
func (l Locker) Try(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	switch {
	case l.R == nil:
		return errors.New("lock: redis client not configured")
	case fn == nil:
		return errors.New("lock: nil callback")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		_ = unlock.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}
