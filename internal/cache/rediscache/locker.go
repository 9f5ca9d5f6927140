package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Locker struct {
	c *redis.Client
}

func NewLocker(addr string) *Locker {
	return &Locker{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// TryLock берёт лок через SETNX с TTL. Возвращает false, если лок уже
// у кого-то (second concurrent download for the same order).
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.c.SetNX(ctx, lockKey(key), "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	if err := l.c.Del(ctx, lockKey(key)).Err(); err != nil {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
