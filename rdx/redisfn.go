package rdx

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var Conn *redis.Client

func init() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	Conn = redis.NewClient(&redis.Options{Addr: addr})
}

// RdxSetNX acquires key for ttl; returns false when someone else holds it.
func RdxSetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return Conn.SetNX(ctx, key, value, ttl).Result()
}

func RdxDel(ctx context.Context, key string) {
	if err := Conn.Del(ctx, key).Err(); err != nil {
		log.Printf("RdxDel: failed for key %s, err=%v", key, err)
	}
}

// Locker is the lock surface the payment service depends on, so tests
// can substitute an in-memory implementation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string)
}

// RedisLocker implements Locker on the shared connection.
type RedisLocker struct{}

func (RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return RdxSetNX(ctx, key, "1", ttl)
}

func (RedisLocker) Release(ctx context.Context, key string) {
	RdxDel(ctx, key)
}
