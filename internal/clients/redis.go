package clients

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/marmos91/bootgate/pkg/config"
)

// CacheCheckName is the readiness entry for the cache.
const CacheCheckName = "cache"

// redisPinger is implemented by the real go-redis client and by test
// doubles.
type redisPinger interface {
	PingResult(ctx context.Context) (string, error)
	Close() error
}

type realRedisPinger struct {
	client *redis.Client
}

func (r *realRedisPinger) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisPinger) Close() error {
	return r.client.Close()
}

// RedisClient answers PING for readiness.
type RedisClient struct {
	addr   string
	cb     *gobreaker.CircuitBreaker
	pinger redisPinger
}

// NewRedisClient creates a client for cfg. go-redis connects lazily, so
// construction never blocks.
func NewRedisClient(cfg config.CacheConfig) *RedisClient {
	return &RedisClient{
		addr: cfg.Address(),
		cb:   NewCircuitBreaker("redis"),
		pinger: &realRedisPinger{client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})},
	}
}

func (c *RedisClient) Name() string { return CacheCheckName }

// Check sends PING and expects PONG.
func (c *RedisClient) Check(ctx context.Context) error {
	return execute(c.cb, func() error {
		val, err := c.pinger.PingResult(ctx)
		if err != nil {
			return fmt.Errorf("ping %s: %w", c.addr, err)
		}
		if val != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil
	})
}

func (c *RedisClient) Close() error {
	return c.pinger.Close()
}
