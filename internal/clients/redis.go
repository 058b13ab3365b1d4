package clients

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
)

const redisProbeName = "redis"

// redisPinger is implemented by *redis.Client (via realRedisPinger) and by
// test doubles.
type redisPinger interface {
	PingResult(ctx context.Context) (string, error)
}

type realRedisPinger struct {
	client *redis.Client
}

func (r *realRedisPinger) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

// NewRedis builds the go-redis client shared by the rate cache and the
// health probe.
func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisClient probes the rate cache through a circuit breaker.
type RedisClient struct {
	cb     *gobreaker.CircuitBreaker
	pinger redisPinger
}

// NewRedisClient wraps an existing go-redis client. The caller owns and
// closes it.
func NewRedisClient(client *redis.Client, cb *gobreaker.CircuitBreaker) *RedisClient {
	return &RedisClient{
		cb:     cb,
		pinger: &realRedisPinger{client: client},
	}
}

// Probe sends PING and expects PONG.
func (c *RedisClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return probeThrough(ctx, redisProbeName, c.cb, func(ctx context.Context) error {
		val, err := c.pinger.PingResult(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil
	})
}
