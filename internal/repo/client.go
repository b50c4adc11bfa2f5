package repo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// probeTimeout bounds the startup ping.
const probeTimeout = 500 * time.Millisecond

// RedisClient is the go-redis client the repositories share.
type RedisClient struct {
	*redis.Client
	log *zap.Logger
}

// NewRedisClient creates a client for addr and pings it once. An unreachable
// server is logged, not returned: streams keep working in memory and writes
// are retried per call.
func NewRedisClient(log *zap.Logger, addr, password string, db int) *RedisClient {
	c := &RedisClient{
		Client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,

			// stream writes are rare; keep the pool small
			PoolSize:     4,
			MinIdleConns: 1,

			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			MaxRetries:   2,
		}),
		log: log.Named("redis").With(zap.String("addr", addr), zap.Int("db", db)),
	}
	_ = c.Probe(context.Background())
	return c
}

// Probe pings the server and logs the round trip.
func (c *RedisClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	if err := c.Ping(ctx).Err(); err != nil {
		c.log.Warn("redis unreachable", zap.Duration("after", time.Since(start)), zap.Error(err))
		return err
	}
	st := c.PoolStats()
	c.log.Info("redis connected",
		zap.Duration("rtt", time.Since(start)),
		zap.Uint32("pool_conns", st.TotalConns))
	return nil
}
