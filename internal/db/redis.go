/**
 * @description
 * Redis connection manager using go-redis.
 * Used for the progress pub/sub channel, last-run summaries and the stats cache.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - github.com/alicebob/miniredis/v2: in-process fallback for one-shot commands
 */

package db

import (
	"context"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
)

// ConnectRedis initializes the Redis client
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}

	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), opt.DialTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("✅ Connected to Redis")
	return client, nil
}

// ConnectRedisOrLocal connects to REDIS_URL, or starts an in-process Redis when
// it is unset so that one-shot commands run without infrastructure. The
// returned close func releases both the client and the local server.
func ConnectRedisOrLocal(cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.Redis.URL != "" {
		client, err := ConnectRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger.Warn("REDIS_URL not set, using in-process redis; progress events stay local")
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
