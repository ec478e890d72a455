// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/metrics"
)

// Redis is a shared store limiter using atomic counters. On backend outage
// it fails open: the request is allowed and a counter records the miss, so
// an infrastructure incident does not turn into false denials.
type Redis struct {
	log    *zap.Logger
	client *redis.Client
	limit  int
}

// NewRedis creates a shared limiter from a redis URL.
func NewRedis(log *zap.Logger, redisURL string, limit int) (*Redis, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Redis{
		log:    log,
		client: redis.NewClient(options),
		limit:  limit,
	}, nil
}

// Allow implements Limiter.
func (shared *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	bucket := "rl:" + key + ":" + now.UTC().Format("200601021504")

	count, err := shared.client.Incr(ctx, bucket).Result()
	if err != nil {
		metrics.RatelimitFailopen.Inc()
		shared.log.Warn("rate limit backend unavailable, failing open", zap.Error(err))
		return true, nil
	}
	if count == 1 {
		// first hit owns the expiry; window plus slack for clock skew
		if err := shared.client.Expire(ctx, bucket, window+10*time.Second).Err(); err != nil {
			shared.log.Warn("rate limit expire failed", zap.Error(err))
		}
	}
	return count <= int64(shared.limit), nil
}

// Close releases the backend connection.
func (shared *Redis) Close() error {
	return Error.Wrap(shared.client.Close())
}
