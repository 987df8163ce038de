package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis backs the token bucket with a Redis INCR+EXPIRE fixed-window
// counter instead of a local leaky bucket, so that a fleet of identical
// drop-server replicas behind a shared load balancer enforce one logical
// per-IP limit. It trades the smoothness of a true token bucket for
// simplicity: each window allows up to burst requests, then blocks until
// the window rolls over.
type Redis struct {
	client *redis.Client
	burst  int64
	window time.Duration
}

// NewRedis connects to redisURL (a redis:// connection string) and returns
// a fixed-window limiter allowing burst requests per window.
func NewRedis(redisURL string, rps float64, burst int) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	window := time.Second
	if rps > 0 {
		window = time.Duration(float64(burst) / rps * float64(time.Second))
	}

	return &Redis{client: client, burst: int64(burst), window: window}, nil
}

// Allow reports whether clientIP may proceed in the current window.
func (r *Redis) Allow(clientIP string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	key := "deaddrop:ratelimit:" + clientIP
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: a Redis outage should not take the whole service
		// down with it. Logged so an operator notices the degraded mode.
		logrus.WithError(err).Warn("ratelimit: redis unavailable, allowing request")
		return true
	}
	if count == 1 {
		r.client.Expire(ctx, key, r.window)
	}
	return count <= r.burst
}

// Stop closes the Redis connection.
func (r *Redis) Stop() {
	_ = r.client.Close()
}
