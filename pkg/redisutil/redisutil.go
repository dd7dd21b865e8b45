// Package redisutil opens the Redis client shared by the run-state store,
// the message log, the partition clock and the volume detector.
package redisutil

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses url ("redis://[:password@]host:port[/db]"), opens a client
// and verifies it with PING. The client is closed again if PING fails.
func Connect(ctx context.Context, url string, dialTimeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if dialTimeout > 0 {
		opt.DialTimeout = dialTimeout
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, opt.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
