package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is implemented by the storage backends
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisChecker pings a Redis server
type RedisChecker struct {
	client redis.Cmdable
}

// NewRedisChecker creates a checker for client
func NewRedisChecker(client redis.Cmdable) *RedisChecker {
	return &RedisChecker{client: client}
}

// Check sends PING and expects PONG
func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	pong, err := r.client.Ping(ctx).Result()
	if err != nil {
		return failed(start, "ping failed: %v", err)
	}
	return Result{
		Healthy:   true,
		Message:   pong,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (r *RedisChecker) Type() CheckType {
	return CheckTypeRedis
}

// DatabaseChecker pings a check-in store
type DatabaseChecker struct {
	db Pinger
}

// NewDatabaseChecker creates a checker for db
func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

// Check pings the store
func (d *DatabaseChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := d.db.Ping(ctx); err != nil {
		return failed(start, "ping failed: %v", err)
	}
	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (d *DatabaseChecker) Type() CheckType {
	return CheckTypeDatabase
}

func failed(start time.Time, format string, args ...any) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
