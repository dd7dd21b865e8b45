package runstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/schedule"
)

// RedisStore keeps run state in Redis under "{prefix}:{key}"
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	clock  schedule.Clock
	logger zerolog.Logger
}

// NewRedisStore creates a run-state store on rdb
func NewRedisStore(rdb redis.Cmdable, prefix string, clock schedule.Clock) *RedisStore {
	if clock == nil {
		clock = schedule.SystemClock
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		clock:  clock,
		logger: log.WithComponent("runstate"),
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// Set claims the run with SET NX EX, storing the current time
func (s *RedisStore) Set(ctx context.Context, key string, nextRuntime time.Time) (bool, error) {
	now := s.clock()
	ok, err := s.rdb.SetNX(ctx, s.key(key), formatTime(now), claimTTL(now, nextRuntime)).Result()
	if err != nil {
		metrics.RunStateErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("failed to claim run %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Read(ctx context.Context, key string) (*time.Time, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		metrics.RunStateErrors.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("failed to read run state %s: %w", key, err)
	}
	t, err := parseTime(val)
	if err != nil {
		s.logger.Warn().Str("key", key).Str("value", val).Msg("Discarding malformed run state")
		return nil, nil
	}
	return t, nil
}

// ReadMany reads every key with a single MGET
func (s *RedisStore) ReadMany(ctx context.Context, keys []string) (map[string]*time.Time, error) {
	result := make(map[string]*time.Time, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		metrics.RunStateErrors.WithLabelValues("read_many").Inc()
		return nil, fmt.Errorf("failed to read run states: %w", err)
	}

	for i, k := range keys {
		result[k] = nil
		str, ok := vals[i].(string)
		if !ok {
			continue
		}
		t, err := parseTime(str)
		if err != nil {
			s.logger.Warn().Str("key", k).Str("value", str).Msg("Discarding malformed run state")
			continue
		}
		result[k] = t
	}
	return result, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		metrics.RunStateErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete run state %s: %w", key, err)
	}
	return nil
}
