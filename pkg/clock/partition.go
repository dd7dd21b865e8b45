package clock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PartitionClock tracks how far each ingest partition has progressed
type PartitionClock interface {
	// Advance records that partition reached ts. It returns the time of the
	// slowest partition, and false until all partitions reported once.
	Advance(ctx context.Context, partition int, ts time.Time) (time.Time, bool, error)

	// SwapLastTick stores ts as the last dispatched tick if it is newer
	// than the stored one, and returns the previous value. ok is false when
	// no tick was dispatched before.
	SwapLastTick(ctx context.Context, ts time.Time) (prev time.Time, ok bool, err error)

	// LastTick returns the last dispatched tick
	LastTick(ctx context.Context) (time.Time, bool, error)
}

// swapLastTick sets the key only when the new tick is later, so a slow
// caller never moves the clock back
var swapLastTick = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev and tonumber(prev) >= tonumber(ARGV[1]) then
	return prev
end
redis.call('SET', KEYS[1], ARGV[1])
return prev
`)

// RedisPartitionClock shares partition progress between ingest consumers
// through Redis
type RedisPartitionClock struct {
	rdb        redis.Cmdable
	prefix     string
	partitions int
}

// NewRedisPartitionClock creates a clock over the given number of partitions
func NewRedisPartitionClock(rdb redis.Cmdable, prefix string, partitions int) *RedisPartitionClock {
	if prefix == "" {
		prefix = "tickr:clock"
	}
	return &RedisPartitionClock{rdb: rdb, prefix: prefix, partitions: max(1, partitions)}
}

func (c *RedisPartitionClock) partitionsKey() string { return c.prefix + ":partitions" }
func (c *RedisPartitionClock) lastTickKey() string   { return c.prefix + ":last_tick" }

func (c *RedisPartitionClock) Advance(ctx context.Context, partition int, ts time.Time) (time.Time, bool, error) {
	pipe := c.rdb.TxPipeline()
	pipe.ZAddGT(ctx, c.partitionsKey(), redis.Z{Score: float64(ts.Unix()), Member: strconv.Itoa(partition)})
	card := pipe.ZCard(ctx, c.partitionsKey())
	slowest := pipe.ZRangeWithScores(ctx, c.partitionsKey(), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to advance partition %d: %w", partition, err)
	}

	if card.Val() < int64(c.partitions) || len(slowest.Val()) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(int64(slowest.Val()[0].Score), 0).UTC(), true, nil
}

func (c *RedisPartitionClock) SwapLastTick(ctx context.Context, ts time.Time) (time.Time, bool, error) {
	val, err := swapLastTick.Run(ctx, c.rdb, []string{c.lastTickKey()}, ts.Unix()).Text()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to swap last tick: %w", err)
	}
	prev, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last tick %q: %w", val, err)
	}
	return time.Unix(prev, 0).UTC(), true, nil
}

func (c *RedisPartitionClock) LastTick(ctx context.Context) (time.Time, bool, error) {
	ts, err := c.rdb.Get(ctx, c.lastTickKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last tick: %w", err)
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// MemoryPartitionClock is a PartitionClock for a single process
type MemoryPartitionClock struct {
	mu         sync.Mutex
	partitions int
	progress   map[int]time.Time
	lastTick   *time.Time
}

// NewMemoryPartitionClock creates an in-process clock
func NewMemoryPartitionClock(partitions int) *MemoryPartitionClock {
	return &MemoryPartitionClock{
		partitions: max(1, partitions),
		progress:   make(map[int]time.Time),
	}
}

func (c *MemoryPartitionClock) Advance(_ context.Context, partition int, ts time.Time) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.progress[partition]; !ok || ts.After(cur) {
		c.progress[partition] = ts
	}
	if len(c.progress) < c.partitions {
		return time.Time{}, false, nil
	}
	var slowest time.Time
	for _, t := range c.progress {
		if slowest.IsZero() || t.Before(slowest) {
			slowest = t
		}
	}
	return slowest, true, nil
}

func (c *MemoryPartitionClock) SwapLastTick(_ context.Context, ts time.Time) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTick == nil {
		c.lastTick = &ts
		return time.Time{}, false, nil
	}
	prev := *c.lastTick
	if ts.After(prev) {
		c.lastTick = &ts
	}
	return prev, true, nil
}

func (c *MemoryPartitionClock) LastTick(context.Context) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTick == nil {
		return time.Time{}, false, nil
	}
	return *c.lastTick, true, nil
}
