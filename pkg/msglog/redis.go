package msglog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
)

const (
	fieldKey   = "key"
	fieldValue = "value"
	fieldTs    = "ts"
)

// RedisLog is a message log on Redis Streams. Each partition of a topic is
// its own stream named "{topic}.{partition}"; consumer groups are stream
// consumer groups and a commit is an XACK.
type RedisLog struct {
	rdb        redis.UniversalClient
	partitions int
	maxLen     int64
	part       partitioner
}

// RedisOption configures a RedisLog
type RedisOption func(*RedisLog)

// WithMaxLen caps every stream at roughly n entries
func WithMaxLen(n int64) RedisOption {
	return func(l *RedisLog) {
		l.maxLen = n
	}
}

// NewRedisLog creates a log whose topics all have the given partition count
func NewRedisLog(rdb redis.UniversalClient, partitions int, opts ...RedisOption) *RedisLog {
	if partitions < 1 {
		partitions = 1
	}
	l := &RedisLog{rdb: rdb, partitions: partitions}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StreamName returns the stream backing one partition of topic
func StreamName(topic string, partition int) string {
	return topic + "." + strconv.Itoa(partition)
}

func (l *RedisLog) Partitions(topic string) int {
	return l.partitions
}

func (l *RedisLog) Produce(ctx context.Context, topic, key string, value []byte) error {
	return l.ProduceToPartition(ctx, topic, l.part.pick(key, l.partitions), key, value)
}

func (l *RedisLog) ProduceToPartition(ctx context.Context, topic string, partition int, key string, value []byte) error {
	if partition < 0 || partition >= l.partitions {
		return fmt.Errorf("%w: %s/%d", ErrUnknownPartition, topic, partition)
	}
	args := &redis.XAddArgs{
		Stream: StreamName(topic, partition),
		Values: map[string]any{
			fieldKey:   key,
			fieldValue: value,
			fieldTs:    time.Now().UTC().UnixMilli(),
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	if err := l.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", args.Stream, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (l *RedisLog) Close() error {
	return nil
}

// RedisConsumerConfig configures a RedisConsumer
type RedisConsumerConfig struct {
	Group    string
	Consumer string // stable per process so pending entries survive restarts
	Topic    string
	Block    time.Duration // 0 polls without blocking
	// Partitions restricts the consumer to a subset; nil reads all. Give each
	// partition to a single consumer to keep per-partition order.
	Partitions []int
	// ClaimIdle takes over entries left pending by other consumers for at
	// least this long when the consumer starts. 0 disables it.
	ClaimIdle time.Duration
}

// RedisConsumer reads a topic through stream consumer groups
type RedisConsumer struct {
	rdb     redis.UniversalClient
	cfg     RedisConsumerConfig
	streams map[string]int // stream -> partition
	order   []string
	logger  zerolog.Logger

	mu      sync.Mutex
	pending bool // still re-reading entries delivered before a restart
	closed  bool
}

// Consumer creates the consumer groups (if needed) and opens a consumer
func (l *RedisLog) Consumer(ctx context.Context, cfg RedisConsumerConfig) (*RedisConsumer, error) {
	partitions := cfg.Partitions
	if len(partitions) == 0 {
		partitions = allPartitions(l.partitions)
	}

	c := &RedisConsumer{
		rdb:     l.rdb,
		cfg:     cfg,
		streams: make(map[string]int, len(partitions)),
		logger:  log.WithComponent("msglog").With().Str("topic", cfg.Topic).Str("group", cfg.Group).Logger(),
		pending: true,
	}

	for _, p := range partitions {
		if p < 0 || p >= l.partitions {
			return nil, fmt.Errorf("%w: %s/%d", ErrUnknownPartition, cfg.Topic, p)
		}
		stream := StreamName(cfg.Topic, p)
		err := l.rdb.XGroupCreateMkStream(ctx, stream, cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("failed to create group %s on %s: %w", cfg.Group, stream, err)
		}
		c.streams[stream] = p
		c.order = append(c.order, stream)
	}

	if cfg.ClaimIdle > 0 {
		if err := c.claimStale(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// claimStale moves entries idle for ClaimIdle from other consumers to this one
func (c *RedisConsumer) claimStale(ctx context.Context) error {
	for _, stream := range c.order {
		start := "0-0"
		for {
			msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				MinIdle:  c.cfg.ClaimIdle,
				Start:    start,
				Count:    100,
			}).Result()
			if err != nil {
				return fmt.Errorf("failed to claim stale entries on %s: %w", stream, err)
			}
			if len(msgs) > 0 {
				c.logger.Info().Str("stream", stream).Int("count", len(msgs)).Msg("Claimed stale pending entries")
			}
			if next == "0-0" || next == "" {
				break
			}
			start = next
		}
	}
	return nil
}

// Poll first drains the entries this consumer received but never acked,
// then reads new entries.
func (c *RedisConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	pending := c.pending
	c.mu.Unlock()

	if max < 1 {
		max = 1
	}

	if pending {
		msgs, err := c.read(ctx, "0", max, -1)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}

	block := c.cfg.Block
	if block <= 0 {
		block = -1
	}
	return c.read(ctx, ">", max, block)
}

func (c *RedisConsumer) read(ctx context.Context, id string, max int, block time.Duration) ([]Message, error) {
	streams := make([]string, 0, 2*len(c.order))
	streams = append(streams, c.order...)
	for range c.order {
		streams = append(streams, id)
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  streams,
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.cfg.Topic, err)
	}

	var out []Message
	for _, s := range res {
		partition := c.streams[s.Stream]
		for _, xm := range s.Messages {
			out = append(out, c.decode(partition, xm))
		}
	}
	return out, nil
}

func (c *RedisConsumer) decode(partition int, xm redis.XMessage) Message {
	m := Message{Topic: c.cfg.Topic, Partition: partition, ID: xm.ID}
	if v, ok := xm.Values[fieldKey].(string); ok {
		m.Key = v
	}
	if v, ok := xm.Values[fieldValue].(string); ok {
		m.Value = []byte(v)
	}
	if v, ok := xm.Values[fieldTs].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			m.Timestamp = time.UnixMilli(ms).UTC()
		}
	}
	return m
}

// Commit acknowledges messages with XACK
func (c *RedisConsumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byStream := make(map[string][]string)
	for _, m := range msgs {
		stream := StreamName(m.Topic, m.Partition)
		byStream[stream] = append(byStream[stream], m.ID)
	}

	pipe := c.rdb.Pipeline()
	for stream, ids := range byStream {
		pipe.XAck(ctx, stream, c.cfg.Group, ids...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", c.cfg.Topic, err)
	}
	return nil
}

// Close stops the consumer. Unacked entries stay pending for the group.
func (c *RedisConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
