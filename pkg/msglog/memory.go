package msglog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryTopic struct {
	partitions [][]Message
}

type groupKey struct {
	group string
	topic string
}

type memoryGroup struct {
	committed []int // next uncommitted offset per partition
	active    map[int]bool
}

// MemoryLog is an in-process message log. It keeps every message for its
// lifetime and tracks committed offsets per consumer group.
type MemoryLog struct {
	mu         sync.Mutex
	cond       *sync.Cond
	partitions int
	topics     map[string]*memoryTopic
	groups     map[groupKey]*memoryGroup
	part       partitioner
	closed     bool
	clock      func() time.Time
	pollWait   time.Duration
}

// NewMemoryLog creates a log whose topics all have the given partition count
func NewMemoryLog(partitions int) *MemoryLog {
	if partitions < 1 {
		partitions = 1
	}
	l := &MemoryLog{
		partitions: partitions,
		topics:     make(map[string]*memoryTopic),
		groups:     make(map[groupKey]*memoryGroup),
		clock:      func() time.Time { return time.Now().UTC() },
		pollWait:   100 * time.Millisecond,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *MemoryLog) topicLocked(name string) *memoryTopic {
	t, ok := l.topics[name]
	if !ok {
		t = &memoryTopic{partitions: make([][]Message, l.partitions)}
		l.topics[name] = t
	}
	return t
}

func (l *MemoryLog) Partitions(topic string) int {
	return l.partitions
}

func (l *MemoryLog) Produce(ctx context.Context, topic, key string, value []byte) error {
	return l.ProduceToPartition(ctx, topic, l.part.pick(key, l.partitions), key, value)
}

func (l *MemoryLog) ProduceToPartition(ctx context.Context, topic string, partition int, key string, value []byte) error {
	if partition < 0 || partition >= l.partitions {
		return fmt.Errorf("%w: %s/%d", ErrUnknownPartition, topic, partition)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	t := l.topicLocked(topic)
	offset := len(t.partitions[partition])
	t.partitions[partition] = append(t.partitions[partition], Message{
		Topic:     topic,
		Partition: partition,
		ID:        strconv.Itoa(offset),
		Key:       key,
		Value:     append([]byte(nil), value...),
		Timestamp: l.clock(),
	})
	l.cond.Broadcast()
	return nil
}

// Messages returns a copy of every message in one partition of topic
func (l *MemoryLog) Messages(topic string, partition int) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.topics[topic]
	if !ok || partition < 0 || partition >= l.partitions {
		return nil
	}
	return append([]Message(nil), t.partitions[partition]...)
}

// All returns every message of topic ordered by partition then offset
func (l *MemoryLog) All(topic string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.topics[topic]
	if !ok {
		return nil
	}
	var out []Message
	for _, p := range t.partitions {
		out = append(out, p...)
	}
	return out
}

// Consumer opens a consumer for group on topic. With no partitions given it
// reads all of them. A partition can have only one active consumer per
// group, which keeps per-partition order.
func (l *MemoryLog) Consumer(group, topic string, partitions ...int) (*MemoryConsumer, error) {
	if len(partitions) == 0 {
		partitions = allPartitions(l.partitions)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	gk := groupKey{group: group, topic: topic}
	g, ok := l.groups[gk]
	if !ok {
		g = &memoryGroup{committed: make([]int, l.partitions), active: make(map[int]bool)}
		l.groups[gk] = g
	}
	for _, p := range partitions {
		if p < 0 || p >= l.partitions {
			return nil, fmt.Errorf("%w: %s/%d", ErrUnknownPartition, topic, p)
		}
		if g.active[p] {
			return nil, fmt.Errorf("%w: %s on %s/%d", ErrGroupBusy, group, topic, p)
		}
	}

	c := &MemoryConsumer{
		log:        l,
		topic:      topic,
		group:      g,
		partitions: partitions,
		cursor:     make(map[int]int, len(partitions)),
	}
	for _, p := range partitions {
		g.active[p] = true
		c.cursor[p] = g.committed[p]
	}
	return c, nil
}

// Close wakes any blocked consumer and rejects further produce calls
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
	return nil
}

// MemoryConsumer reads a MemoryLog topic for one consumer group
type MemoryConsumer struct {
	log        *MemoryLog
	topic      string
	group      *memoryGroup
	partitions []int
	cursor     map[int]int // next offset to deliver
	closed     bool
}

func (c *MemoryConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	l := c.log
	deadline := time.Now().Add(l.pollWait)

	// sync.Cond has no deadline; wake the waiter when the poll window ends
	// or the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()
	timer := time.AfterFunc(l.pollWait, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if c.closed || l.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if batch := c.collectLocked(max); len(batch) > 0 {
			return batch, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		l.cond.Wait()
	}
}

func (c *MemoryConsumer) collectLocked(max int) []Message {
	t, ok := c.log.topics[c.topic]
	if !ok {
		return nil
	}
	var batch []Message
	for _, p := range c.partitions {
		msgs := t.partitions[p]
		for c.cursor[p] < len(msgs) && len(batch) < max {
			batch = append(batch, msgs[c.cursor[p]])
			c.cursor[p]++
		}
		if len(batch) >= max {
			break
		}
	}
	return batch
}

// Commit advances the group offset past each message. Commits are
// cumulative within a partition.
func (c *MemoryConsumer) Commit(ctx context.Context, msgs ...Message) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		offset, err := strconv.Atoi(m.ID)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", m.ID, err)
		}
		if offset+1 > c.group.committed[m.Partition] {
			c.group.committed[m.Partition] = offset + 1
		}
	}
	return nil
}

// Close releases the partitions. The next consumer of the group resumes
// from the committed offsets.
func (c *MemoryConsumer) Close() error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, p := range c.partitions {
		delete(c.group.active, p)
	}
	c.log.cond.Broadcast()
	return nil
}
