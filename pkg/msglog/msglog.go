package msglog

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed producer or consumer
	ErrClosed = errors.New("message log is closed")

	// ErrUnknownPartition is returned when producing to a partition out of range
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrGroupBusy is returned when a group already has an active consumer
	// on the requested partitions
	ErrGroupBusy = errors.New("consumer group already active")
)

// Message is one record of a partitioned topic
type Message struct {
	Topic     string
	Partition int
	ID        string // position within the partition
	Key       string
	Value     []byte
	Timestamp time.Time
}

// Producer appends messages to topics. Messages with the same key always
// land in the same partition, in the order they were produced.
type Producer interface {
	// Produce appends value to the partition chosen by key. An empty key
	// spreads messages round robin.
	Produce(ctx context.Context, topic, key string, value []byte) error

	// ProduceToPartition appends value to an explicit partition
	ProduceToPartition(ctx context.Context, topic string, partition int, key string, value []byte) error

	// Partitions returns the number of partitions of topic
	Partitions(topic string) int

	Close() error
}

// Consumer reads a topic on behalf of a consumer group. Delivery is
// at least once: messages that were polled but not committed are delivered
// again to the next consumer of the group.
type Consumer interface {
	// Poll returns up to max messages. It may block for a bounded time and
	// returns an empty batch when nothing arrived.
	Poll(ctx context.Context, max int) ([]Message, error)

	// Commit marks messages as processed for the group
	Commit(ctx context.Context, msgs ...Message) error

	Close() error
}

// PartitionFor maps key onto one of n partitions with FNV-1a
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// partitioner picks partitions for keyed and unkeyed messages
type partitioner struct {
	next atomic.Uint32
}

func (p *partitioner) pick(key string, n int) int {
	if key == "" {
		if n <= 1 {
			return 0
		}
		return int((p.next.Add(1) - 1) % uint32(n))
	}
	return PartitionFor(key, n)
}

func allPartitions(n int) []int {
	ps := make([]int, n)
	for i := range ps {
		ps[i] = i
	}
	return ps
}
