/*
Package msglog is the partitioned message log the scheduler and the clock
pipeline communicate through.

A topic has a fixed number of partitions. Producers choose the partition
from the message key with FNV-1a, so every message for one key is appended
to the same partition in submission order. Consumers belong to a group and
commit what they processed; anything polled but not committed is delivered
again.

Two implementations are provided:

  - MemoryLog keeps messages in process memory. It backs tests and
    single-node runs.
  - RedisLog maps each partition to a Redis stream "{topic}.{partition}"
    and uses stream consumer groups. Poll first re-reads entries the
    consumer received before a restart, then reads new ones; Commit is
    XACK.

Runner drives a Consumer: each polled batch is split by partition, the
partitions run in parallel and the messages of one partition run in order.
A handler error is logged and the message is committed anyway. A handler
interrupted by cancellation leaves its message uncommitted.
*/
package msglog
