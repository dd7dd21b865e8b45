package msglog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
)

// Handler processes one message. A returned error is logged and the message
// is still committed, unless the context was cancelled.
type Handler func(ctx context.Context, msg Message) error

// Runner polls a consumer and hands messages to a handler. Partitions in a
// batch are processed in parallel, messages within a partition in order.
type Runner struct {
	name      string
	consumer  Consumer
	handler   Handler
	batchSize int
	backoff   time.Duration
	logger    zerolog.Logger
}

// NewRunner creates a runner; name labels its logs and metrics
func NewRunner(name string, consumer Consumer, handler Handler, batchSize int) *Runner {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Runner{
		name:      name,
		consumer:  consumer,
		handler:   handler,
		batchSize: batchSize,
		backoff:   time.Second,
		logger:    log.WithComponent("consumer").With().Str("consumer", name).Logger(),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// ErrClosed when the consumer is closed underneath it.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().Msg("Consumer started")
	defer r.logger.Info().Msg("Consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := r.consumer.Poll(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			r.logger.Error().Err(err).Msg("Poll failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.backoff):
			}
			continue
		}

		if len(batch) > 0 {
			r.ProcessBatch(ctx, batch)
		}
	}
}

// ProcessBatch handles one polled batch and commits what was processed
func (r *Runner) ProcessBatch(ctx context.Context, batch []Message) {
	byPartition := make(map[int][]Message)
	for _, m := range batch {
		byPartition[m.Partition] = append(byPartition[m.Partition], m)
	}
	partitions := make([]int, 0, len(byPartition))
	for p := range byPartition {
		partitions = append(partitions, p)
	}
	sort.Ints(partitions)

	var wg sync.WaitGroup
	for _, p := range partitions {
		msgs := byPartition[p]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.processPartition(ctx, msgs)
		}()
	}
	wg.Wait()
}

func (r *Runner) processPartition(ctx context.Context, msgs []Message) {
	done := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		if !r.handle(ctx, m) {
			break
		}
		done = append(done, m)
	}
	if len(done) == 0 {
		return
	}

	// Commits run after cancellation too so finished work is not redelivered.
	if err := r.consumer.Commit(context.WithoutCancel(ctx), done...); err != nil {
		r.logger.Error().Err(err).Int("partition", done[0].Partition).Msg("Commit failed")
	}
}

// handle returns false when the message must stay uncommitted
func (r *Runner) handle(ctx context.Context, m Message) bool {
	timer := metrics.NewTimer()
	err := r.handler(ctx, m)
	timer.ObserveDurationVec(metrics.MessageProcessingDuration, m.Topic)

	if err == nil {
		metrics.MessagesConsumed.WithLabelValues(m.Topic, "ok").Inc()
		return true
	}
	if ctx.Err() != nil {
		r.logger.Warn().Str("id", m.ID).Int("partition", m.Partition).Msg("Processing interrupted; message left uncommitted")
		return false
	}

	metrics.MessagesConsumed.WithLabelValues(m.Topic, "error").Inc()
	logger := log.WithPartition(m.Topic, m.Partition)
	logger.Error().
		Err(err).
		Str("consumer", r.name).
		Str("id", m.ID).
		Str("key", m.Key).
		Msg("Failed to process message")
	return true
}
