package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/monitor"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

// Notifier delivers confirmed incident occurrences
type Notifier interface {
	Notify(ctx context.Context, occ types.IncidentOccurrence) error
}

// ConsumerConfig tunes how long occurrences wait on pending ticks
type ConsumerConfig struct {
	// PendingBackoff is the first wait after a pending classification
	PendingBackoff time.Duration

	// PendingWait caps the wait between classification attempts. Waiting
	// longer than this in total is logged.
	PendingWait time.Duration

	// Ticks, when set, lets the consumer give up on a tick whose decision
	// was lost. A tick still pending after PendingWait while a later tick
	// has already been dispatched is treated as normal, which is how the
	// clock dispatched it.
	Ticks TickSource
}

// OccurrenceConsumer holds back incident occurrences until the tick they
// belong to is classified. Occurrences of normal ticks are notified;
// occurrences of abnormal ticks turn their failed check-ins into unknown,
// since their real outcome may have been lost.
type OccurrenceConsumer struct {
	detector Detector
	notifier Notifier
	store    storage.Store
	emitter  *monitor.Emitter
	cfg      ConsumerConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewOccurrenceConsumer creates a consumer. emitter may be nil.
func NewOccurrenceConsumer(detector Detector, notifier Notifier, store storage.Store, emitter *monitor.Emitter, cfg ConsumerConfig) *OccurrenceConsumer {
	if cfg.PendingBackoff <= 0 {
		cfg.PendingBackoff = time.Second
	}
	if cfg.PendingWait < cfg.PendingBackoff {
		cfg.PendingWait = max(cfg.PendingBackoff, 2*time.Minute)
	}
	return &OccurrenceConsumer{
		detector: detector,
		notifier: notifier,
		store:    store,
		emitter:  emitter,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("incidents"),
	}
}

// Handle decodes and processes one occurrence message
func (c *OccurrenceConsumer) Handle(ctx context.Context, msg msglog.Message) error {
	var occ types.IncidentOccurrence
	if err := json.Unmarshal(msg.Value, &occ); err != nil {
		return fmt.Errorf("invalid incident occurrence: %w", err)
	}
	return c.Process(ctx, occ)
}

// Process waits for the occurrence's tick to be classified and acts on it.
// It blocks while the tick is pending. It stops waiting when ctx is done or
// when the tick's decision turns out to be lost.
func (c *OccurrenceConsumer) Process(ctx context.Context, occ types.IncidentOccurrence) error {
	decision, err := c.await(ctx, decisionTime(occ))
	if err != nil {
		return err
	}

	if decision == DecisionAbnormal {
		if err := c.markUnknown(ctx, occ); err != nil {
			return err
		}
		metrics.IncidentOccurrences.WithLabelValues("unknown").Inc()
		return nil
	}

	if err := c.notifier.Notify(ctx, occ); err != nil {
		metrics.IncidentOccurrences.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to notify occurrence of %s: %w", occ.MonitorEnvironmentID, err)
	}
	metrics.IncidentOccurrences.WithLabelValues("notified").Inc()
	return nil
}

// decisionTime returns the tick whose classification covers occ. Failures
// found by a clock tick use that tick. Reported failures use the tick that
// closes the minute they were received in.
func decisionTime(occ types.IncidentOccurrence) time.Time {
	if occ.ClockTickTs != 0 {
		return time.Unix(occ.ClockTickTs, 0).UTC()
	}
	return time.Unix(occ.ReceivedTs, 0).UTC().Truncate(time.Minute).Add(time.Minute)
}

func (c *OccurrenceConsumer) await(ctx context.Context, ts time.Time) (Decision, error) {
	backoff := c.cfg.PendingBackoff
	start := c.now()
	counted, warned := false, false

	for {
		decision, err := c.detector.Classify(ctx, ts)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Time("tick", ts).Msg("Failed to classify tick")
		case decision != DecisionPending:
			return decision, nil
		}

		if !counted {
			metrics.IncidentOccurrences.WithLabelValues("pending").Inc()
			counted = true
		}
		if waited := c.now().Sub(start); waited >= c.cfg.PendingWait {
			if err == nil && c.decisionLost(ctx, ts) {
				metrics.IncidentOccurrences.WithLabelValues("lost").Inc()
				c.logger.Warn().Time("tick", ts).Dur("waited", waited).
					Msg("Decision for dispatched tick is gone, treating tick as normal")
				return DecisionNormal, nil
			}
			if !warned {
				c.logger.Warn().Time("tick", ts).Dur("waited", waited).Msg("Tick still pending classification")
				warned = true
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		backoff = min(2*backoff, c.cfg.PendingWait)
	}
}

// decisionLost reports whether a tick after ts was already dispatched.
// Decisions are stored before their tick is produced, so a pending tick
// older than the last dispatched one will never be decided.
func (c *OccurrenceConsumer) decisionLost(ctx context.Context, ts time.Time) bool {
	if c.cfg.Ticks == nil {
		return false
	}
	last, ok, err := c.cfg.Ticks.LastTick(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read last dispatched tick")
		return false
	}
	return ok && last.After(ts)
}

func (c *OccurrenceConsumer) markUnknown(ctx context.Context, occ types.IncidentOccurrence) error {
	ids := append([]string{}, occ.PreviousCheckInIDs...)
	ids = append(ids, occ.FailedCheckInID)

	var marked []*types.CheckIn
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		marked = marked[:0]
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true

			checkin, err := tx.GetCheckIn(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !checkin.Status.IsSynthesized() {
				continue
			}
			checkin.Status = types.CheckInUnknown
			checkin.DateUpdated = c.now()
			if err := tx.PutCheckIn(checkin); err != nil {
				return err
			}
			marked = append(marked, checkin)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark check-ins unknown: %w", err)
	}

	for _, checkin := range marked {
		metrics.CheckInsMarked.WithLabelValues(string(types.CheckInUnknown)).Inc()
		if c.emitter != nil {
			c.emitter.CheckInMarked(ctx, checkin)
		}
	}
	c.logger.Info().
		Str("monitor_environment_id", occ.MonitorEnvironmentID).
		Int("checkins", len(marked)).
		Msg("Occurrence during system incident, check-ins marked unknown")
	return nil
}
