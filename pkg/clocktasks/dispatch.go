package clocktasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

// DefaultLimit caps the records a single sweep dispatches
const DefaultLimit = 10000

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// Limit caps the messages produced per sweep. The remainder is picked
	// up by the next tick.
	Limit int

	// Rate caps produced messages per second. Zero means unlimited.
	Rate float64
}

// Dispatcher turns clock ticks into reconciliation messages. Every message
// is keyed by its monitor environment so that all tasks for one environment
// are processed in order.
type Dispatcher struct {
	store    storage.Store
	producer msglog.Producer
	topic    string
	limit    int
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher producing to topic
func NewDispatcher(store storage.Store, producer msglog.Producer, topic string, cfg DispatcherConfig) *Dispatcher {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate)))
	}
	return &Dispatcher{
		store:    store,
		producer: producer,
		topic:    topic,
		limit:    cfg.Limit,
		limiter:  limiter,
		logger:   log.WithComponent("clock-tasks"),
	}
}

// DispatchCheckMissing produces mark_missing for every environment whose
// latest expected check-in time passed at the tick
func (d *Dispatcher) DispatchCheckMissing(ctx context.Context, tick types.ClockTick) (int, error) {
	var envs []*types.MonitorEnvironment
	err := d.store.View(ctx, func(tx storage.Tx) error {
		var err error
		envs, err = tx.ListOverdueEnvironments(tick.Time(), d.limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue environments: %w", err)
	}

	msgs := make([]types.ClockTaskMessage, 0, len(envs))
	for _, env := range envs {
		msgs = append(msgs, types.ClockTaskMessage{
			Type:                 types.ClockTaskMarkMissing,
			Ts:                   tick.Ts,
			MonitorEnvironmentID: env.ID,
			VolumeAnomalyResult:  tick.VolumeAnomalyResult,
		})
	}
	return d.produce(ctx, types.ClockTaskMarkMissing, msgs)
}

// DispatchCheckTimeout produces mark_timeout for every in-progress
// check-in whose timeout passed at the tick
func (d *Dispatcher) DispatchCheckTimeout(ctx context.Context, tick types.ClockTick) (int, error) {
	var checkins []*types.CheckIn
	err := d.store.View(ctx, func(tx storage.Tx) error {
		var err error
		checkins, err = tx.ListTimedOutCheckIns(tick.Time(), d.limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list timed out check-ins: %w", err)
	}
	return d.produce(ctx, types.ClockTaskMarkTimeout, checkInMessages(types.ClockTaskMarkTimeout, tick, checkins))
}

// DispatchMarkUnknown produces mark_unknown for every check-in still in
// progress at the tick. It is only used for ticks inside a system incident.
func (d *Dispatcher) DispatchMarkUnknown(ctx context.Context, tick types.ClockTick) (int, error) {
	var checkins []*types.CheckIn
	err := d.store.View(ctx, func(tx storage.Tx) error {
		var err error
		checkins, err = tx.ListInProgressCheckIns(tick.Time(), d.limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list in-progress check-ins: %w", err)
	}
	return d.produce(ctx, types.ClockTaskMarkUnknown, checkInMessages(types.ClockTaskMarkUnknown, tick, checkins))
}

func checkInMessages(typ string, tick types.ClockTick, checkins []*types.CheckIn) []types.ClockTaskMessage {
	msgs := make([]types.ClockTaskMessage, 0, len(checkins))
	for _, c := range checkins {
		msgs = append(msgs, types.ClockTaskMessage{
			Type:                 typ,
			Ts:                   tick.Ts,
			MonitorEnvironmentID: c.MonitorEnvironmentID,
			CheckInID:            c.ID,
		})
	}
	return msgs
}

func (d *Dispatcher) produce(ctx context.Context, typ string, msgs []types.ClockTaskMessage) (int, error) {
	if len(msgs) >= d.limit {
		d.logger.Warn().
			Str("type", typ).
			Int("limit", d.limit).
			Msg("Dispatch limit reached, remaining records deferred to next tick")
	}

	for i, msg := range msgs {
		if err := d.limiter.Wait(ctx); err != nil {
			return i, err
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return i, err
		}
		if err := d.producer.Produce(ctx, d.topic, msg.MonitorEnvironmentID, data); err != nil {
			return i, fmt.Errorf("failed to produce %s for %s: %w", typ, msg.MonitorEnvironmentID, err)
		}
		metrics.ClockTasksDispatched.WithLabelValues(typ).Inc()
	}
	if len(msgs) > 0 {
		d.logger.Debug().Str("type", typ).Int("count", len(msgs)).Msg("Dispatched clock tasks")
	}
	return len(msgs), nil
}
