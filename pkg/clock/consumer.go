package clock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/incidents"
	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/monitor"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

// IngestConsumer reads the check-in ingest topic. Every message moves the
// clock of its partition; check-ins are also counted and applied.
type IngestConsumer struct {
	ingester *monitor.Ingester
	emitter  *monitor.Emitter
	volume   incidents.VolumeTracker
	ticks    *Dispatcher
	logger   zerolog.Logger
}

// NewIngestConsumer creates an ingest consumer. volume and emitter may be nil.
func NewIngestConsumer(ingester *monitor.Ingester, emitter *monitor.Emitter, volume incidents.VolumeTracker, ticks *Dispatcher) *IngestConsumer {
	return &IngestConsumer{
		ingester: ingester,
		emitter:  emitter,
		volume:   volume,
		ticks:    ticks,
		logger:   log.WithComponent("ingest"),
	}
}

// Handle processes one ingest message
func (c *IngestConsumer) Handle(ctx context.Context, msg msglog.Message) error {
	var in types.IngestMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return fmt.Errorf("invalid ingest message: %w", err)
	}
	ts := time.Unix(in.Ts, 0).UTC()

	var errs []error
	switch in.Type {
	case types.IngestClockPulse:
	case types.IngestCheckIn:
		errs = append(errs, c.ingest(ctx, in.CheckIn, ts))
	default:
		errs = append(errs, fmt.Errorf("unknown ingest message type %q", in.Type))
	}

	errs = append(errs, c.ticks.TryTick(ctx, msg.Partition, ts))
	return errors.Join(errs...)
}

func (c *IngestConsumer) ingest(ctx context.Context, checkin *types.IngestedCheckIn, ts time.Time) error {
	if checkin == nil {
		return fmt.Errorf("check-in message without check-in")
	}
	if c.volume != nil {
		if err := c.volume.RecordVolume(ctx, ts); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record check-in volume")
		}
	}

	out, err := c.ingester.Ingest(ctx, checkin, ts)
	if err != nil {
		return fmt.Errorf("failed to ingest check-in for %s: %w", checkin.MonitorEnvironmentID, err)
	}
	if c.emitter != nil {
		return c.emitter.Emit(ctx, out)
	}
	return nil
}

// Sweeper dispatches the reconciliation sweeps of one tick
type Sweeper interface {
	DispatchMarkUnknown(ctx context.Context, tick types.ClockTick) (int, error)
	DispatchCheckTimeout(ctx context.Context, tick types.ClockTick) (int, error)
	DispatchCheckMissing(ctx context.Context, tick types.ClockTick) (int, error)
}

// TickConsumer runs the sweeps for every clock tick. Ticks inside a system
// incident first move in-progress check-ins to unknown so the timeout
// sweep that follows skips them.
type TickConsumer struct {
	sweeper Sweeper
	logger  zerolog.Logger
}

// NewTickConsumer creates a tick consumer
func NewTickConsumer(sweeper Sweeper) *TickConsumer {
	return &TickConsumer{sweeper: sweeper, logger: log.WithComponent("clock")}
}

// Handle processes one clock tick message
func (c *TickConsumer) Handle(ctx context.Context, msg msglog.Message) error {
	var tick types.ClockTick
	if err := json.Unmarshal(msg.Value, &tick); err != nil {
		return fmt.Errorf("invalid clock tick: %w", err)
	}

	var errs []error
	if tick.VolumeAnomalyResult == types.AnomalyAbnormal {
		_, err := c.sweeper.DispatchMarkUnknown(ctx, tick)
		errs = append(errs, err)
	}
	_, err := c.sweeper.DispatchCheckTimeout(ctx, tick)
	errs = append(errs, err)
	_, err = c.sweeper.DispatchCheckMissing(ctx, tick)
	errs = append(errs, err)
	return errors.Join(errs...)
}
