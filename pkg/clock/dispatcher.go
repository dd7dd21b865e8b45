package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/incidents"
	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

// tickKey keeps all clock ticks in one partition so they are consumed in order
const tickKey = "clock_tick"

// Dispatcher produces one clock tick per minute once every ingest
// partition has moved past it. Ticks follow the slowest partition, so a
// lagging consumer delays the sweeps instead of making them report
// check-ins it has not ingested yet as missed.
type Dispatcher struct {
	clock    PartitionClock
	volume   incidents.VolumeTracker
	producer msglog.Producer
	topic    string
	logger   zerolog.Logger
}

// NewDispatcher creates a tick dispatcher producing to topic
func NewDispatcher(clock PartitionClock, volume incidents.VolumeTracker, producer msglog.Producer, topic string) *Dispatcher {
	return &Dispatcher{
		clock:    clock,
		volume:   volume,
		producer: producer,
		topic:    topic,
		logger:   log.WithComponent("clock"),
	}
}

// TryTick records that partition reached ts and dispatches every minute
// between the last dispatched tick and the slowest partition
func (d *Dispatcher) TryTick(ctx context.Context, partition int, ts time.Time) error {
	slowest, ready, err := d.clock.Advance(ctx, partition, ts.Truncate(time.Minute))
	if err != nil || !ready {
		return err
	}

	prev, ok, err := d.clock.SwapLastTick(ctx, slowest)
	if err != nil {
		return err
	}
	if ok && !prev.Before(slowest) {
		return nil
	}

	start := slowest
	if ok {
		start = prev.Add(time.Minute)
		if skipped := int(slowest.Sub(prev)/time.Minute) - 1; skipped > 0 {
			d.logger.Info().Int("skipped", skipped).Time("tick", slowest).Msg("Dispatching skipped clock ticks")
		}
	}
	for tick := start; !tick.After(slowest); tick = tick.Add(time.Minute) {
		if err := d.dispatch(ctx, tick); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, tick time.Time) error {
	result := types.AnomalyNormal
	if d.volume != nil {
		r, err := d.volume.Evaluate(ctx, tick)
		if err != nil {
			d.logger.Error().Err(err).Time("tick", tick).Msg("Volume evaluation failed, assuming normal")
			if err := d.volume.Record(ctx, tick, result); err != nil {
				d.logger.Error().Err(err).Time("tick", tick).Msg("Failed to record assumed decision")
			}
		} else {
			result = r
		}
	}

	data, err := json.Marshal(types.ClockTick{Ts: tick.Unix(), VolumeAnomalyResult: result})
	if err != nil {
		return err
	}
	if err := d.producer.Produce(ctx, d.topic, tickKey, data); err != nil {
		return fmt.Errorf("failed to produce clock tick: %w", err)
	}
	metrics.ClockTicks.WithLabelValues(string(result)).Inc()
	d.logger.Debug().Time("tick", tick).Str("anomaly", string(result)).Msg("Clock tick dispatched")
	return nil
}
