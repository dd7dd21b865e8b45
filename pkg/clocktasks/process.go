package clocktasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/monitor"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

// ErrUnknownTaskType is returned for clock task messages of an unknown type
var ErrUnknownTaskType = errors.New("unknown clock task type")

// newerScanLimit bounds the look for a newer finished check-in before a
// timeout counts as a failure
const newerScanLimit = 10

// Processor applies reconciliation messages to the monitor store. Each
// operation re-checks the condition it was dispatched for, so a message
// that raced with ingestion or was delivered twice changes nothing.
type Processor struct {
	store   storage.Store
	emitter *monitor.Emitter
	logger  zerolog.Logger
}

// NewProcessor creates a processor. emitter may be nil.
func NewProcessor(store storage.Store, emitter *monitor.Emitter) *Processor {
	return &Processor{
		store:   store,
		emitter: emitter,
		logger:  log.WithComponent("clock-tasks"),
	}
}

// Handle decodes and processes one clock task message
func (p *Processor) Handle(ctx context.Context, msg msglog.Message) error {
	var task types.ClockTaskMessage
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return fmt.Errorf("invalid clock task: %w", err)
	}
	return p.Process(ctx, task)
}

// Process dispatches task to its operation
func (p *Processor) Process(ctx context.Context, task types.ClockTaskMessage) error {
	var (
		marked bool
		err    error
	)
	switch task.Type {
	case types.ClockTaskMarkMissing:
		marked, err = p.MarkEnvironmentMissing(ctx, task.MonitorEnvironmentID, task.Time())
	case types.ClockTaskMarkTimeout:
		marked, err = p.MarkCheckInTimeout(ctx, task.CheckInID, task.Time())
	case types.ClockTaskMarkUnknown:
		marked, err = p.MarkCheckInUnknown(ctx, task.CheckInID, task.Time())
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}

	result := "skipped"
	switch {
	case err != nil:
		result = "error"
	case marked:
		result = "marked"
	}
	metrics.ClockTasksProcessed.WithLabelValues(task.Type, result).Inc()
	return err
}

// MarkEnvironmentMissing records a missed check-in for an environment that
// is still overdue at ts. The check-in is backdated to the expected time and
// the failure counts against the monitor's last expected slot before ts.
// An environment that checked in since the message was dispatched is left
// untouched.
func (p *Processor) MarkEnvironmentMissing(ctx context.Context, envID string, ts time.Time) (bool, error) {
	var (
		checkin *types.CheckIn
		out     *monitor.Outcome
	)
	err := p.store.Update(ctx, func(tx storage.Tx) error {
		checkin, out = nil, nil

		env, err := tx.GetEnvironment(envID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if env.Status == types.MonitorStatusDisabled || env.NextCheckinLatest == nil || env.NextCheckinLatest.After(ts) {
			return nil
		}
		m, err := tx.GetMonitor(env.MonitorID)
		if err != nil {
			return err
		}
		if m.Status == types.MonitorStatusDisabled {
			return nil
		}

		expected := ts
		if env.NextCheckin != nil {
			expected = *env.NextCheckin
		}
		added := expected
		if env.LastCheckin != nil && env.LastCheckin.After(added) {
			added = *env.LastCheckin
		}
		checkin = &types.CheckIn{
			ID:                   uuid.NewString(),
			MonitorID:            m.ID,
			MonitorEnvironmentID: env.ID,
			Status:               types.CheckInMissed,
			DateAdded:            added,
			DateUpdated:          ts,
			ExpectedTime:         &expected,
		}
		if err := tx.PutCheckIn(checkin); err != nil {
			return err
		}

		failedAt, err := monitor.PreviousSlot(m, expected, ts)
		if err != nil {
			return err
		}
		out, err = monitor.MarkFailed(tx, checkin, failedAt, ts)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark %s missing: %w", envID, err)
	}
	if checkin == nil {
		p.logger.Debug().Str("monitor_environment_id", envID).Msg("Environment no longer overdue")
		return false, nil
	}

	logger := log.WithMonitorEnvironment(envID)
	logger.Info().
		Time("expected", *checkin.ExpectedTime).
		Msg("Marked check-in missed")
	return true, p.emit(ctx, checkin, out)
}

// MarkCheckInTimeout moves an in-progress check-in past its timeout to
// timeout. It is a no-op for check-ins already in any other status. The
// failure is skipped when a newer check-in already finished.
func (p *Processor) MarkCheckInTimeout(ctx context.Context, checkinID string, ts time.Time) (bool, error) {
	var (
		checkin *types.CheckIn
		out     *monitor.Outcome
	)
	err := p.store.Update(ctx, func(tx storage.Tx) error {
		checkin, out = nil, nil

		c, err := tx.GetCheckIn(checkinID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Status != types.CheckInInProgress || c.TimeoutAt == nil || c.TimeoutAt.After(ts) {
			return nil
		}

		c.Status = types.CheckInTimeout
		c.DateUpdated = ts
		if err := tx.PutCheckIn(c); err != nil {
			return err
		}
		checkin = c

		superseded, err := hasNewerResult(tx, c)
		if err != nil || superseded {
			return err
		}

		env, err := tx.GetEnvironment(c.MonitorEnvironmentID)
		if err != nil {
			return err
		}
		m, err := tx.GetMonitor(env.MonitorID)
		if err != nil {
			return err
		}
		failedAt, err := monitor.PreviousSlot(m, c.DateAdded.Truncate(time.Minute), ts)
		if err != nil {
			return err
		}
		out, err = monitor.MarkFailed(tx, c, failedAt, ts)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to time out check-in %s: %w", checkinID, err)
	}
	if checkin == nil {
		return false, nil
	}

	logger := log.WithCheckIn(checkinID)
	logger.Info().
		Str("monitor_environment_id", checkin.MonitorEnvironmentID).
		Msg("Marked check-in timed out")
	return true, p.emit(ctx, checkin, out)
}

func hasNewerResult(tx storage.Tx, c *types.CheckIn) (bool, error) {
	recent, err := tx.ListRecentCheckIns(c.MonitorEnvironmentID, newerScanLimit)
	if err != nil {
		return false, err
	}
	for _, other := range recent {
		if other.DateAdded.After(c.DateAdded) && other.Status.IsFinished() {
			return true, nil
		}
	}
	return false, nil
}

// MarkCheckInUnknown moves a check-in that was in progress during a system
// incident to unknown. Its environment is not failed.
func (p *Processor) MarkCheckInUnknown(ctx context.Context, checkinID string, ts time.Time) (bool, error) {
	var checkin *types.CheckIn
	err := p.store.Update(ctx, func(tx storage.Tx) error {
		checkin = nil

		c, err := tx.GetCheckIn(checkinID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Status != types.CheckInInProgress || c.DateAdded.After(ts) {
			return nil
		}
		c.Status = types.CheckInUnknown
		c.DateUpdated = ts
		if err := tx.PutCheckIn(c); err != nil {
			return err
		}
		checkin = c
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark check-in %s unknown: %w", checkinID, err)
	}
	if checkin == nil {
		return false, nil
	}
	return true, p.emit(ctx, checkin, nil)
}

func (p *Processor) emit(ctx context.Context, checkin *types.CheckIn, out *monitor.Outcome) error {
	metrics.CheckInsMarked.WithLabelValues(string(checkin.Status)).Inc()
	if p.emitter == nil {
		return nil
	}
	p.emitter.CheckInMarked(ctx, checkin)
	return p.emitter.Emit(ctx, out)
}
