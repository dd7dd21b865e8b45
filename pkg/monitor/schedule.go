package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/tickr/pkg/schedule"
	"github.com/cuemby/tickr/pkg/types"
)

const (
	// DefaultCheckinMargin is used when a monitor sets no margin
	DefaultCheckinMargin = time.Minute

	// DefaultMaxRuntime is used when a monitor sets no max runtime
	DefaultMaxRuntime = 30 * time.Minute
)

// ErrInvalidSchedule is returned for monitors whose schedule cannot be built
var ErrInvalidSchedule = errors.New("invalid monitor schedule")

var intervalUnits = map[types.IntervalUnit]time.Duration{
	types.IntervalMinute: time.Minute,
	types.IntervalHour:   time.Hour,
	types.IntervalDay:    24 * time.Hour,
	types.IntervalWeek:   7 * 24 * time.Hour,
}

// ScheduleFor builds the schedule a monitor expects check-ins on
func ScheduleFor(m *types.Monitor) (schedule.Schedule, error) {
	var opts []schedule.Option
	if tz := m.Schedule.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: monitor %s: timezone %q: %v", ErrInvalidSchedule, m.ID, tz, err)
		}
		opts = append(opts, schedule.WithLocation(loc))
	}

	switch m.Schedule.Type {
	case types.ScheduleTypeCrontab:
		s, err := schedule.NewCrontab(m.Schedule.Crontab, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: monitor %s: %v", ErrInvalidSchedule, m.ID, err)
		}
		return s, nil
	case types.ScheduleTypeInterval:
		unit, ok := intervalUnits[m.Schedule.IntervalUnit]
		if !ok || m.Schedule.IntervalValue < 1 {
			return nil, fmt.Errorf("%w: monitor %s: interval %d %q", ErrInvalidSchedule,
				m.ID, m.Schedule.IntervalValue, m.Schedule.IntervalUnit)
		}
		s, err := schedule.NewInterval(time.Duration(m.Schedule.IntervalValue)*unit, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: monitor %s: %v", ErrInvalidSchedule, m.ID, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: monitor %s: unknown type %q", ErrInvalidSchedule, m.ID, m.Schedule.Type)
	}
}

// NextCheckin returns when the check-in following one at from is expected
func NextCheckin(m *types.Monitor, from time.Time) (time.Time, error) {
	s, err := ScheduleFor(m)
	if err != nil {
		return time.Time{}, err
	}
	return s.RuntimeAfter(from.Truncate(time.Minute)), nil
}

// NextCheckinLatest is NextCheckin plus the monitor's check-in margin. An
// environment is overdue once this moment passes without a check-in.
func NextCheckinLatest(m *types.Monitor, from time.Time) (time.Time, error) {
	next, err := NextCheckin(m, from)
	if err != nil {
		return time.Time{}, err
	}
	return next.Add(checkinMargin(m)), nil
}

// TimeoutAt returns the deadline for an in-progress check-in started at start
func TimeoutAt(m *types.Monitor, start time.Time) time.Time {
	runtime := DefaultMaxRuntime
	if m.MaxRuntime > 0 {
		runtime = time.Duration(m.MaxRuntime) * time.Minute
	}
	return start.Truncate(time.Minute).Add(runtime)
}

// PreviousSlot returns the monitor's last expected runtime at or after start
// and strictly before reference. Failures are reported against this slot so
// streaks follow the monitor's cadence.
func PreviousSlot(m *types.Monitor, start, reference time.Time) (time.Time, error) {
	s, err := ScheduleFor(m)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.LastRuntimeBefore(s, start, reference), nil
}

func checkinMargin(m *types.Monitor) time.Duration {
	if m.CheckinMargin > 0 {
		return time.Duration(m.CheckinMargin) * time.Minute
	}
	return DefaultCheckinMargin
}
