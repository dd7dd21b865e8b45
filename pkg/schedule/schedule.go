package schedule

import (
	"errors"
	"time"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidInterval is returned for zero, negative or sub-second intervals
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidCrontab is returned for expressions that do not parse as 5-field cron
	ErrInvalidCrontab = errors.New("invalid crontab expression")
)

// Clock returns the current time
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Schedule decides when a recurring task is due
type Schedule interface {
	// IsDue reports whether a task last run at lastRun should run now.
	// A nil lastRun means the task never ran and is always due.
	IsDue(lastRun *time.Time) bool

	// RemainingSeconds returns the whole seconds until the task is due, or 0.
	RemainingSeconds(lastRun *time.Time) int64

	// RuntimeAfter returns the next runtime strictly after start.
	RuntimeAfter(start time.Time) time.Time

	// String returns the configuration the schedule was built from.
	String() string
}

type options struct {
	clock    Clock
	location *time.Location
	logger   *zerolog.Logger
}

// Option configures a schedule at construction time
type Option func(*options)

// WithClock overrides the clock used to read "now"
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLocation sets the time zone crontab expressions are evaluated in.
// It has no effect on interval schedules.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithLogger sets the logger used for missed-beat and clock-skew warnings
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:    SystemClock,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := log.WithComponent("schedule")
		o.logger = &l
	}
	return o
}

// maxPreviousSteps bounds the forward walk in LastRuntimeBefore
const maxPreviousSteps = 10000

// LastRuntimeBefore returns the latest runtime of s in [start, reference).
// If no runtime falls inside that window, start itself is returned. It is
// used to align monitor failures with the monitor's own cadence rather than
// the time a sweep happened to run.
func LastRuntimeBefore(s Schedule, start, reference time.Time) time.Time {
	switch sc := s.(type) {
	case *Interval:
		first := start.Truncate(time.Second)
		if !first.Before(reference) {
			return start
		}
		steps := (reference.Sub(first) - 1) / sc.delta
		return first.Add(steps * sc.delta)
	case *Crontab:
		cur := sc.next(start.Truncate(time.Minute).Add(-time.Second))
		if !cur.Before(reference) {
			return start
		}
		for i := 0; i < maxPreviousSteps; i++ {
			nxt := sc.next(cur)
			if !nxt.Before(reference) {
				return cur
			}
			cur = nxt
		}
		return cur
	default:
		cur := start
		for i := 0; i < maxPreviousSteps; i++ {
			nxt := s.RuntimeAfter(cur)
			if !nxt.Before(reference) {
				return cur
			}
			cur = nxt
		}
		return cur
	}
}
