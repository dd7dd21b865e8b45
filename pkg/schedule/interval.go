package schedule

import (
	"fmt"
	"time"
)

// Interval runs a task every fixed number of seconds
type Interval struct {
	delta time.Duration
	clock Clock
}

// NewInterval builds an interval schedule. The delta must be at least one
// second and a whole number of seconds.
func NewInterval(delta time.Duration, opts ...Option) (*Interval, error) {
	if delta < time.Second {
		return nil, fmt.Errorf("%w: %s is below one second", ErrInvalidInterval, delta)
	}
	if delta%time.Second != 0 {
		return nil, fmt.Errorf("%w: %s has sub-second precision", ErrInvalidInterval, delta)
	}
	o := buildOptions(opts)
	return &Interval{delta: delta, clock: o.clock}, nil
}

// Delta returns the interval length
func (s *Interval) Delta() time.Duration {
	return s.delta
}

// IsDue reports whether no time remains since lastRun
func (s *Interval) IsDue(lastRun *time.Time) bool {
	return s.RemainingSeconds(lastRun) <= 0
}

// RemainingSeconds returns max(0, delta - (now - lastRun)) in whole seconds
func (s *Interval) RemainingSeconds(lastRun *time.Time) int64 {
	if lastRun == nil {
		return 0
	}
	elapsed := s.clock().Unix() - lastRun.Unix()
	remaining := int64(s.delta/time.Second) - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RuntimeAfter returns start + delta
func (s *Interval) RuntimeAfter(start time.Time) time.Time {
	return start.Add(s.delta)
}

func (s *Interval) String() string {
	return "every " + s.delta.String()
}
