package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Only the standard 5 fields; no seconds field and no descriptors.
var crontabParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Crontab runs a task on the minutes matched by a cron expression
type Crontab struct {
	expr  string
	match cron.Schedule
	loc   *time.Location
	clock Clock
	log   zerolog.Logger
}

// NewCrontab parses a 5-field cron expression. Parse failures are returned
// here and never at evaluation time.
func NewCrontab(expr string, opts ...Option) (*Crontab, error) {
	parsed, err := crontabParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCrontab, expr, err)
	}
	o := buildOptions(opts)
	// robfig/cron gives up after five years and returns the zero time
	if parsed.Next(o.clock().In(o.location)).IsZero() {
		return nil, fmt.Errorf("%w %q: expression never matches", ErrInvalidCrontab, expr)
	}
	return &Crontab{
		expr:  expr,
		match: parsed,
		loc:   o.location,
		clock: o.clock,
		log:   *o.logger,
	}, nil
}

// Location returns the time zone the expression is evaluated in
func (s *Crontab) Location() *time.Location {
	return s.loc
}

// IsDue reports whether the current minute is a beat that has not run yet
func (s *Crontab) IsDue(lastRun *time.Time) bool {
	return s.RemainingSeconds(lastRun) <= 0
}

// RemainingSeconds returns the seconds from the current minute to the next
// beat. A last run in the current minute never yields 0, so a beat cannot
// fire twice within the same minute.
func (s *Crontab) RemainingSeconds(lastRun *time.Time) int64 {
	if lastRun == nil {
		return 0
	}
	now := s.clock().Truncate(time.Minute)
	last := lastRun.Truncate(time.Minute)

	var next time.Time
	switch {
	case last.After(now):
		next = s.next(last)
		s.log.Warn().
			Str("schedule", s.expr).
			Time("last_run", *lastRun).
			Time("now", now).
			Msg("last run is in the future")
	case last.Equal(now):
		next = s.next(now)
	default:
		next = s.next(last)
		if next.Before(now) {
			s.log.Warn().
				Str("schedule", s.expr).
				Time("last_run", *lastRun).
				Time("missed", next).
				Msg("missed scheduled interval")
			next = s.next(now.Add(-time.Second))
		}
	}

	remaining := int64(next.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RuntimeAfter returns the first matching minute strictly after start
func (s *Crontab) RuntimeAfter(start time.Time) time.Time {
	return s.next(start)
}

func (s *Crontab) String() string {
	return s.expr
}

func (s *Crontab) next(t time.Time) time.Time {
	return s.match.Next(t.In(s.loc)).In(t.Location())
}
