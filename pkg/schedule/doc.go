// Package schedule computes when recurring tasks are due.
//
// Two schedule kinds are supported: a fixed Interval and a 5-field Crontab
// expression evaluated in a configurable time zone. Both are validated when they
// are constructed, so a Schedule that exists is always evaluable.
//
// # Due-ness
//
// Every Schedule answers the same three questions:
//
//	IsDue(lastRun)            true when lastRun is nil or no time remains
//	RemainingSeconds(lastRun) whole seconds until the next beat, never negative
//	RuntimeAfter(start)       the next beat strictly after start
//
// Interval schedules work at whole-second granularity. Crontab schedules work at
// whole-minute granularity: seconds are dropped from both the clock and the last
// run before comparing them.
//
// # Missed beats
//
// A crontab whose next beat after lastRun is already in the past (the scheduler
// was down, or the process was stalled) logs a warning and moves on to the first
// beat at or after now. Skipped beats are never replayed:
//
//	*/5 * * * *, now 14:23, last run 14:01
//	next after 14:01 is 14:05 (past) -> first beat from now is 14:25 -> 120s
//
// A last run that lies in the future (clock skew between replicas) is honoured:
// the next beat is computed from the last run, not from now.
//
// # Clocks
//
// Schedules read the time through a Clock so tests can freeze it:
//
//	frozen := func() time.Time { return t0 }
//	s, err := schedule.NewCrontab("*/5 * * * *", schedule.WithClock(frozen))
package schedule
