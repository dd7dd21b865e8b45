/*
Package types defines the data structures shared across tickr.

The types fall into three groups:

  - Task dispatch: TaskRef names a target as "namespace:name" and
    TaskActivation is the message a schedule entry produces when it fires.
  - Monitor domain: Monitor, MonitorEnvironment, CheckIn and MonitorIncident
    hold the state reconciled by the clock tasks.
  - Wire messages: ClockTick, ClockTaskMessage, IngestMessage and
    IncidentOccurrence travel over the message log as JSON.

Nothing in this package talks to Redis or a store. Behaviour lives in the
packages that own the state; the few methods here are predicates and
accessors.

# Architecture

	┌──────────────────────────── TYPES ────────────────────────────┐
	│                                                                │
	│  Task dispatch                                                 │
	│    TaskRef ──ParseTaskRef── "monitors:clock_pulse"             │
	│    TaskActivation{ID, Namespace, Taskname, Parameters,        │
	│                   ReceivedAt, ProcessingDeadline}              │
	│                                                                │
	│  Monitor domain                                                │
	│    Monitor ──1:n── MonitorEnvironment ──1:n── CheckIn          │
	│       │                    │                                   │
	│    MonitorSchedule         └──1:n── MonitorIncident            │
	│    (crontab | interval)             (at most one active)       │
	│                                                                │
	│  Wire messages                                                 │
	│    IngestMessage      ingest topic       clock_pulse|check_in  │
	│    ClockTick          clock tick topic   ts + anomaly result   │
	│    ClockTaskMessage   clock tasks topic  mark_* per env        │
	│    IncidentOccurrence occurrences topic  held for a decision   │
	└────────────────────────────────────────────────────────────────┘

# Task References

A TaskRef has exactly one colon. Both halves must be non-empty and
surrounding whitespace is trimmed:

	types.ParseTaskRef("monitors:clock_pulse")   {monitors clock_pulse}
	types.ParseTaskRef("monitors")               ErrInvalidTaskRef
	types.ParseTaskRef("a:b:c")                  ErrInvalidTaskRef

Fullname and String return the "namespace:name" form used as the run-state
key and in logs.

# Monitors and Environments

A Monitor carries its schedule and thresholds. CheckinMargin and
MaxRuntime are minutes, and zero selects the defaults of pkg/monitor.
FailureIssueThreshold and RecoveryThreshold count consecutive check-ins
and treat values below one as one.

A MonitorEnvironment tracks one environment of a monitor:

	LastCheckin         newest check-in applied
	NextCheckin         next expected schedule slot
	NextCheckinLatest   NextCheckin plus the margin; the environment is
	                    overdue once a clock tick reaches it

NextCheckinLatest only ever moves forward, so out-of-order check-ins never
pull the deadline back.

# Check-in Lifecycle

A check-in starts IN_PROGRESS or is created directly in a final status:

	in_progress -> ok | error       reported by the job
	in_progress -> timeout          max runtime exceeded (mark_timeout)
	in_progress -> unknown          clock tick flagged abnormal volume
	(none)      -> missed           nothing arrived in time (mark_missing)
	missed      -> unknown          part of an occurrence held back under
	timeout     -> unknown          an abnormal tick

OK and ERROR are reported by the job and never rewritten. MISSED and
TIMEOUT are synthesized by the clock sweeps; they are final for incident
bookkeeping but may still become UNKNOWN when the tick they were decided
under turns out to be abnormal. UNKNOWN is never rewritten.

The predicates on CheckInStatus encode these rules:

	status        terminal  failure  synthesized  finished
	in_progress   no        no       no           no
	ok            yes       no       no           yes
	error         yes       yes      no           yes
	missed        yes       yes      yes          no
	timeout       yes       yes      yes          no
	unknown       yes       no       no           no

# Incidents

An incident opens when FailureIssueThreshold consecutive check-ins of an
environment failed. It is active while ResolvingCheckInID is empty, and is
resolved once RecoveryThreshold consecutive check-ins were OK. The failure
that opens it and every later failure while it is active produce an
IncidentOccurrence, unless the monitor or the environment is muted.

# Wire Messages

All messages are JSON with snake_case keys and Unix second timestamps. The
Time methods convert them to UTC.

	{"type":"clock_pulse","ts":1714989600}
	{"type":"check_in","ts":1714989612,"check_in":{"id":"...","monitor_environment_id":"env-1","status":"ok"}}
	{"ts":1714989600,"volume_anomaly_result":"normal"}
	{"type":"mark_timeout","ts":1714989600,"monitor_environment_id":"env-1","checkin_id":"..."}

ClockTaskMessage is always produced with MonitorEnvironmentID as the
partition key, so all transitions of one environment are applied in order
by a single consumer.

IncidentOccurrence.ClockTickTs names the tick the failure was decided
under. It is zero for failures reported directly by a job, which never wait
for a volume decision.

# Usage

	ref, err := types.ParseTaskRef("reports:daily-digest")
	if err != nil {
		return err
	}
	act := &types.TaskActivation{
		ID:         uuid.NewString(),
		Namespace:  ref.Namespace,
		Taskname:   ref.Name,
		ReceivedAt: time.Now().UTC(),
	}

	if checkin.Status.IsSynthesized() && tick == types.AnomalyAbnormal {
		checkin.Status = types.CheckInUnknown
	}

# See Also

  - pkg/monitor for the status transitions
  - pkg/clocktasks for the producers of missed and timeout
  - pkg/incidents for the unknown conversion
*/
package types
