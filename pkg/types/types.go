package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTaskRef is returned when a task reference is not "namespace:name"
var ErrInvalidTaskRef = errors.New("invalid task reference")

// TaskRef identifies a dispatch target by namespace and task name
type TaskRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// ParseTaskRef parses a "namespace:name" reference
func ParseTaskRef(s string) (TaskRef, error) {
	ns, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || ns == "" || name == "" || strings.Contains(name, ":") {
		return TaskRef{}, fmt.Errorf("%w: %q (want namespace:name)", ErrInvalidTaskRef, s)
	}
	return TaskRef{Namespace: ns, Name: name}, nil
}

// Fullname returns the fully-qualified "namespace:name" form
func (r TaskRef) Fullname() string {
	return r.Namespace + ":" + r.Name
}

func (r TaskRef) String() string {
	return r.Fullname()
}

// TaskActivation is one serialized task invocation on a namespace topic
type TaskActivation struct {
	ID                 string         `json:"id"`
	Namespace          string         `json:"namespace"`
	Taskname           string         `json:"taskname"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	ReceivedAt         time.Time      `json:"received_at"`
	ProcessingDeadline int64          `json:"processing_deadline_seconds,omitempty"`
}

// Ref returns the task the activation targets
func (a *TaskActivation) Ref() TaskRef {
	return TaskRef{Namespace: a.Namespace, Name: a.Taskname}
}

// Monitor is a recurring job whose executions report check-ins
type Monitor struct {
	ID                    string          `json:"id"`
	Slug                  string          `json:"slug"`
	Name                  string          `json:"name"`
	Schedule              MonitorSchedule `json:"schedule"`
	CheckinMargin         int             `json:"checkin_margin"` // minutes, 0 means default
	MaxRuntime            int             `json:"max_runtime"`    // minutes, 0 means default
	FailureIssueThreshold int             `json:"failure_issue_threshold"`
	RecoveryThreshold     int             `json:"recovery_threshold"`
	Status                MonitorStatus   `json:"status"`
	IsMuted               bool            `json:"is_muted"`
	CreatedAt             time.Time       `json:"created_at"`
}

// MonitorSchedule describes the cadence a monitor expects check-ins at
type MonitorSchedule struct {
	Type          ScheduleType `json:"type"`
	Crontab       string       `json:"crontab,omitempty"`
	IntervalValue int          `json:"interval_value,omitempty"`
	IntervalUnit  IntervalUnit `json:"interval_unit,omitempty"`
	Timezone      string       `json:"timezone,omitempty"`
}

// ScheduleType selects between crontab and interval monitor schedules
type ScheduleType string

const (
	ScheduleTypeCrontab  ScheduleType = "crontab"
	ScheduleTypeInterval ScheduleType = "interval"
)

// IntervalUnit is the unit of an interval monitor schedule
type IntervalUnit string

const (
	IntervalMinute IntervalUnit = "minute"
	IntervalHour   IntervalUnit = "hour"
	IntervalDay    IntervalUnit = "day"
	IntervalWeek   IntervalUnit = "week"
)

// MonitorStatus represents the state of a monitor or one of its environments
type MonitorStatus string

const (
	MonitorStatusActive   MonitorStatus = "active"
	MonitorStatusDisabled MonitorStatus = "disabled"
	MonitorStatusOK       MonitorStatus = "ok"
	MonitorStatusError    MonitorStatus = "error"
)

// MonitorEnvironment tracks when the next check-in of a monitor is expected
// in one environment. NextCheckinLatest only ever moves forward.
type MonitorEnvironment struct {
	ID                string        `json:"id"`
	MonitorID         string        `json:"monitor_id"`
	Environment       string        `json:"environment"`
	Status            MonitorStatus `json:"status"`
	IsMuted           bool          `json:"is_muted"`
	LastCheckin       *time.Time    `json:"last_checkin,omitempty"`
	NextCheckin       *time.Time    `json:"next_checkin,omitempty"`
	NextCheckinLatest *time.Time    `json:"next_checkin_latest,omitempty"`
}

// CheckInStatus is the state of one execution attempt
type CheckInStatus string

const (
	CheckInInProgress CheckInStatus = "in_progress"
	CheckInOK         CheckInStatus = "ok"
	CheckInError      CheckInStatus = "error"
	CheckInMissed     CheckInStatus = "missed"
	CheckInTimeout    CheckInStatus = "timeout"
	CheckInUnknown    CheckInStatus = "unknown"
)

// IsTerminal reports whether the status is a final outcome
func (s CheckInStatus) IsTerminal() bool {
	return s != CheckInInProgress && s != ""
}

// IsFailure reports whether the status counts towards a failure streak
func (s CheckInStatus) IsFailure() bool {
	switch s {
	case CheckInError, CheckInMissed, CheckInTimeout:
		return true
	default:
		return false
	}
}

// IsSynthesized reports whether the status was set by the clock sweeps
// rather than reported by the job. Only these may later become unknown.
func (s CheckInStatus) IsSynthesized() bool {
	return s == CheckInMissed || s == CheckInTimeout
}

// IsFinished reports whether the job itself reported a final outcome
func (s CheckInStatus) IsFinished() bool {
	return s == CheckInOK || s == CheckInError
}

// CheckIn is a reported or synthesized execution attempt of a monitored job
type CheckIn struct {
	ID                   string        `json:"id"`
	MonitorID            string        `json:"monitor_id"`
	MonitorEnvironmentID string        `json:"monitor_environment_id"`
	Status               CheckInStatus `json:"status"`
	DateAdded            time.Time     `json:"date_added"`
	DateUpdated          time.Time     `json:"date_updated"`
	ExpectedTime         *time.Time    `json:"expected_time,omitempty"`
	TimeoutAt            *time.Time    `json:"timeout_at,omitempty"`
	TraceID              string        `json:"trace_id,omitempty"`
}

// MonitorIncident is an open or resolved failure streak of one environment
type MonitorIncident struct {
	ID                   string     `json:"id"`
	MonitorID            string     `json:"monitor_id"`
	MonitorEnvironmentID string     `json:"monitor_environment_id"`
	StartingCheckInID    string     `json:"starting_checkin_id"`
	StartingTimestamp    time.Time  `json:"starting_timestamp"`
	ResolvingCheckInID   string     `json:"resolving_checkin_id,omitempty"`
	ResolvingTimestamp   *time.Time `json:"resolving_timestamp,omitempty"`
	GroupHash            string     `json:"grouphash"`
}

// IsActive reports whether the incident has not been resolved
func (i *MonitorIncident) IsActive() bool {
	return i.ResolvingCheckInID == ""
}

// AnomalyResult is the volume classification attached to a clock tick
type AnomalyResult string

const (
	AnomalyNormal   AnomalyResult = "normal"
	AnomalyAbnormal AnomalyResult = "abnormal"
)

// ClockTick is the per-minute reference time driving the reconciliation sweeps
type ClockTick struct {
	Ts                  int64         `json:"ts"`
	VolumeAnomalyResult AnomalyResult `json:"volume_anomaly_result"`
}

// Time returns the tick timestamp
func (t ClockTick) Time() time.Time {
	return time.Unix(t.Ts, 0).UTC()
}

// Clock task message kinds
const (
	ClockTaskMarkMissing = "mark_missing"
	ClockTaskMarkTimeout = "mark_timeout"
	ClockTaskMarkUnknown = "mark_unknown"
)

// ClockTaskMessage is one reconciliation instruction. It is always produced
// with MonitorEnvironmentID as the partition key.
type ClockTaskMessage struct {
	Type                 string        `json:"type"`
	Ts                   int64         `json:"ts"`
	MonitorEnvironmentID string        `json:"monitor_environment_id"`
	CheckInID            string        `json:"checkin_id,omitempty"`
	VolumeAnomalyResult  AnomalyResult `json:"volume_anomaly_result,omitempty"`
}

// Time returns the reference timestamp of the message
func (m ClockTaskMessage) Time() time.Time {
	return time.Unix(m.Ts, 0).UTC()
}

// Ingest message kinds
const (
	IngestClockPulse = "clock_pulse"
	IngestCheckIn    = "check_in"
)

// IngestMessage is a message on the check-in ingest topic. Clock pulses
// carry no check-in and only move the partition clock forward.
type IngestMessage struct {
	Type    string           `json:"type"`
	Ts      int64            `json:"ts"`
	CheckIn *IngestedCheckIn `json:"check_in,omitempty"`
}

// IngestedCheckIn is a check-in as reported by a monitored job
type IngestedCheckIn struct {
	ID                   string        `json:"id"`
	MonitorEnvironmentID string        `json:"monitor_environment_id"`
	Status               CheckInStatus `json:"status"`
	TraceID              string        `json:"trace_id,omitempty"`
}

// IncidentOccurrence is a failure notification candidate. It is held back
// until the clock tick it was produced under has a volume decision.
type IncidentOccurrence struct {
	IncidentID           string   `json:"incident_id"`
	MonitorEnvironmentID string   `json:"monitor_environment_id"`
	FailedCheckInID      string   `json:"failed_checkin_id"`
	PreviousCheckInIDs   []string `json:"previous_checkin_ids"`
	ReceivedTs           int64    `json:"received_ts"`
	ClockTickTs          int64    `json:"clock_tick_ts,omitempty"`
}
