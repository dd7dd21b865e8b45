// Package monitor holds the check-in state machine of cron monitors.
//
// A monitor expects check-ins on a crontab or interval schedule. Each
// environment of a monitor tracks when the next check-in is due
// (NextCheckin) and the moment it becomes overdue (NextCheckinLatest, the
// due time plus the check-in margin).
//
// MarkOK and MarkFailed run inside a storage transaction and return an
// Outcome listing the incident changes and occurrences to emit once the
// transaction commits. An environment never moves backwards: a transition
// for a check-in older than the environment's last check-in is a no-op.
//
// Ingester applies check-ins reported by jobs. Emitter produces the
// occurrences of an Outcome to the incident occurrence topic.
package monitor
