// Package clocktasks reconciles monitor state on every clock tick.
//
// For each tick the Dispatcher runs three bounded sweeps over the store and
// produces one message per record to the clock tasks topic:
//
//	mark_missing   environments whose NextCheckinLatest passed
//	mark_timeout   in-progress check-ins whose TimeoutAt passed
//	mark_unknown   in-progress check-ins during a system incident
//
// Messages are keyed by monitor environment ID, so every consumer sees the
// tasks of one environment in the order they were dispatched.
//
// The Processor consumes those messages. Each operation re-checks its
// precondition inside a store transaction, which makes duplicate or stale
// messages harmless.
package clocktasks
