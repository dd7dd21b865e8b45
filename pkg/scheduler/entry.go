package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/runstate"
	"github.com/cuemby/tickr/pkg/schedule"
	"github.com/cuemby/tickr/pkg/types"
)

// Dispatcher enqueues a task activation onto the task log
type Dispatcher interface {
	Dispatch(ctx context.Context, ref types.TaskRef, params map[string]any) (*types.TaskActivation, error)
}

// SpawnResult is the outcome of one TrySpawn call
type SpawnResult string

const (
	SpawnClaimed SpawnResult = "claimed" // this replica dispatched
	SpawnLost    SpawnResult = "lost"    // another replica owns the period
	SpawnError   SpawnResult = "error"
)

// Entry binds a task to its schedule. LastRun is a process-local cache
// that never runs ahead of the run-state store.
type Entry struct {
	key         string
	task        types.TaskRef
	schedule    schedule.Schedule
	params      map[string]any
	lastRun     *time.Time
	store       runstate.Store
	dispatcher  Dispatcher
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewEntry creates an entry that claims runs in store and dispatches
// through dispatcher
func NewEntry(key string, task types.TaskRef, s schedule.Schedule, params map[string]any, store runstate.Store, dispatcher Dispatcher) *Entry {
	return &Entry{
		key:         key,
		task:        task,
		schedule:    s,
		params:      params,
		store:       store,
		dispatcher:  dispatcher,
		callTimeout: 5 * time.Second,
		logger:      log.WithTask(task.Fullname()).With().Str("entry", key).Logger(),
	}
}

// Key returns the configuration key of the entry
func (e *Entry) Key() string { return e.key }

func (e *Entry) Task() types.TaskRef { return e.task }

func (e *Entry) Schedule() schedule.Schedule { return e.schedule }

func (e *Entry) Params() map[string]any { return e.params }

// LastRun returns the cached last spawn time, nil if never run
func (e *Entry) LastRun() *time.Time { return e.lastRun }

func (e *Entry) SetLastRun(t *time.Time) { e.lastRun = t }

// IsDue reports whether the task should be spawned now
func (e *Entry) IsDue() bool {
	return e.schedule.IsDue(e.lastRun)
}

// RemainingSeconds is the heap key and the runner's sleep hint
func (e *Entry) RemainingSeconds() int64 {
	return e.schedule.RemainingSeconds(e.lastRun)
}

func (e *Entry) runStateKey() string {
	return e.task.Fullname()
}

func (e *Entry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// TrySpawn claims the current period and dispatches the task if the claim
// is won. A lost claim resynchronizes LastRun from the store and never
// dispatches.
func (e *Entry) TrySpawn(ctx context.Context, now time.Time) (SpawnResult, error) {
	next := e.schedule.RuntimeAfter(now)

	claimCtx, cancel := e.withTimeout(ctx)
	claimed, err := e.store.Set(claimCtx, e.runStateKey(), next)
	cancel()
	if err != nil {
		return SpawnError, fmt.Errorf("claim %s: %w", e.task, err)
	}

	if !claimed {
		readCtx, cancel := e.withTimeout(ctx)
		stored, err := e.store.Read(readCtx, e.runStateKey())
		cancel()
		if err != nil || stored == nil {
			n := now
			stored = &n
		}
		e.lastRun = stored
		e.logger.Debug().Time("last_run", *stored).Msg("Run already claimed by another replica")
		if err != nil {
			return SpawnLost, fmt.Errorf("resync %s: %w", e.task, err)
		}
		return SpawnLost, nil
	}

	n := now
	e.lastRun = &n

	dispatchCtx, cancel := e.withTimeout(ctx)
	act, err := e.dispatcher.Dispatch(dispatchCtx, e.task, e.params)
	cancel()
	if err != nil {
		return SpawnError, fmt.Errorf("dispatch %s: %w", e.task, err)
	}

	ev := e.logger.Info().Time("next_runtime", next)
	if act != nil {
		ev = ev.Str("activation_id", act.ID)
	}
	ev.Msg("Task dispatched")
	return SpawnClaimed, nil
}
