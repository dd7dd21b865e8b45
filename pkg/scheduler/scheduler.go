package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/runstate"
	"github.com/cuemby/tickr/pkg/schedule"
	"github.com/cuemby/tickr/pkg/types"
)

// Config tunes the runner loop
type Config struct {
	FallbackSleep time.Duration // sleep when no entries are registered
	MinSleep      time.Duration // lower bound between ticks
	CallTimeout   time.Duration // per store or dispatch call
	Clock         schedule.Clock
}

func (c *Config) setDefaults() {
	if c.FallbackSleep <= 0 {
		c.FallbackSleep = 60 * time.Second
	}
	if c.MinSleep <= 0 {
		c.MinSleep = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = schedule.SystemClock
	}
}

// Runner owns the schedule entries of one process and spawns them as they
// come due. The heap is only touched by the goroutine calling Tick.
type Runner struct {
	store      runstate.Store
	dispatcher Dispatcher
	cfg        Config
	entries    map[string]*Entry
	heap       entryHeap
	logger     zerolog.Logger
}

// NewRunner creates an empty runner
func NewRunner(store runstate.Store, dispatcher Dispatcher, cfg Config) *Runner {
	cfg.setDefaults()
	return &Runner{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		entries:    make(map[string]*Entry),
		logger:     log.WithComponent("scheduler"),
	}
}

// Add registers a schedule entry under key
func (r *Runner) Add(key string, task types.TaskRef, s schedule.Schedule, params map[string]any) (*Entry, error) {
	if _, exists := r.entries[key]; exists {
		return nil, fmt.Errorf("schedule entry %q already registered", key)
	}
	e := NewEntry(key, task, s, params, r.store, r.dispatcher)
	e.callTimeout = r.cfg.CallTimeout
	r.entries[key] = e
	metrics.ScheduleEntries.Set(float64(len(r.entries)))
	return e, nil
}

// Entries returns the registered entries sorted by key
func (r *Runner) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// LoadLastRuns seeds every entry's last run from the store with one batched
// read, so a cold start does not treat every task as never run
func (r *Runner) LoadLastRuns(ctx context.Context) error {
	entries := r.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.runStateKey()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	lastRuns, err := r.store.ReadMany(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to load last runs: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if t := lastRuns[e.runStateKey()]; t != nil {
			e.lastRun = t
			loaded++
		}
	}
	r.logger.Info().Int("entries", len(entries)).Int("loaded", loaded).Msg("Loaded last runs")
	return nil
}

// rebuild recomputes every key and re-heapifies. Keys are derived from the
// wall clock, so positions from an earlier tick cannot be trusted.
func (r *Runner) rebuild() {
	r.heap = r.heap[:0]
	for _, e := range r.entries {
		r.heap = append(r.heap, heapItem{remaining: e.RemainingSeconds(), entry: e})
	}
	heap.Init(&r.heap)
}

// Tick spawns every due entry and returns how long to sleep before the
// next tick. Spawn failures are logged and never stop the tick.
func (r *Runner) Tick(ctx context.Context) time.Duration {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)

	r.rebuild()
	if r.heap.Len() == 0 {
		r.logger.Warn().Dur("sleep", r.cfg.FallbackSleep).Msg("No schedule entries registered")
		return r.cfg.FallbackSleep
	}

	// An entry is spawned at most once per tick. One that is still due
	// afterwards (its claim failed) is parked until the drain ends.
	spawned := make(map[string]bool)
	var parked []heapItem
	for r.heap.Len() > 0 {
		if r.heap[0].entry.RemainingSeconds() > 0 {
			break
		}

		item := heap.Pop(&r.heap).(heapItem)
		if spawned[item.entry.key] {
			parked = append(parked, item)
			continue
		}
		spawned[item.entry.key] = true
		r.spawn(ctx, item.entry)
		heap.Push(&r.heap, heapItem{remaining: item.entry.RemainingSeconds(), entry: item.entry})
	}
	for _, item := range parked {
		heap.Push(&r.heap, heapItem{remaining: item.entry.RemainingSeconds(), entry: item.entry})
	}

	return time.Duration(r.heap[0].entry.RemainingSeconds()) * time.Second
}

func (r *Runner) spawn(ctx context.Context, e *Entry) {
	result, err := e.TrySpawn(ctx, r.cfg.Clock())
	metrics.ScheduleSpawns.WithLabelValues(e.task.Fullname(), string(result)).Inc()
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("entry", e.key).
			Str("task", e.task.Fullname()).
			Str("result", string(result)).
			Msg("Failed to spawn scheduled task")
	}
}

// Run loads the last runs and ticks until ctx is cancelled. A tick in
// progress always completes; its store and dispatch calls are detached from
// ctx and bounded by the call timeout.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.LoadLastRuns(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Starting without stored last runs")
	}

	r.logger.Info().Int("entries", len(r.entries)).Msg("Schedule runner started")
	defer r.logger.Info().Msg("Schedule runner stopped")

	detached := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}

		sleep := r.Tick(detached)
		if sleep < r.cfg.MinSleep {
			sleep = r.cfg.MinSleep
		}
		metrics.SchedulerSleepSeconds.Set(sleep.Seconds())

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
