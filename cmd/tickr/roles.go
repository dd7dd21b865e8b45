package main

import (
	"context"
	"fmt"

	"github.com/cuemby/tickr/pkg/clock"
	"github.com/cuemby/tickr/pkg/clocktasks"
	"github.com/cuemby/tickr/pkg/config"
	"github.com/cuemby/tickr/pkg/events"
	"github.com/cuemby/tickr/pkg/incidents"
	"github.com/cuemby/tickr/pkg/monitor"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/registry"
	"github.com/cuemby/tickr/pkg/runstate"
	"github.com/cuemby/tickr/pkg/schedule"
	"github.com/cuemby/tickr/pkg/scheduler"
	"github.com/cuemby/tickr/pkg/types"
	"github.com/cuemby/tickr/pkg/worker"
)

// registry builds the task registry with the configured namespaces and the
// built-in tasks. The scheduler and the workers build the same registry.
func (a *app) registry(ctx context.Context) (*registry.Registry, error) {
	producer, err := a.producer(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New(producer)
	for _, ns := range a.cfg.Namespaces {
		if _, err := reg.CreateNamespace(ns.Name, ns.Topic); err != nil {
			return nil, err
		}
	}

	pulseRef, err := types.ParseTaskRef(clock.PulseTask)
	if err != nil {
		return nil, err
	}
	if ns, err := reg.Namespace(pulseRef.Namespace); err == nil {
		pulse := clock.NewPulse(producer, a.cfg.Topics.Ingest)
		if _, err := ns.Register(pulseRef.Name, pulse.Handle); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *app) schedulerRole(ctx context.Context, reg *registry.Registry) (role, error) {
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	var store runstate.Store = runstate.NewMemoryStore(schedule.SystemClock)
	if rdb != nil {
		store = runstate.NewRedisStore(rdb, a.cfg.Scheduler.KeyPrefix, schedule.SystemClock)
	} else {
		a.logger.Warn().Msg("No redis.url configured, run state is kept in memory and not shared")
	}

	runner := scheduler.NewRunner(store, reg, scheduler.Config{
		FallbackSleep: a.cfg.Scheduler.FallbackSleepDuration(),
		MinSleep:      a.cfg.Scheduler.MinSleepDuration(),
		CallTimeout:   a.cfg.Scheduler.CallTimeoutDuration(),
	})
	for _, key := range a.cfg.ScheduleKeys() {
		sc := a.cfg.Scheduler.Schedules[key]
		ref, err := reg.Resolve(sc.Task)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", key, err)
		}
		s, err := sc.Build()
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", key, err)
		}
		if _, err := runner.Add(key, ref, s, sc.Parameters); err != nil {
			return nil, err
		}
	}
	return runner.Run, nil
}

func (a *app) workerRoles(ctx context.Context, reg *registry.Registry, namespaces []string) ([]role, error) {
	roles := make([]role, 0, len(namespaces))
	for _, name := range namespaces {
		ns, err := reg.Namespace(name)
		if err != nil {
			return nil, err
		}
		consumer, err := a.consumer(ctx, "worker-"+ns.Name, ns.Topic)
		if err != nil {
			return nil, err
		}
		w, err := worker.NewWorker(reg, consumer, worker.Config{
			Namespace: ns.Name,
			BatchSize: a.cfg.MessageLog.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		roles = append(roles, w.Run)
	}
	return roles, nil
}

// emitter publishes monitor outcomes to the occurrence topic and the
// process event broker
func (a *app) emitter(ctx context.Context) (*monitor.Emitter, error) {
	producer, err := a.producer(ctx)
	if err != nil {
		return nil, err
	}
	return monitor.NewEmitter(producer, a.cfg.Topics.IncidentOccurrences, a.events()), nil
}

func (a *app) volumeTracker(ctx context.Context) (incidents.VolumeTracker, error) {
	if a.cfg.Incidents.Detector != config.DetectorVolume {
		return incidents.NewStaticDetector(types.AnomalyNormal), nil
	}
	rdb, err := a.requireRedis(ctx, "the volume detector")
	if err != nil {
		return nil, err
	}
	return a.volumeDetector(rdb), nil
}

func (a *app) clockRoles(ctx context.Context) ([]role, error) {
	store, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	producer, err := a.producer(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.emitter(ctx)
	if err != nil {
		return nil, err
	}
	volume, err := a.volumeTracker(ctx)
	if err != nil {
		return nil, err
	}
	pc, err := a.partitionClock(ctx)
	if err != nil {
		return nil, err
	}

	ticks := clock.NewDispatcher(pc, volume, producer, a.cfg.Topics.ClockTick)
	ingest := clock.NewIngestConsumer(monitor.NewIngester(store), emitter, volume, ticks)
	sweeper := clocktasks.NewDispatcher(store, producer, a.cfg.Topics.ClockTasks, clocktasks.DispatcherConfig{
		Limit: a.cfg.Monitors.DispatchLimit,
		Rate:  a.cfg.Monitors.ProduceRate,
	})
	tick := clock.NewTickConsumer(sweeper)

	ingestConsumer, err := a.consumer(ctx, "clock-ingest", a.cfg.Topics.Ingest)
	if err != nil {
		return nil, err
	}
	tickConsumer, err := a.consumer(ctx, "clock-tick", a.cfg.Topics.ClockTick)
	if err != nil {
		return nil, err
	}

	return []role{
		msglog.NewRunner("clock-ingest", ingestConsumer, ingest.Handle, a.cfg.MessageLog.BatchSize).Run,
		msglog.NewRunner("clock-tick", tickConsumer, tick.Handle, a.cfg.MessageLog.BatchSize).Run,
	}, nil
}

func (a *app) clockTasksRole(ctx context.Context) (role, error) {
	store, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.emitter(ctx)
	if err != nil {
		return nil, err
	}
	consumer, err := a.consumer(ctx, "clock-tasks", a.cfg.Topics.ClockTasks)
	if err != nil {
		return nil, err
	}
	processor := clocktasks.NewProcessor(store, emitter)
	return msglog.NewRunner("clock-tasks", consumer, processor.Handle, a.cfg.MessageLog.BatchSize).Run, nil
}

func (a *app) incidentsRole(ctx context.Context) (role, error) {
	store, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.emitter(ctx)
	if err != nil {
		return nil, err
	}

	var detector incidents.Detector = incidents.NormalDetector{}
	if a.cfg.Incidents.Detector == config.DetectorVolume {
		rdb, err := a.requireRedis(ctx, "the volume detector")
		if err != nil {
			return nil, err
		}
		detector = a.volumeDetector(rdb)
	}

	ticks, err := a.partitionClock(ctx)
	if err != nil {
		return nil, err
	}

	consumer, err := a.consumer(ctx, "incidents", a.cfg.Topics.IncidentOccurrences)
	if err != nil {
		return nil, err
	}
	oc := incidents.NewOccurrenceConsumer(detector, events.NewBrokerNotifier(a.events()), store, emitter, incidents.ConsumerConfig{
		PendingBackoff: a.cfg.Incidents.PendingBackoffDuration(),
		PendingWait:    a.cfg.Incidents.PendingWaitDuration(),
		Ticks:          ticks,
	})
	return msglog.NewRunner("incidents", consumer, oc.Handle, a.cfg.MessageLog.BatchSize).Run, nil
}

func (a *app) standaloneRoles(ctx context.Context) ([]role, error) {
	reg, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}
	sched, err := a.schedulerRole(ctx, reg)
	if err != nil {
		return nil, err
	}

	namespaces := make([]string, 0, len(a.cfg.Namespaces))
	for _, ns := range a.cfg.Namespaces {
		namespaces = append(namespaces, ns.Name)
	}
	workers, err := a.workerRoles(ctx, reg, namespaces)
	if err != nil {
		return nil, err
	}

	clockRoles, err := a.clockRoles(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := a.clockTasksRole(ctx)
	if err != nil {
		return nil, err
	}
	occurrences, err := a.incidentsRole(ctx)
	if err != nil {
		return nil, err
	}

	roles := append([]role{sched}, workers...)
	roles = append(roles, clockRoles...)
	return append(roles, tasks, occurrences), nil
}
