package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/tickr/pkg/api"
	"github.com/cuemby/tickr/pkg/clock"
	"github.com/cuemby/tickr/pkg/config"
	"github.com/cuemby/tickr/pkg/events"
	"github.com/cuemby/tickr/pkg/health"
	"github.com/cuemby/tickr/pkg/incidents"
	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/redisutil"
	"github.com/cuemby/tickr/pkg/storage"
)

const (
	// claimIdle is how long a pending entry of a crashed consumer waits
	// before another consumer of the group takes it over
	claimIdle = 5 * time.Minute

	statsInterval = 15 * time.Second
)

// backend is a check-in store as opened by the CLI
type backend interface {
	storage.Store
	metrics.StatsSource
	health.Pinger
}

// role is one long running component of a process
type role func(ctx context.Context) error

// app holds the shared resources of a tickr process. Resources are opened
// on first use and closed in reverse order by close.
type app struct {
	cfg          *config.Config
	consumerName string
	partitions   []int
	logger       zerolog.Logger

	rdb      *redis.Client
	store    backend
	memLog   *msglog.MemoryLog
	redisLog *msglog.RedisLog
	broker   *events.Broker
	health   *health.Monitor
	clock    clock.PartitionClock

	critical []string
	closers  []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	name, _ := cmd.Flags().GetString("consumer-name")
	partitions, _ := cmd.Flags().GetIntSlice("partitions")

	return &app{
		cfg:          cfg,
		consumerName: name,
		partitions:   partitions,
		logger:       log.WithComponent("tickr"),
		health:       health.NewMonitor(health.DefaultConfig()),
	}, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to release resource")
		}
	}
	a.closers = nil
}

// watch registers a dependency check that gates readiness
func (a *app) watch(name string, checker health.Checker) {
	a.health.Add(name, checker)
	a.critical = append(a.critical, name)
}

// redis connects to Redis on first use. It returns nil when no Redis URL
// is configured.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil || a.cfg.Redis.URL == "" {
		return a.rdb, nil
	}
	rdb, err := redisutil.Connect(ctx, a.cfg.Redis.URL, a.cfg.Redis.DialTimeoutDuration())
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.onClose(rdb.Close)
	a.watch("redis", health.NewRedisChecker(rdb))
	return rdb, nil
}

// partitionClock returns the process' partition clock. Every clock and
// incidents role in the process shares it.
func (a *app) partitionClock(ctx context.Context) (clock.PartitionClock, error) {
	if a.clock != nil {
		return a.clock, nil
	}
	producer, err := a.producer(ctx)
	if err != nil {
		return nil, err
	}
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}

	partitions := producer.Partitions(a.cfg.Topics.Ingest)
	if rdb != nil {
		a.clock = clock.NewRedisPartitionClock(rdb, "", partitions)
	} else {
		a.clock = clock.NewMemoryPartitionClock(partitions)
	}
	return a.clock, nil
}

func (a *app) requireRedis(ctx context.Context, purpose string) (*redis.Client, error) {
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis.url is required for %s", purpose)
	}
	return rdb, nil
}

// storage opens the configured check-in store
func (a *app) storage(ctx context.Context) (backend, error) {
	if a.store != nil {
		return a.store, nil
	}

	var (
		s   backend
		err error
	)
	switch a.cfg.Storage.Driver {
	case config.StorageBolt:
		s, err = storage.NewBoltStore(a.cfg.Storage.Path)
	case config.StoragePostgres:
		s, err = storage.NewPostgresStore(ctx, a.cfg.Storage.DSN)
	default:
		err = fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a.store = s
	a.onClose(s.Close)
	a.watch("storage", health.NewDatabaseChecker(s))
	a.logger.Info().Str("driver", a.cfg.Storage.Driver).Msg("Storage opened")
	return s, nil
}

// producer returns the configured message log as a producer
func (a *app) producer(ctx context.Context) (msglog.Producer, error) {
	switch a.cfg.MessageLog.Driver {
	case config.LogMemory:
		return a.memoryLog(), nil
	case config.LogRedis:
		return a.redisMessageLog(ctx)
	default:
		return nil, fmt.Errorf("unknown message log driver %q", a.cfg.MessageLog.Driver)
	}
}

// consumer opens a consumer of topic in the group of role
func (a *app) consumer(ctx context.Context, role, topic string) (msglog.Consumer, error) {
	group := a.cfg.MessageLog.Group + "-" + role

	var (
		c   msglog.Consumer
		err error
	)
	switch a.cfg.MessageLog.Driver {
	case config.LogMemory:
		c, err = a.memoryLog().Consumer(group, topic, a.partitions...)
	case config.LogRedis:
		var l *msglog.RedisLog
		l, err = a.redisMessageLog(ctx)
		if err != nil {
			return nil, err
		}
		c, err = l.Consumer(ctx, msglog.RedisConsumerConfig{
			Group:      group,
			Consumer:   a.consumerName,
			Topic:      topic,
			Block:      a.cfg.MessageLog.BlockDuration(),
			Partitions: a.partitions,
			ClaimIdle:  claimIdle,
		})
	default:
		err = fmt.Errorf("unknown message log driver %q", a.cfg.MessageLog.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer for %s: %w", topic, err)
	}
	a.onClose(c.Close)
	return c, nil
}

func (a *app) memoryLog() *msglog.MemoryLog {
	if a.memLog == nil {
		a.memLog = msglog.NewMemoryLog(a.cfg.MessageLog.Partitions)
		a.onClose(a.memLog.Close)
	}
	return a.memLog
}

func (a *app) redisMessageLog(ctx context.Context) (*msglog.RedisLog, error) {
	if a.redisLog != nil {
		return a.redisLog, nil
	}
	rdb, err := a.requireRedis(ctx, "the redis message log")
	if err != nil {
		return nil, err
	}
	a.redisLog = msglog.NewRedisLog(rdb, a.cfg.MessageLog.Partitions)
	return a.redisLog, nil
}

// events returns the process event broker, starting it on first use
func (a *app) events() *events.Broker {
	if a.broker == nil {
		a.broker = events.NewBroker()
		a.broker.Start()
		a.onClose(func() error {
			a.broker.Stop()
			return nil
		})
	}
	return a.broker
}

// run serves the ops endpoints and runs roles until ctx is cancelled or a
// role fails. Resources are released on return.
func (a *app) run(ctx context.Context, roles ...role) error {
	defer a.close()

	metrics.SetCriticalComponents(a.critical...)
	if a.store != nil {
		collector := metrics.NewCollector(a.store, statsInterval)
		collector.Start()
		defer collector.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range roles {
		r := r
		g.Go(func() error { return r(ctx) })
	}
	g.Go(func() error {
		a.health.Run(ctx)
		return nil
	})

	srv := api.NewServer(api.Config{Addr: a.cfg.HTTP.Addr, Broker: a.broker})
	g.Go(func() error { return srv.Run(ctx) })

	a.logger.Info().Int("roles", len(roles)).Str("ops_addr", a.cfg.HTTP.Addr).Msg("Tickr started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info().Msg("Tickr stopped")
	return err
}

func (a *app) volumeDetector(rdb *redis.Client) *incidents.VolumeDetector {
	return incidents.NewVolumeDetector(rdb, incidents.VolumeConfig{
		Window:        a.cfg.Incidents.Window,
		DropThreshold: a.cfg.Incidents.DropThreshold,
		MinVolume:     a.cfg.Incidents.MinVolume,
	})
}
