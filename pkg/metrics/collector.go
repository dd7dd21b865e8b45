package metrics

import (
	"context"
	"time"

	"github.com/cuemby/tickr/pkg/log"
)

// Stats is a point-in-time view of monitor state
type Stats struct {
	CheckInsInProgress  int
	EnvironmentsOverdue int
	IncidentsActive     int
}

// StatsSource reports monitor state for the gauges
type StatsSource interface {
	CollectStats(ctx context.Context, now time.Time) (Stats, error)
}

// Collector periodically samples a StatsSource into the monitor gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.source.CollectStats(ctx, time.Now().UTC())
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("Failed to collect monitor stats")
		return
	}

	CheckInsInProgress.Set(float64(stats.CheckInsInProgress))
	EnvironmentsOverdue.Set(float64(stats.EnvironmentsOverdue))
	IncidentsActive.Set(float64(stats.IncidentsActive))
}
