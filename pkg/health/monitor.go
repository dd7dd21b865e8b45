package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
)

type check struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor runs dependency checks on an interval and publishes the result
// to the process health registry served on /healthz and /readyz
type Monitor struct {
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	checks map[string]*check
}

// NewMonitor creates a monitor. Zero fields in config take their defaults.
func NewMonitor(config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	return &Monitor{
		config: config,
		logger: log.WithComponent("health"),
		checks: make(map[string]*check),
	}
}

// Add registers a checker under the component name and marks the component
// healthy until its first check says otherwise
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &check{name: name, checker: checker, status: NewStatus()}
	metrics.RegisterComponent(name, true, "")
}

// Run checks every component immediately and then on each interval until
// ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs every registered check once
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	checks := make([]*check, 0, len(m.checks))
	for _, p := range m.checks {
		checks = append(checks, p)
	}
	m.mu.Unlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	for _, p := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := p.checker.Check(checkCtx)
		cancel()

		m.mu.Lock()
		wasHealthy := p.status.Healthy
		p.status.Update(result, m.config)
		healthy := p.status.Healthy
		m.mu.Unlock()

		message := ""
		if !healthy {
			message = result.Message
		}
		metrics.UpdateComponent(p.name, healthy, message)

		switch {
		case wasHealthy && !healthy:
			m.logger.Error().Str("check", p.name).Str("type", string(p.checker.Type())).
				Str("message", result.Message).Msg("Dependency unhealthy")
		case !wasHealthy && healthy:
			m.logger.Info().Str("check", p.name).Msg("Dependency recovered")
		case !result.Healthy:
			m.logger.Warn().Str("check", p.name).Int("failures", p.status.ConsecutiveFailures).
				Str("message", result.Message).Msg("Health check failed")
		}
	}
}

// Status returns a copy of the named component's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.checks[name]
	if !ok {
		return Status{}, false
	}
	return *p.status, true
}
