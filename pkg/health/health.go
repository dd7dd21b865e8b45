package health

import (
	"context"
	"time"
)

// CheckType identifies what a Checker checks
type CheckType string

const (
	CheckTypeHTTP     CheckType = "http"
	CheckTypeRedis    CheckType = "redis"
	CheckTypeDatabase CheckType = "database"
)

// Result is the outcome of a single check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker checks one dependency of a tickr process
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how often dependencies are checked and how many failed
// checks in a row mark one as down.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

func DefaultConfig() Config {
	return Config{Interval: 15 * time.Second, Timeout: 5 * time.Second, Retries: 3}
}

// Status accumulates check results for one dependency
type Status struct {
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
}

// NewStatus returns a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds result into s. A single success restores health; failures
// only count once cfg.Retries of them have happened back to back.
func (s *Status) Update(result Result, cfg Config) {
	s.LastCheck, s.LastResult = result.CheckedAt, result

	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.ConsecutiveSuccesses++
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++
	s.Healthy = s.ConsecutiveFailures < cfg.Retries
}
