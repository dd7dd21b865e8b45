package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/tickr/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store holds the monitor state reconciled by the clock tasks. All access
// goes through transactions; Update transactions see a consistent snapshot
// and are serialized against each other for the rows they touch.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is a transaction on the monitor state. List queries are bounded by
// limit; callers pick up the remainder on their next sweep.
type Tx interface {
	// Monitors
	GetMonitor(id string) (*types.Monitor, error)
	PutMonitor(m *types.Monitor) error

	// Monitor environments
	GetEnvironment(id string) (*types.MonitorEnvironment, error)
	PutEnvironment(env *types.MonitorEnvironment) error
	// ListOverdueEnvironments returns environments whose latest expected
	// check-in is at or before ts, oldest first. Disabled environments are
	// skipped.
	ListOverdueEnvironments(ts time.Time, limit int) ([]*types.MonitorEnvironment, error)

	// Check-ins
	GetCheckIn(id string) (*types.CheckIn, error)
	PutCheckIn(c *types.CheckIn) error
	// ListTimedOutCheckIns returns in-progress check-ins whose timeout is at
	// or before ts
	ListTimedOutCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error)
	// ListInProgressCheckIns returns in-progress check-ins started at or
	// before ts
	ListInProgressCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error)
	// ListRecentCheckIns returns the newest check-ins of an environment,
	// newest first
	ListRecentCheckIns(envID string, limit int) ([]*types.CheckIn, error)

	// Incidents
	GetIncident(id string) (*types.MonitorIncident, error)
	PutIncident(inc *types.MonitorIncident) error
	// ActiveIncident returns the unresolved incident of an environment or
	// ErrNotFound
	ActiveIncident(envID string) (*types.MonitorIncident, error)
}
