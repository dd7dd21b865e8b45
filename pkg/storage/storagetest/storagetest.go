// Package storagetest provides fixtures for tests that need a monitor store.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/types"
)

// NewBoltStore opens a BoltStore in a temporary directory that is removed
// when the test ends
func NewBoltStore(t testing.TB) *storage.BoltStore {
	t.Helper()
	s, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "tickr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Monitor returns an active hourly crontab monitor
func Monitor(id string, mods ...func(*types.Monitor)) *types.Monitor {
	m := &types.Monitor{
		ID:     id,
		Slug:   id,
		Name:   id,
		Status: types.MonitorStatusActive,
		Schedule: types.MonitorSchedule{
			Type:    types.ScheduleTypeCrontab,
			Crontab: "0 * * * *",
		},
	}
	for _, mod := range mods {
		mod(m)
	}
	return m
}

// Environment returns an active environment of monitorID
func Environment(id, monitorID string, mods ...func(*types.MonitorEnvironment)) *types.MonitorEnvironment {
	env := &types.MonitorEnvironment{
		ID:          id,
		MonitorID:   monitorID,
		Environment: "production",
		Status:      types.MonitorStatusActive,
	}
	for _, mod := range mods {
		mod(env)
	}
	return env
}

// Put stores monitors, environments, check-ins and incidents
func Put(t testing.TB, s storage.Store, records ...any) {
	t.Helper()
	err := s.Update(context.Background(), func(tx storage.Tx) error {
		for _, r := range records {
			var err error
			switch v := r.(type) {
			case *types.Monitor:
				err = tx.PutMonitor(v)
			case *types.MonitorEnvironment:
				err = tx.PutEnvironment(v)
			case *types.CheckIn:
				err = tx.PutCheckIn(v)
			case *types.MonitorIncident:
				err = tx.PutIncident(v)
			default:
				err = fmt.Errorf("unsupported record %T", r)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// GetCheckIn loads a check-in
func GetCheckIn(t testing.TB, s storage.Store, id string) *types.CheckIn {
	t.Helper()
	var c *types.CheckIn
	require.NoError(t, s.View(context.Background(), func(tx storage.Tx) error {
		var err error
		c, err = tx.GetCheckIn(id)
		return err
	}))
	return c
}

// GetEnvironment loads an environment
func GetEnvironment(t testing.TB, s storage.Store, id string) *types.MonitorEnvironment {
	t.Helper()
	var env *types.MonitorEnvironment
	require.NoError(t, s.View(context.Background(), func(tx storage.Tx) error {
		var err error
		env, err = tx.GetEnvironment(id)
		return err
	}))
	return env
}

// RecentCheckIns lists the most recent check-ins of an environment
func RecentCheckIns(t testing.TB, s storage.Store, envID string, limit int) []*types.CheckIn {
	t.Helper()
	var out []*types.CheckIn
	require.NoError(t, s.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.ListRecentCheckIns(envID, limit)
		return err
	}))
	return out
}

// Ptr returns a pointer to t
func Ptr(t time.Time) *time.Time {
	return &t
}
