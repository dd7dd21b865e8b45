package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/types"
)

var (
	// Bucket names
	bucketMonitors     = []byte("monitors")
	bucketEnvironments = []byte("monitor_environments")
	bucketCheckIns     = []byte("checkins")
	bucketIncidents    = []byte("incidents")
)

// BoltStore implements Store using BoltDB. Bolt allows a single writer, so
// Update transactions are fully serialized.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMonitors,
			bucketEnvironments,
			bucketCheckIns,
			bucketIncidents,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database file is still open and readable
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.View(ctx, func(Tx) error { return nil })
}

func (s *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// CollectStats counts in-progress check-ins, overdue environments and
// active incidents for the metrics collector
func (s *BoltStore) CollectStats(ctx context.Context, now time.Time) (metrics.Stats, error) {
	var stats metrics.Stats
	err := s.View(ctx, func(t Tx) error {
		btx := t.(*boltTx)
		if err := forEach(btx.tx.Bucket(bucketCheckIns), func(c *types.CheckIn) {
			if c.Status == types.CheckInInProgress {
				stats.CheckInsInProgress++
			}
		}); err != nil {
			return err
		}
		if err := forEach(btx.tx.Bucket(bucketEnvironments), func(env *types.MonitorEnvironment) {
			if isOverdue(env, now) {
				stats.EnvironmentsOverdue++
			}
		}); err != nil {
			return err
		}
		return forEach(btx.tx.Bucket(bucketIncidents), func(inc *types.MonitorIncident) {
			if inc.IsActive() {
				stats.IncidentsActive++
			}
		})
	})
	return stats, err
}

type boltTx struct {
	tx *bolt.Tx
}

func put(b *bolt.Bucket, id string, v any) error {
	if id == "" {
		return fmt.Errorf("record id is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func get[T any](b *bolt.Bucket, kind, id string) (*T, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return &v, nil
}

func forEach[T any](b *bolt.Bucket, fn func(*T)) error {
	return b.ForEach(func(k, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", k, err)
		}
		fn(&v)
		return nil
	})
}

func truncate[T any](items []*T, limit int) []*T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func isOverdue(env *types.MonitorEnvironment, ts time.Time) bool {
	return env.Status != types.MonitorStatusDisabled &&
		env.NextCheckinLatest != nil &&
		!env.NextCheckinLatest.After(ts)
}

// Monitor operations
func (t *boltTx) GetMonitor(id string) (*types.Monitor, error) {
	return get[types.Monitor](t.tx.Bucket(bucketMonitors), "monitor", id)
}

func (t *boltTx) PutMonitor(m *types.Monitor) error {
	return put(t.tx.Bucket(bucketMonitors), m.ID, m)
}

// Environment operations
func (t *boltTx) GetEnvironment(id string) (*types.MonitorEnvironment, error) {
	return get[types.MonitorEnvironment](t.tx.Bucket(bucketEnvironments), "monitor environment", id)
}

func (t *boltTx) PutEnvironment(env *types.MonitorEnvironment) error {
	return put(t.tx.Bucket(bucketEnvironments), env.ID, env)
}

func (t *boltTx) ListOverdueEnvironments(ts time.Time, limit int) ([]*types.MonitorEnvironment, error) {
	var envs []*types.MonitorEnvironment
	err := forEach(t.tx.Bucket(bucketEnvironments), func(env *types.MonitorEnvironment) {
		if isOverdue(env, ts) {
			envs = append(envs, env)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(envs, func(i, j int) bool {
		return envs[i].NextCheckinLatest.Before(*envs[j].NextCheckinLatest)
	})
	return truncate(envs, limit), nil
}

// Check-in operations
func (t *boltTx) GetCheckIn(id string) (*types.CheckIn, error) {
	return get[types.CheckIn](t.tx.Bucket(bucketCheckIns), "check-in", id)
}

func (t *boltTx) PutCheckIn(c *types.CheckIn) error {
	return put(t.tx.Bucket(bucketCheckIns), c.ID, c)
}

func (t *boltTx) ListTimedOutCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error) {
	var out []*types.CheckIn
	err := forEach(t.tx.Bucket(bucketCheckIns), func(c *types.CheckIn) {
		if c.Status == types.CheckInInProgress && c.TimeoutAt != nil && !c.TimeoutAt.After(ts) {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutAt.Before(*out[j].TimeoutAt) })
	return truncate(out, limit), nil
}

func (t *boltTx) ListInProgressCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error) {
	var out []*types.CheckIn
	err := forEach(t.tx.Bucket(bucketCheckIns), func(c *types.CheckIn) {
		if c.Status == types.CheckInInProgress && !c.DateAdded.After(ts) {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateAdded.Before(out[j].DateAdded) })
	return truncate(out, limit), nil
}

func (t *boltTx) ListRecentCheckIns(envID string, limit int) ([]*types.CheckIn, error) {
	var out []*types.CheckIn
	err := forEach(t.tx.Bucket(bucketCheckIns), func(c *types.CheckIn) {
		if c.MonitorEnvironmentID == envID {
			out = append(out, c)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].DateAdded.After(out[j].DateAdded)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// Incident operations
func (t *boltTx) GetIncident(id string) (*types.MonitorIncident, error) {
	return get[types.MonitorIncident](t.tx.Bucket(bucketIncidents), "incident", id)
}

func (t *boltTx) PutIncident(inc *types.MonitorIncident) error {
	return put(t.tx.Bucket(bucketIncidents), inc.ID, inc)
}

func (t *boltTx) ActiveIncident(envID string) (*types.MonitorIncident, error) {
	var active *types.MonitorIncident
	err := forEach(t.tx.Bucket(bucketIncidents), func(inc *types.MonitorIncident) {
		if inc.MonitorEnvironmentID != envID || !inc.IsActive() {
			return
		}
		if active == nil || inc.StartingTimestamp.After(active.StartingTimestamp) {
			active = inc
		}
	})
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("active incident for %s: %w", envID, ErrNotFound)
	}
	return active, nil
}
