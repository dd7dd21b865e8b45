package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. Update transactions lock the
// rows they read with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and creates the
// schema if needed
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the monitor tables and indexes
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS monitors (
            id TEXT PRIMARY KEY,
            slug TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            schedule JSONB NOT NULL,
            checkin_margin INT NOT NULL DEFAULT 0,
            max_runtime INT NOT NULL DEFAULT 0,
            failure_issue_threshold INT NOT NULL DEFAULT 0,
            recovery_threshold INT NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            is_muted BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS monitor_environments (
            id TEXT PRIMARY KEY,
            monitor_id TEXT NOT NULL,
            environment TEXT NOT NULL,
            status TEXT NOT NULL,
            is_muted BOOLEAN NOT NULL DEFAULT FALSE,
            last_checkin TIMESTAMPTZ,
            next_checkin TIMESTAMPTZ,
            next_checkin_latest TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_environments_next_latest ON monitor_environments(next_checkin_latest);`,
		`CREATE TABLE IF NOT EXISTS checkins (
            id TEXT PRIMARY KEY,
            monitor_id TEXT NOT NULL,
            monitor_environment_id TEXT NOT NULL,
            status TEXT NOT NULL,
            date_added TIMESTAMPTZ NOT NULL,
            date_updated TIMESTAMPTZ NOT NULL,
            expected_time TIMESTAMPTZ,
            timeout_at TIMESTAMPTZ,
            trace_id TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_env_added ON checkins(monitor_environment_id, date_added DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_in_progress ON checkins(timeout_at) WHERE status = 'in_progress';`,
		`CREATE TABLE IF NOT EXISTS monitor_incidents (
            id TEXT PRIMARY KEY,
            monitor_id TEXT NOT NULL,
            monitor_environment_id TEXT NOT NULL,
            starting_checkin_id TEXT NOT NULL,
            starting_timestamp TIMESTAMPTZ NOT NULL,
            resolving_checkin_id TEXT NOT NULL DEFAULT '',
            resolving_timestamp TIMESTAMPTZ,
            grouphash TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_incidents_active ON monitor_incidents(monitor_environment_id) WHERE resolving_checkin_id = '';`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database answers
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, writable bool, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{ctx: ctx, tx: tx, writable: writable}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CollectStats counts in-progress check-ins, overdue environments and
// active incidents for the metrics collector
func (s *PostgresStore) CollectStats(ctx context.Context, now time.Time) (metrics.Stats, error) {
	var stats metrics.Stats
	err := s.pool.QueryRow(ctx, `
        SELECT
            (SELECT COUNT(*) FROM checkins WHERE status = 'in_progress'),
            (SELECT COUNT(*) FROM monitor_environments WHERE status <> 'disabled' AND next_checkin_latest <= $1),
            (SELECT COUNT(*) FROM monitor_incidents WHERE resolving_checkin_id = '')
    `, now).Scan(&stats.CheckInsInProgress, &stats.EnvironmentsOverdue, &stats.IncidentsActive)
	if err != nil {
		return stats, fmt.Errorf("failed to collect stats: %w", err)
	}
	return stats, nil
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) lockClause() string {
	if t.writable {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

// Monitor operations

const monitorColumns = `id, slug, name, schedule, checkin_margin, max_runtime,
    failure_issue_threshold, recovery_threshold, status, is_muted, created_at`

func (t *pgTx) GetMonitor(id string) (*types.Monitor, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id=$1`+t.lockClause(), id)
	var m types.Monitor
	var sched []byte
	if err := row.Scan(&m.ID, &m.Slug, &m.Name, &sched, &m.CheckinMargin, &m.MaxRuntime,
		&m.FailureIssueThreshold, &m.RecoveryThreshold, &m.Status, &m.IsMuted, &m.CreatedAt); err != nil {
		return nil, notFound(err, "monitor", id)
	}
	if err := json.Unmarshal(sched, &m.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule of monitor %s: %w", id, err)
	}
	return &m, nil
}

func (t *pgTx) PutMonitor(m *types.Monitor) error {
	sched, err := json.Marshal(m.Schedule)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
        INSERT INTO monitors (`+monitorColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            slug=EXCLUDED.slug, name=EXCLUDED.name, schedule=EXCLUDED.schedule,
            checkin_margin=EXCLUDED.checkin_margin, max_runtime=EXCLUDED.max_runtime,
            failure_issue_threshold=EXCLUDED.failure_issue_threshold,
            recovery_threshold=EXCLUDED.recovery_threshold,
            status=EXCLUDED.status, is_muted=EXCLUDED.is_muted
    `, m.ID, m.Slug, m.Name, sched, m.CheckinMargin, m.MaxRuntime,
		m.FailureIssueThreshold, m.RecoveryThreshold, m.Status, m.IsMuted, m.CreatedAt)
	return err
}

// Environment operations

const environmentColumns = `id, monitor_id, environment, status, is_muted,
    last_checkin, next_checkin, next_checkin_latest`

func scanEnvironment(row pgx.Row) (*types.MonitorEnvironment, error) {
	var env types.MonitorEnvironment
	err := row.Scan(&env.ID, &env.MonitorID, &env.Environment, &env.Status, &env.IsMuted,
		&env.LastCheckin, &env.NextCheckin, &env.NextCheckinLatest)
	return &env, err
}

func (t *pgTx) GetEnvironment(id string) (*types.MonitorEnvironment, error) {
	env, err := scanEnvironment(t.tx.QueryRow(t.ctx,
		`SELECT `+environmentColumns+` FROM monitor_environments WHERE id=$1`+t.lockClause(), id))
	if err != nil {
		return nil, notFound(err, "monitor environment", id)
	}
	return env, nil
}

func (t *pgTx) PutEnvironment(env *types.MonitorEnvironment) error {
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO monitor_environments (`+environmentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            status=EXCLUDED.status, is_muted=EXCLUDED.is_muted,
            last_checkin=EXCLUDED.last_checkin, next_checkin=EXCLUDED.next_checkin,
            next_checkin_latest=EXCLUDED.next_checkin_latest
    `, env.ID, env.MonitorID, env.Environment, env.Status, env.IsMuted,
		env.LastCheckin, env.NextCheckin, env.NextCheckinLatest)
	return err
}

func (t *pgTx) ListOverdueEnvironments(ts time.Time, limit int) ([]*types.MonitorEnvironment, error) {
	rows, err := t.tx.Query(t.ctx, `
        SELECT `+environmentColumns+` FROM monitor_environments
        WHERE status <> 'disabled' AND next_checkin_latest <= $1
        ORDER BY next_checkin_latest
        LIMIT $2
    `, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue environments: %w", err)
	}
	defer rows.Close()

	var out []*types.MonitorEnvironment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// Check-in operations

const checkInColumns = `id, monitor_id, monitor_environment_id, status, date_added,
    date_updated, expected_time, timeout_at, trace_id`

func scanCheckIn(row pgx.Row) (*types.CheckIn, error) {
	var c types.CheckIn
	err := row.Scan(&c.ID, &c.MonitorID, &c.MonitorEnvironmentID, &c.Status, &c.DateAdded,
		&c.DateUpdated, &c.ExpectedTime, &c.TimeoutAt, &c.TraceID)
	return &c, err
}

func (t *pgTx) queryCheckIns(query string, args ...any) ([]*types.CheckIn, error) {
	rows, err := t.tx.Query(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []*types.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) GetCheckIn(id string) (*types.CheckIn, error) {
	c, err := scanCheckIn(t.tx.QueryRow(t.ctx,
		`SELECT `+checkInColumns+` FROM checkins WHERE id=$1`+t.lockClause(), id))
	if err != nil {
		return nil, notFound(err, "check-in", id)
	}
	return c, nil
}

func (t *pgTx) PutCheckIn(c *types.CheckIn) error {
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO checkins (`+checkInColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            status=EXCLUDED.status, date_updated=EXCLUDED.date_updated,
            expected_time=EXCLUDED.expected_time, timeout_at=EXCLUDED.timeout_at,
            trace_id=EXCLUDED.trace_id
    `, c.ID, c.MonitorID, c.MonitorEnvironmentID, c.Status, c.DateAdded,
		c.DateUpdated, c.ExpectedTime, c.TimeoutAt, c.TraceID)
	return err
}

func (t *pgTx) ListTimedOutCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error) {
	return t.queryCheckIns(`
        SELECT `+checkInColumns+` FROM checkins
        WHERE status = 'in_progress' AND timeout_at <= $1
        ORDER BY timeout_at
        LIMIT $2
    `, ts, limit)
}

func (t *pgTx) ListInProgressCheckIns(ts time.Time, limit int) ([]*types.CheckIn, error) {
	return t.queryCheckIns(`
        SELECT `+checkInColumns+` FROM checkins
        WHERE status = 'in_progress' AND date_added <= $1
        ORDER BY date_added
        LIMIT $2
    `, ts, limit)
}

func (t *pgTx) ListRecentCheckIns(envID string, limit int) ([]*types.CheckIn, error) {
	return t.queryCheckIns(`
        SELECT `+checkInColumns+` FROM checkins
        WHERE monitor_environment_id = $1
        ORDER BY date_added DESC, id DESC
        LIMIT $2
    `, envID, limit)
}

// Incident operations

const incidentColumns = `id, monitor_id, monitor_environment_id, starting_checkin_id,
    starting_timestamp, resolving_checkin_id, resolving_timestamp, grouphash`

func scanIncident(row pgx.Row) (*types.MonitorIncident, error) {
	var inc types.MonitorIncident
	err := row.Scan(&inc.ID, &inc.MonitorID, &inc.MonitorEnvironmentID, &inc.StartingCheckInID,
		&inc.StartingTimestamp, &inc.ResolvingCheckInID, &inc.ResolvingTimestamp, &inc.GroupHash)
	return &inc, err
}

func (t *pgTx) GetIncident(id string) (*types.MonitorIncident, error) {
	inc, err := scanIncident(t.tx.QueryRow(t.ctx,
		`SELECT `+incidentColumns+` FROM monitor_incidents WHERE id=$1`+t.lockClause(), id))
	if err != nil {
		return nil, notFound(err, "incident", id)
	}
	return inc, nil
}

func (t *pgTx) PutIncident(inc *types.MonitorIncident) error {
	_, err := t.tx.Exec(t.ctx, `
        INSERT INTO monitor_incidents (`+incidentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            resolving_checkin_id=EXCLUDED.resolving_checkin_id,
            resolving_timestamp=EXCLUDED.resolving_timestamp,
            grouphash=EXCLUDED.grouphash
    `, inc.ID, inc.MonitorID, inc.MonitorEnvironmentID, inc.StartingCheckInID,
		inc.StartingTimestamp, inc.ResolvingCheckInID, inc.ResolvingTimestamp, inc.GroupHash)
	return err
}

func (t *pgTx) ActiveIncident(envID string) (*types.MonitorIncident, error) {
	inc, err := scanIncident(t.tx.QueryRow(t.ctx, `
        SELECT `+incidentColumns+` FROM monitor_incidents
        WHERE monitor_environment_id = $1 AND resolving_checkin_id = ''
        ORDER BY starting_timestamp DESC
        LIMIT 1`+t.lockClause(), envID))
	if err != nil {
		return nil, notFound(err, "active incident for", envID)
	}
	return inc, nil
}
