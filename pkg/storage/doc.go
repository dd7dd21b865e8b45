/*
Package storage persists monitor state: monitors, their per-environment
status, check-ins and incidents.

The clock pipeline reconciles this state once a minute, and ingestion
updates it on every reported check-in. Several consumers do this in
parallel, so every change goes through a transaction and the store
serializes writers per record.

# Architecture

	┌──────────────────────────── STORAGE ──────────────────────────┐
	│                                                                │
	│  Callers                                                       │
	│    monitor.Ingester        clocktasks.Dispatcher (View)        │
	│    clocktasks.Processor    incidents.OccurrenceConsumer        │
	│         │                                                      │
	│         ▼                                                      │
	│  Store                                                         │
	│    View(ctx, fn(Tx))      read-only snapshot                   │
	│    Update(ctx, fn(Tx))    read-write, rolled back on error     │
	│         │                                                      │
	│    ┌────┴──────────────────────┐                              │
	│    ▼                           ▼                              │
	│  BoltStore                   PostgresStore                    │
	│    one bbolt file              pgx pool                       │
	│    bucket per record kind      table per record kind          │
	│    JSON values keyed by ID     typed columns, partial indexes │
	│    single writer               FOR UPDATE reads in Update     │
	└────────────────────────────────────────────────────────────────┘

# Record Kinds

	bolt bucket / table      record
	monitors                 types.Monitor
	monitor_environments     types.MonitorEnvironment
	checkins                 types.CheckIn
	incidents                types.MonitorIncident (table monitor_incidents)

# Core Components

Store:
  - View and Update run fn in a transaction and return its error
  - Close releases the file or the pool

Tx:
  - Get and Put per record kind; Put is an upsert
  - ListOverdueEnvironments: environments whose next_checkin_latest is at
    or before ts, oldest first, disabled ones skipped
  - ListTimedOutCheckIns: in-progress check-ins whose timeout_at is at or
    before ts
  - ListInProgressCheckIns: in-progress check-ins started at or before ts
  - ListRecentCheckIns: newest check-ins of one environment
  - ActiveIncident: the unresolved incident of an environment

Every list takes a limit. Sweeps pick up the remainder on the next clock
tick, so no single tick does unbounded work.

Missing records return an error wrapping ErrNotFound. ActiveIncident
returns it too when the environment has no open incident.

# Backends

BoltStore:
  - The default for single-node deployments and tests
  - Update transactions are serialized by bolt's single writer
  - List queries scan their bucket and sort in memory, which is fine for
    the tens of thousands of records a single node holds

PostgresStore:
  - NewPostgresStore opens a pgxpool and runs EnsureSchema, which only
    creates what is missing
  - Reads inside Update use SELECT ... FOR UPDATE, so two clock-task
    consumers never apply transitions to the same check-in at once
  - Indexes: next_checkin_latest of environments, (monitor_environment_id,
    date_added DESC) of check-ins, timeout_at of in-progress check-ins and
    the environment of unresolved incidents

Both stores implement metrics.StatsSource and health.Pinger.

# Usage

	store, err := storage.NewBoltStore("/var/lib/tickr/tickr.db")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Update(ctx, func(tx storage.Tx) error {
		checkin, err := tx.GetCheckIn(id)
		if err != nil {
			return err
		}
		if checkin.Status != types.CheckInInProgress {
			return nil
		}
		checkin.Status = types.CheckInTimeout
		return tx.PutCheckIn(checkin)
	})

Sweeping overdue environments:

	var overdue []*types.MonitorEnvironment
	err = store.View(ctx, func(tx storage.Tx) error {
		var err error
		overdue, err = tx.ListOverdueEnvironments(tick, 10000)
		return err
	})

Postgres:

	pg, err := storage.NewPostgresStore(ctx, "postgres://tickr@db/tickr")

# Testing

storagetest holds helpers shared by the package tests of monitor,
clocktasks and incidents. NewBoltStore opens a store in t.TempDir, Monitor
and Environment build records, and Put and the Get helpers fail the test
on error:

	store := storagetest.NewBoltStore(t)
	storagetest.Put(t, store,
		storagetest.Monitor("m1"),
		storagetest.Environment("env-1", "m1"))

# Troubleshooting

"timeout" opening the bolt file:
  - Another process holds the file lock and NewBoltStore gave up after
    five seconds. Only one tickr process may open a bolt file, so
    deployments that split roles across processes need Postgres.

Update returns serialization or deadlock errors on Postgres:
  - The transaction is rolled back and the error is returned. The message
    log runner commits the failed message and the next sweep reissues the
    transition.

# See Also

  - pkg/monitor for the transitions applied inside Update
  - pkg/clocktasks for the bounded sweeps
*/
package storage
