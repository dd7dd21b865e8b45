/*
Package health checks the external dependencies of a tickr process.

Every tickr role depends on something outside the process: Redis holds the
run-state claims, the message log streams and the partition clock, and the
check-in store holds monitor state. This package checks those dependencies
on an interval and feeds the outcome into the metrics health registry that
backs /healthz and /readyz.

# Architecture

	┌──────────────────────── HEALTH MONITOR ───────────────────────┐
	│                                                                │
	│  Monitor.Run(ctx)                                              │
	│    ticker (Config.Interval, default 15s)                       │
	│         │                                                      │
	│         ▼                                                      │
	│  CheckAll: checks sorted by name                               │
	│    ┌───────────────┬──────────────────┬──────────────────┐    │
	│    ▼               ▼                  ▼                  │    │
	│  RedisChecker   DatabaseChecker    HTTPChecker           │    │
	│  PING           store.Ping         GET url               │    │
	│    │               │                  │                  │    │
	│    └───────┬───────┴──────────────────┘                  │    │
	│            ▼                                              │    │
	│  Result{Healthy, Message, CheckedAt, Duration}           │    │
	│            │   (each check bounded by Config.Timeout)    │    │
	│            ▼                                              │    │
	│  Status.Update(result, config)                           │    │
	│    consecutive failures / successes                      │    │
	│            │                                              │    │
	│            ▼                                              │    │
	│  metrics.UpdateComponent(name, healthy, message)         │    │
	│            │                                              │    │
	│            ▼                                              │    │
	│  /healthz  /readyz  (pkg/api)                            │    │
	└────────────────────────────────────────────────────────────────┘

# Check Types

Redis (CheckTypeRedis):
  - Sends PING through any redis.Cmdable
  - Healthy when the server answers; the message is the reply ("PONG")

Database (CheckTypeDatabase):
  - Calls Ping on anything implementing Pinger
  - Both storage.BoltStore and storage.PostgresStore implement it. Bolt
    opens a read transaction. Postgres pings a pooled connection.

HTTP (CheckTypeHTTP):
  - GET against a URL, typically /readyz of another tickr process
  - Healthy for 2xx and 3xx by default; WithStatusRange narrows it
  - The client timeout defaults to 10 seconds; WithTimeout overrides it
  - The response body is drained and discarded

# Status Transitions

A Status starts healthy. One successful check makes it healthy again and
resets the failure count. Failed checks only flip it to unhealthy once
Config.Retries of them happened in a row:

	Retries = 3

	check:    ok   fail  fail  fail  fail  ok
	failures: 0    1     2     3     4     0
	healthy:  yes  yes   yes   no    no    yes

Short Redis failovers therefore do not mark a process unready, while a
dependency that stays down does.

# Usage

	mon := health.NewMonitor(health.Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	})
	mon.Add("redis", health.NewRedisChecker(rdb))
	mon.Add("storage", health.NewDatabaseChecker(store))
	mon.Add("scheduler", health.NewHTTPChecker("http://scheduler:9090/readyz").
		WithTimeout(2*time.Second))

	go mon.Run(ctx)

	if st, ok := mon.Status("redis"); ok && !st.Healthy {
		logger.Warn().Str("last", st.LastResult.Message).Msg("Redis unavailable")
	}

Zero fields of Config fall back to DefaultConfig. Add registers the
component with the metrics registry right away, as healthy, so readiness
does not wait for the first check.

Running a single round, for example from a test:

	mon.CheckAll(ctx)

# Integration Points

  - cmd/tickr: registers Redis and the check-in store as critical
    components of every role that uses them
  - pkg/metrics: RegisterComponent and UpdateComponent back the health
    and readiness handlers
  - pkg/api: serves the resulting state on /healthz and /readyz

# Logging

A component turning unhealthy logs at error level with the check type and
the last message, and recovery logs at info level. Every other failed check
logs at warn level with the current failure count.

# Troubleshooting

/readyz reports "waiting for redis":
  - The Redis check failed Retries times in a row. Check redis.url and
    network reachability from the process.

Database check times out:
  - A bolt file is locked by another process, or the Postgres pool is
    exhausted. Config.Timeout bounds each check, so the monitor itself
    keeps running.

# See Also

  - pkg/metrics for the component registry
  - pkg/api for the ops endpoints
*/
package health
