/*
Package log provides structured logging for tickr using zerolog.

The package keeps a single global zerolog.Logger. Every component derives a
child logger from it that carries the identifiers relevant to that
component. Until Init is called the global logger discards all output,
which keeps library code and tests quiet.

# Architecture

	┌─────────────────────────── LOGGING ───────────────────────────┐
	│                                                                │
	│  cmd/tickr                                                     │
	│    --log-level flag / log.level in the config file            │
	│         │                                                      │
	│         ▼                                                      │
	│  log.Init(Config)                                              │
	│    level parsed by zerolog, unknown names fall back to info   │
	│    JSON to Output, or console writer for development          │
	│         │                                                      │
	│         ▼                                                      │
	│  log.Logger (global)                                           │
	│    │                                                           │
	│    ├── WithComponent("scheduler")                              │
	│    ├── WithTask("monitors:clock_pulse")                        │
	│    ├── WithMonitorEnvironment(id)                              │
	│    ├── WithCheckIn(id)                                         │
	│    └── WithPartition(topic, partition)                         │
	│                                                                │
	└────────────────────────────────────────────────────────────────┘

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Level is one of debug, info, warn or error. Anything zerolog cannot parse
logs at info. A nil Output writes to stdout; cmd/tickr passes stderr.

Console output (JSONOutput false) renders RFC3339 timestamps and key=value
fields and is meant for development.

# Context Loggers

Child loggers carry the identifiers that matter when reading scheduler and
monitor logs:

	log.WithComponent("scheduler")      component=scheduler
	log.WithTask("monitors:clock_pulse") task=monitors:clock_pulse
	log.WithMonitorEnvironment(id)      monitor_environment_id=...
	log.WithCheckIn(id)                 checkin_id=...
	log.WithPartition("clock-tasks", 3) topic=clock-tasks partition=3

The helpers return zerolog.Logger by value. zerolog's level methods have
pointer receivers, so bind the result before logging:

	logger := log.WithCheckIn(checkin.ID)
	logger.Info().Str("status", string(checkin.Status)).Msg("Marked check-in timed out")

Long-lived components keep their logger in a struct field:

	type Runner struct {
		logger zerolog.Logger
	}

	r.logger = log.WithComponent("scheduler")
	r.logger.Warn().Msg("No schedules registered")

# Levels

Debug is for per-message detail that is too noisy in production: every
clock tick dispatched, every ops request, an environment found no longer
overdue.

Info marks state changes an operator expects to see: a task dispatched, a
check-in marked missed or timed out, an incident opened or resolved, a
consumer started or stopped.

Warn is used for conditions the system recovers from on its own but an
operator may want to know about: a missed crontab beat, a last run in the
future, a scheduler with no registered schedules, a tick still pending
classification.

Error is used for failures that were caught and skipped, such as a dispatch
that could not be enqueued or a message whose handler failed.

Startup errors are returned to the command and printed by main.

# Log Output Examples

JSON:

	{"level":"info","component":"scheduler","task":"monitors:clock_pulse","next_runtime":"2024-05-06T10:01:00Z","activation_id":"6c1f...","time":"2024-05-06T10:00:00Z","message":"Task dispatched"}
	{"level":"warn","component":"schedule","schedule":"0 * * * *","last_run":"2024-05-06T08:00:00Z","missed":"2024-05-06T09:00:00Z","time":"2024-05-06T10:00:00Z","message":"missed scheduled interval"}

Console:

	2024-05-06T10:00:00Z INF Task dispatched component=scheduler task=monitors:clock_pulse

# Integration Points

Every package under pkg/ that does work in the background logs through this
package. Request logging of the ops server happens at debug level in
pkg/api.

# Troubleshooting

Nothing is logged:
  - Init was never called. Library code and tests log to a disabled
    logger by default.

Too much output:
  - Run with --log-level info. Per-tick and per-request lines are debug.

# See Also

  - https://github.com/rs/zerolog
*/
package log
