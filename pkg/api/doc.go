/*
Package api serves the HTTP ops endpoints of a tickr process.

Every process (scheduler, worker, clock, clock-tasks, incidents or
standalone) runs one ops server on http.addr. The server is built on gin
and carries no business endpoints: scheduling state lives in Redis and the
check-in store, and tasks are driven through the message log. What the
server offers is what an orchestrator and an operator need to see.

# Architecture

	┌────────────────────────── OPS SERVER ─────────────────────────┐
	│                                                                │
	│  gin.Engine (release mode)                                     │
	│    middleware: gin.Recovery, observe                           │
	│         │                                                      │
	│    ┌────┴──────────┬──────────────┬──────────────┐            │
	│    ▼               ▼              ▼              ▼            │
	│  /livez         /healthz       /readyz        /metrics        │
	│  process up     all healthy    critical       Prometheus      │
	│                                ready          exposition      │
	│    │               │              │              │            │
	│    └───────────────┴──────┬───────┘              │            │
	│                           ▼                      ▼            │
	│             metrics health registry    default registry      │
	│             (fed by pkg/health)                               │
	│                                                                │
	│  /api/v1/events   server-sent events from an events.Broker    │
	└────────────────────────────────────────────────────────────────┘

# Endpoints

	GET /livez           200 while the process runs
	GET /healthz         200 when every registered component is healthy,
	                     503 otherwise
	GET /readyz          200 when every critical component is registered
	                     and healthy, 503 otherwise
	GET /metrics         Prometheus text format
	GET /api/v1/events   text/event-stream of monitor events, only when
	                     Config.Broker is set

Health responses are JSON:

	{
	  "status": "not_ready",
	  "message": "waiting for redis",
	  "components": {
	    "redis": "not ready: dial tcp 10.0.0.5:6379: connect: connection refused",
	    "storage": "ready"
	  },
	  "version": "v0.3.0"
	}

# Event Stream

Each subscriber gets its own events.Subscriber. Events are written as
server-sent events whose event name is the event type and whose data is
the JSON encoded events.Event. Repeated type parameters filter the stream:

	curl -N 'localhost:9090/api/v1/events?type=incident.opened&type=incident.resolved'

	event:incident.opened
	data:{"id":"...","type":"incident.opened","timestamp":"...","monitor_environment_id":"env-1"}

The subscription ends when the client disconnects or the server shuts down.
A client that reads too slowly loses events; see pkg/events.

# Request Metrics

The observe middleware counts every request in tickr_api_requests_total by
route template and status code. Requests that match no route are labelled
"unmatched" so scanners cannot blow up label cardinality. Latency goes to
tickr_api_request_duration_seconds. The event stream is counted but not
timed, since its duration is the length of the subscription.

# Usage

	srv := api.NewServer(api.Config{
		Addr:   ":9090",
		Broker: broker,
	})
	if err := srv.Run(ctx); err != nil {
		return err
	}

Run listens on Config.Addr. Serve takes an existing listener, which tests
use with 127.0.0.1:0:

	lis, _ := net.Listen("tcp", "127.0.0.1:0")
	go srv.Serve(ctx, lis)

Both return when ctx is cancelled, after a graceful shutdown that waits up
to five seconds for in-flight requests. Handler exposes the engine for
httptest.

# Integration Points

  - pkg/metrics: health, readiness and liveness handlers and the
    Prometheus handler
  - pkg/health: keeps component state current
  - pkg/events: source of the event stream
  - cmd/tickr: starts one server per process next to the roles

# Troubleshooting

/readyz stays 503 after start:
  - The message names the first critical component that is missing or
    unhealthy. Critical components are set per role by cmd/tickr.

/api/v1/events returns 404:
  - The server was started without a broker, so the route is not
    registered.

# See Also

  - pkg/metrics for metric names and the health registry
  - pkg/events for event types and delivery
*/
package api
