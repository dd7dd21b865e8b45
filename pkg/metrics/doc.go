/*
Package metrics provides Prometheus metrics and process health for tickr.

All metrics are package-level collectors registered with the default
Prometheus registry at init and exposed through Handler on /metrics. The
package also keeps the component health registry that the ops API serves on
/healthz, /readyz and /livez.

# Architecture

	┌──────────────────────────── METRICS ──────────────────────────┐
	│                                                                │
	│  Instrumented code                                             │
	│    scheduler   runstate   msglog.Runner   worker               │
	│    clock       clocktasks incidents       events    api        │
	│         │                                                      │
	│         ▼                                                      │
	│  package-level collectors (counters, gauges, histograms)      │
	│         │                                                      │
	│         ▼                                                      │
	│  prometheus default registry ──► Handler() ──► /metrics        │
	│                                                                │
	│  Collector (every 15s)                                         │
	│    StatsSource.CollectStats ──► monitor state gauges           │
	│                                                                │
	│  component registry                                            │
	│    RegisterComponent / UpdateComponent  (pkg/health)           │
	│    SetCriticalComponents                (cmd/tickr)            │
	│         │                                                      │
	│         ▼                                                      │
	│  GetHealth / GetReadiness ──► HealthHandler / ReadyHandler     │
	└────────────────────────────────────────────────────────────────┘

# Metric Families

Scheduling:

	tickr_schedule_entries                     gauge
	tickr_schedule_spawns_total                counter   task, result
	tickr_scheduler_tick_duration_seconds      histogram
	tickr_scheduler_sleep_seconds              gauge
	tickr_runstate_errors_total                counter   op

Message log and workers:

	tickr_messages_consumed_total              counter   topic, result
	tickr_message_processing_duration_seconds  histogram topic
	tickr_worker_activations_total             counter   task, result

Clock pipeline:

	tickr_clock_ticks_total                    counter   anomaly
	tickr_clock_tasks_dispatched_total         counter   type
	tickr_clock_tasks_processed_total          counter   type, result
	tickr_checkins_marked_total                counter   status
	tickr_incident_occurrences_total           counter   outcome

Monitor state, sampled by Collector:

	tickr_checkins_in_progress                 gauge
	tickr_monitor_environments_overdue         gauge
	tickr_incidents_active                     gauge

Ops:

	tickr_events_dropped_total                 counter
	tickr_api_requests_total                   counter   path, status
	tickr_api_request_duration_seconds         histogram path

# Label Values

	schedule spawns      claimed, lost, error
	worker activations   ok, error, timeout, unknown, invalid
	occurrences          notified, unknown, pending, lost, error
	clock ticks          normal, abnormal

An occurrence is counted as pending once, the first time its tick is not
yet classified, and again under its final outcome. A lost occurrence is one
whose tick decision disappeared and which was treated as normal.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MessageProcessingDuration, msg.Topic)

# Collector

The three monitor state gauges are sampled from any StatsSource. Both
check-in stores implement it:

	c := metrics.NewCollector(store, 15*time.Second)
	c.Start()
	defer c.Stop()

A failed collection is logged and leaves the gauges at their last value.

# Health

Components report their state with RegisterComponent and UpdateComponent.
GetHealth is unhealthy when any registered component is unhealthy and
lists the unhealthy ones in its message. GetReadiness only considers the
components named by SetCriticalComponents, and reports not_ready until each
of them is registered and healthy. Its message names the first one it is
waiting for.

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("redis", "storage")
	metrics.RegisterComponent("redis", true, "")
	metrics.UpdateComponent("redis", false, "connection refused")

	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

Health and readiness answer 503 when not healthy or not ready. Liveness
always answers 200.

# Alerting Rules

	groups:
	  - name: tickr
	    rules:
	      - alert: TickrSchedulerStalled
	        expr: rate(tickr_schedule_spawns_total{result="claimed"}[10m]) == 0
	        for: 10m

	      - alert: TickrClockStalled
	        expr: increase(tickr_clock_ticks_total[5m]) == 0
	        for: 5m

	      - alert: TickrSystemIncident
	        expr: increase(tickr_clock_ticks_total{anomaly="abnormal"}[5m]) > 0

	      - alert: TickrOccurrencesPending
	        expr: increase(tickr_incident_occurrences_total{outcome="pending"}[15m])
	              > increase(tickr_incident_occurrences_total{outcome=~"notified|unknown|lost"}[15m])
	        for: 15m

A stalled clock is the liveness failure the pipeline cannot heal on its
own: without pulses no partition advances and no tick is dispatched.

# See Also

  - pkg/health for the dependency checks feeding the registry
  - pkg/api for the endpoints
*/
package metrics
