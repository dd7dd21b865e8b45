/*
Package events is an in-process pub/sub broker for monitor state changes.

Clock-task processing and the incident consumer publish what happened to a
monitor environment: a check-in was marked missed or timed out, an incident
opened or resolved, an occurrence was confirmed. Subscribers such as the ops
API event stream receive those events on buffered channels.

# Architecture

	┌──────────────────────── EVENT BROKER ─────────────────────────┐
	│                                                                │
	│  Publishers                                                    │
	│    monitor.Emitter      checkin.missed / timeout / unknown     │
	│                         incident.opened / resolved             │
	│    BrokerNotifier       incident.occurrence                    │
	│         │                                                      │
	│         ▼                                                      │
	│  Publish(ctx, event)                                           │
	│    fills ID (uuid) and Timestamp (UTC) when unset              │
	│         │                                                      │
	│         ▼                                                      │
	│  event queue (buffer: 100)                                     │
	│         │                                                      │
	│         ▼                                                      │
	│  distribution loop (one goroutine, started by Start)          │
	│         │                                                      │
	│    ┌────┴─────────────┬─────────────────┐                     │
	│    ▼                  ▼                 ▼                     │
	│  Subscriber         Subscriber        Subscriber              │
	│  (buffer: 50)       (buffer: 50)      (buffer: 50)            │
	│    /api/v1/events   /api/v1/events    tests                   │
	└────────────────────────────────────────────────────────────────┘

# Core Components

Broker:
  - Owns the subscriber set and the event queue
  - Start runs the distribution loop, Stop ends it and may be called twice
  - SubscriberCount reports the number of live subscribers

Event:
  - ID: unique identifier, generated on publish
  - Type: one of the EventType constants
  - Timestamp: publish time unless the publisher set one
  - MonitorEnvironmentID: the environment the event is about
  - Message: human readable summary
  - Metadata: string key-value pairs (incident_id, checkin_id, ...)

Events encode to JSON with snake_case keys. The ops API writes that
encoding as the data of each server-sent event.

Subscriber:
  - A buffered channel of *Event
  - Created by Subscribe, removed and closed by Unsubscribe

BrokerNotifier:
  - Implements incidents.Notifier
  - Turns a confirmed types.IncidentOccurrence into an incident.occurrence
    event carrying incident_id, failed_checkin_id, previous_checkin_ids and
    received_ts as metadata

# Event Types

	checkin.missed        no check-in arrived before next_checkin_latest
	checkin.timeout       an in-progress check-in exceeded max runtime
	checkin.unknown       a check-in was written off during a system incident
	incident.opened       the failure threshold of an environment was reached
	incident.resolved     the recovery threshold was reached
	incident.occurrence   an occurrence passed the system incident check

# Delivery Semantics

Publish blocks while the event queue is full. It returns without queuing
when the broker is stopped or ctx is done, so publishers never hang on a
broker that is shutting down.

The distribution loop never blocks on a subscriber. When a subscriber's
buffer is full the event is skipped for that subscriber and counted in
tickr_events_dropped_total. Other subscribers still receive it.

Events are not persisted. A subscriber only sees events published after it
subscribed, and the monitor state in pkg/storage remains the source of
truth. Consumers that need every transition read the incident occurrence
topic instead.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventIncidentOpened:
				page(ev.MonitorEnvironmentID, ev.Message)
			case events.EventCheckInMissed, events.EventCheckInTimeout:
				record(ev)
			}
		}
	}()

	broker.Publish(ctx, &events.Event{
		Type:                 events.EventCheckInMissed,
		MonitorEnvironmentID: env.ID,
		Message:              "no check-in received",
	})

Wiring the incident consumer:

	notifier := events.NewBrokerNotifier(broker)
	oc := incidents.NewOccurrenceConsumer(detector, notifier, store, emitter, cfg)

# Integration Points

  - pkg/monitor: Emitter publishes check-in and incident transitions
  - pkg/incidents: OccurrenceConsumer notifies through BrokerNotifier
  - pkg/api: /api/v1/events streams events with an optional type filter
  - pkg/metrics: tickr_events_dropped_total

# Troubleshooting

Stream clients miss events:
  - Check tickr_events_dropped_total. A growing value means a subscriber
    reads slower than events are published.
  - Filter the stream with ?type= so fewer events reach the client buffer.

No events at all:
  - Events are per process. The stream only shows events published by the
    process serving it, so connect to the clock-tasks or incidents process
    (or a standalone process).

# See Also

  - pkg/monitor for the transitions that produce events
  - pkg/api for the event stream endpoint
*/
package events
