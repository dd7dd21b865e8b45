/*
Package clock derives the monitor clock from the ingest stream.

Wall-clock time is not used to decide that a check-in was missed. Instead,
every message on the ingest topic carries a timestamp, and each partition's
progress is recorded in a PartitionClock. A minute is ticked only once the
slowest partition has moved past it, so consumer lag delays the sweeps
rather than producing false missed check-ins.

	ingest topic ──► IngestConsumer ──► Dispatcher.TryTick ──► clock tick topic
	                     │                                         │
	                     └─► monitor.Ingester                      ▼
	                                                   TickConsumer ──► clocktasks

The scheduler runs the monitors:clock_pulse task every minute. Pulse
produces a clock_pulse message to every ingest partition so that the clock
keeps moving when no check-ins arrive.

Each tick is evaluated by the volume tracker before it is produced, and the
tick carries the resulting anomaly decision. Minutes skipped between two
dispatches, for example after an outage, are all dispatched in order.
*/
package clock
