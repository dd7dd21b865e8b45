/*
Package incidents detects system incidents: windows where check-in volume
drops so sharply that missing check-ins are more likely lost upstream than
caused by failing jobs.

Every ingested check-in is counted per minute (VolumeTracker.RecordVolume).
When the clock dispatches a tick, the tick is evaluated against the trailing
window and the decision is stored. Detector.Classify returns that decision,
or DecisionPending while the tick has not been evaluated yet.

OccurrenceConsumer sits between failure detection and notification. Each
incident occurrence waits for the classification of its tick:

	normal    the occurrence is passed to the Notifier
	abnormal  the failed check-ins are marked unknown and nothing is notified
	pending   the consumer backs off and asks again, blocking its partition

VolumeDetector keeps counters and decisions in Redis so that all ingest
consumers share them. StaticDetector serves tests and single-node setups
without volume tracking.
*/
package incidents
