/*
Package runstate tracks when each scheduled task was last spawned.

Scheduler replicas run the same configuration side by side with no leader.
The run-state record is their only synchronization point: claiming a run is
an atomic set-if-absent with a TTL that ends at the task's next runtime.

	SET {prefix}:{namespace:task} <now RFC3339> NX EX max(1, next-now)

The replica whose SET creates the key dispatches the task. Every other
replica gets false and resynchronizes its local last-run from the stored
value. When the TTL elapses the next period is open to any replica again.

Replicas whose clocks disagree by more than the TTL granularity can both
claim overlapping periods. Downstream task execution is expected to be
idempotent.
*/
package runstate
