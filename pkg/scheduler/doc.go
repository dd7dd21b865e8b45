/*
Package scheduler spawns recurring tasks across any number of active-active
scheduler replicas.

Each configured schedule becomes an Entry: a task reference, a Schedule and
a cached last run. The Runner keeps the entries in a min-heap keyed by
remaining seconds and drives the tick loop.

# Tick

	┌──────────────────────────────────────────────┐
	│ rebuild heap (keys are wall-clock derived)   │
	└──────────────────────┬───────────────────────┘
	                       ▼
	        ┌─────────── root due? ───────────┐
	        │ yes                          no │
	        ▼                                 ▼
	  pop, TrySpawn, push back       return root remaining
	  with fresh remaining           as the sleep hint
	        │
	        └──────────► repeat

An empty runner sleeps for the fallback duration and logs a warning. The
caller never sleeps less than MinSleep, because a one-second interval can
legitimately report zero.

# Claims

TrySpawn computes the next runtime, claims the period in the run-state
store and dispatches only when the claim is won:

	claimed  -> Dispatch, LastRun = now
	lost     -> LastRun = stored spawn time (or now if it expired), no dispatch
	error    -> logged and counted, the tick continues with the next entry

A claim followed by a failed or interrupted dispatch loses that beat; the
next period is claimable once the TTL runs out.

# Startup

Run seeds every entry from the store with one batched read before the first
tick, so a restarted replica does not treat every task as never run.
Cancellation is observed between ticks only; calls made during a tick are
detached from the caller's context and bounded by CallTimeout.
*/
package scheduler
