/*
Package worker executes task activations produced by the scheduler.

A worker consumes the topic of a single registry namespace. Each message is
a JSON encoded types.TaskActivation; the worker resolves the target task in
the registry and runs its handler under the activation's processing
deadline, falling back to the deadline the task was registered with.

# Architecture

	┌──────────────────────────── WORKER ───────────────────────────┐
	│                                                                │
	│  namespace topic (e.g. taskworker-monitors)                   │
	│         │                                                      │
	│         ▼                                                      │
	│  msglog.Runner "worker-<namespace>"                            │
	│    poll batch, partitions in parallel, in order within one    │
	│         │                                                      │
	│         ▼                                                      │
	│  Worker.Handle(msg)                                            │
	│    1. decode TaskActivation           invalid ──► counted     │
	│    2. registry.Lookup(ref)            unknown ──► dropped     │
	│    3. context.WithTimeout(deadline)                           │
	│    4. execute handler, recover panic                           │
	│    5. count result, log failures                               │
	│         │                                                      │
	│         ▼                                                      │
	│  message committed                                             │
	└────────────────────────────────────────────────────────────────┘

# Deadlines

The deadline of one execution is, in order of precedence:

	TaskActivation.ProcessingDeadline   seconds, set by the producer
	Task.ProcessingDeadline             registry.WithProcessingDeadline
	10s                                 registry default

The handler gets a context that expires at the deadline. Handlers that
ignore it keep running and the worker waits for them. An execution counts
as timed out only when it returned an error after the deadline passed.

# Results

Every message is counted in tickr_worker_activations_total:

	ok        handler returned nil
	error     handler returned an error or panicked
	timeout   the deadline expired
	unknown   no task of that name in the registry
	invalid   the message is not a TaskActivation

Failures never stop the partition. Unknown tasks are logged at warn level
and dropped, so a worker running an older build skips tasks it does not
have yet. Handler failures are logged at error level with the elapsed
time. Only an invalid message is returned to the runner as an error, which
logs it and commits it like any other.

At-least-once delivery comes from the message log. A handler interrupted by
a crash runs again when the partition is redelivered, so handlers must
tolerate repeated activations.

# Usage

	ml := msglog.NewMemoryLog(4)
	reg := registry.New(ml)
	ns, _ := reg.CreateNamespace("monitors", "taskworker-monitors")
	ns.Register("clock_pulse", pulse.Handle,
		registry.WithProcessingDeadline(5*time.Second))

	consumer, _ := ml.Consumer("worker-monitors", "taskworker-monitors")
	w, err := worker.NewWorker(reg, consumer, worker.Config{Namespace: "monitors"})
	if err != nil {
		return err
	}
	return w.Run(ctx)

On Redis the consumer comes from the stream log:

	consumer, err := rl.Consumer(ctx, msglog.RedisConsumerConfig{
		Group:    "worker-monitors",
		Consumer: hostname,
		Topic:    "taskworker-monitors",
		Block:    2 * time.Second,
	})

NewWorker fails when the namespace is not registered. cmd/tickr starts one
worker per namespace listed for the process.

# See Also

  - pkg/registry for task registration and activation encoding
  - pkg/msglog for delivery and commit semantics
  - pkg/scheduler for the producer side
*/
package worker
