package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/registry"
	"github.com/cuemby/tickr/pkg/types"
)

// Worker executes task activations from one namespace topic
type Worker struct {
	registry  *registry.Registry
	namespace *registry.Namespace
	runner    *msglog.Runner
	logger    zerolog.Logger
}

// Config holds worker configuration
type Config struct {
	Namespace string
	BatchSize int
}

// NewWorker creates a worker reading activations for cfg.Namespace from consumer
func NewWorker(reg *registry.Registry, consumer msglog.Consumer, cfg Config) (*Worker, error) {
	ns, err := reg.Namespace(cfg.Namespace)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		registry:  reg,
		namespace: ns,
		logger:    log.WithComponent("worker").With().Str("namespace", ns.Name).Logger(),
	}
	w.runner = msglog.NewRunner("worker-"+ns.Name, consumer, w.Handle, cfg.BatchSize)
	return w, nil
}

// Run processes activations until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Strs("tasks", w.namespace.TaskNames()).Msg("Worker started")
	return w.runner.Run(ctx)
}

// Handle executes one activation message. Activations for tasks this
// process does not know are logged and dropped.
func (w *Worker) Handle(ctx context.Context, msg msglog.Message) error {
	var act types.TaskActivation
	if err := json.Unmarshal(msg.Value, &act); err != nil {
		metrics.WorkerActivations.WithLabelValues("", "invalid").Inc()
		return fmt.Errorf("invalid activation: %w", err)
	}
	ref := act.Ref()
	logger := log.WithTask(ref.Fullname()).With().Str("activation_id", act.ID).Logger()

	task, err := w.registry.Lookup(ref)
	if err != nil {
		metrics.WorkerActivations.WithLabelValues(ref.Fullname(), "unknown").Inc()
		logger.Warn().Err(err).Msg("Dropping activation for unknown task")
		return nil
	}

	deadline := task.ProcessingDeadline
	if act.ProcessingDeadline > 0 {
		deadline = time.Duration(act.ProcessingDeadline) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	timer := metrics.NewTimer()
	err = execute(runCtx, task, &act)
	elapsed := timer.Duration()

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded:
		result = "timeout"
	default:
		result = "error"
	}
	metrics.WorkerActivations.WithLabelValues(ref.Fullname(), result).Inc()

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Str("result", result).Msg("Task failed")
		return nil
	}
	logger.Debug().Dur("elapsed", elapsed).Msg("Task completed")
	return nil
}

// execute runs the handler and turns a panic into an error
func execute(ctx context.Context, task *registry.Task, act *types.TaskActivation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Handler(ctx, act)
}
