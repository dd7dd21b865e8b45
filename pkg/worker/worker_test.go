package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/metrics"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/registry"
	"github.com/cuemby/tickr/pkg/types"
)

func newTestWorker(t *testing.T) (*Worker, *registry.Namespace) {
	t.Helper()
	l := msglog.NewMemoryLog(1)
	t.Cleanup(func() { l.Close() })

	reg := registry.New(l)
	ns, err := reg.CreateNamespace("jobs", "jobs-topic")
	require.NoError(t, err)

	c, err := l.Consumer("workers", "jobs-topic")
	require.NoError(t, err)

	w, err := NewWorker(reg, c, Config{Namespace: "jobs", BatchSize: 10})
	require.NoError(t, err)
	return w, ns
}

func activationMessage(t *testing.T, act types.TaskActivation) msglog.Message {
	t.Helper()
	data, err := json.Marshal(act)
	require.NoError(t, err)
	return msglog.Message{Topic: "jobs-topic", Key: act.ID, Value: data}
}

func TestNewWorkerUnknownNamespace(t *testing.T) {
	l := msglog.NewMemoryLog(1)
	c, err := l.Consumer("workers", "t")
	require.NoError(t, err)

	_, err = NewWorker(registry.New(l), c, Config{Namespace: "missing"})
	assert.ErrorIs(t, err, registry.ErrUnknownNamespace)
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name     string
		task     string
		handler  registry.Handler
		deadline int64
		result   string
	}{
		{
			name:    "success",
			task:    "ok",
			handler: func(ctx context.Context, act *types.TaskActivation) error { return nil },
			result:  "ok",
		},
		{
			name:    "handler error",
			task:    "fails",
			handler: func(ctx context.Context, act *types.TaskActivation) error { return errors.New("boom") },
			result:  "error",
		},
		{
			name:    "panic",
			task:    "panics",
			handler: func(ctx context.Context, act *types.TaskActivation) error { panic("bad state") },
			result:  "error",
		},
		{
			name: "deadline exceeded",
			task: "slow",
			handler: func(ctx context.Context, act *types.TaskActivation) error {
				<-ctx.Done()
				return ctx.Err()
			},
			deadline: 1,
			result:   "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ns := newTestWorker(t)
			_, err := ns.Register(tt.task, tt.handler, registry.WithProcessingDeadline(time.Minute))
			require.NoError(t, err)

			counter := metrics.WorkerActivations.WithLabelValues("jobs:"+tt.task, tt.result)
			before := testutil.ToFloat64(counter)

			msg := activationMessage(t, types.TaskActivation{
				ID:                 "act-" + tt.task,
				Namespace:          "jobs",
				Taskname:           tt.task,
				ProcessingDeadline: tt.deadline,
			})
			assert.NoError(t, w.Handle(context.Background(), msg))
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestHandlePassesActivation(t *testing.T) {
	w, ns := newTestWorker(t)

	var got *types.TaskActivation
	_, err := ns.Register("echo", func(ctx context.Context, act *types.TaskActivation) error {
		got = act
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)

	msg := activationMessage(t, types.TaskActivation{
		ID:         "act-1",
		Namespace:  "jobs",
		Taskname:   "echo",
		Parameters: map[string]any{"region": "eu"},
	})
	require.NoError(t, w.Handle(context.Background(), msg))

	require.NotNil(t, got)
	assert.Equal(t, "act-1", got.ID)
	assert.Equal(t, "eu", got.Parameters["region"])
}

func TestHandleDropsUnknownTask(t *testing.T) {
	w, _ := newTestWorker(t)

	counter := metrics.WorkerActivations.WithLabelValues("jobs:ghost", "unknown")
	before := testutil.ToFloat64(counter)

	msg := activationMessage(t, types.TaskActivation{ID: "a", Namespace: "jobs", Taskname: "ghost"})
	assert.NoError(t, w.Handle(context.Background(), msg))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestHandleRejectsInvalidPayload(t *testing.T) {
	w, _ := newTestWorker(t)

	err := w.Handle(context.Background(), msglog.Message{Topic: "jobs-topic", Value: []byte("{")})
	assert.Error(t, err)
}

func TestRunDispatchedActivations(t *testing.T) {
	l := msglog.NewMemoryLog(2)
	reg := registry.New(l)
	ns, err := reg.CreateNamespace("jobs", "jobs-topic")
	require.NoError(t, err)

	done := make(chan string, 3)
	_, err = ns.Register("collect", func(ctx context.Context, act *types.TaskActivation) error {
		done <- act.Parameters["n"].(string)
		return nil
	})
	require.NoError(t, err)

	ref := types.TaskRef{Namespace: "jobs", Name: "collect"}
	for _, n := range []string{"a", "b", "c"} {
		_, err := reg.Dispatch(context.Background(), ref, map[string]any{"n": n})
		require.NoError(t, err)
	}

	c, err := l.Consumer("workers", "jobs-topic")
	require.NoError(t, err)
	w, err := NewWorker(reg, c, Config{Namespace: "jobs"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	seen := make(map[string]bool)
	for len(seen) < 3 {
		select {
		case n := <-done:
			seen[n] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for activations")
		}
	}
	cancel()
	assert.NoError(t, <-errCh)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
