package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

func noop(ctx context.Context, act *types.TaskActivation) error { return nil }

func newRegistry(t *testing.T) (*Registry, *msglog.MemoryLog) {
	t.Helper()
	l := msglog.NewMemoryLog(2)
	r := New(l)
	ns, err := r.CreateNamespace("reports", "taskworker-reports")
	require.NoError(t, err)
	_, err = ns.Register("nightly", noop, WithProcessingDeadline(time.Minute))
	require.NoError(t, err)
	return r, l
}

func TestRegistryRegistration(t *testing.T) {
	r, _ := newRegistry(t)

	_, err := r.CreateNamespace("reports", "other")
	assert.ErrorIs(t, err, ErrDuplicateNamespace)

	ns, err := r.Namespace("reports")
	require.NoError(t, err)
	_, err = ns.Register("nightly", noop)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	_, err = ns.Register("weekly", noop)
	require.NoError(t, err)
	assert.Equal(t, []string{"nightly", "weekly"}, ns.TaskNames())

	_, err = ns.Register("", noop)
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	r, _ := newRegistry(t)

	tests := []struct {
		name    string
		ref     string
		wantErr error
	}{
		{name: "known task", ref: "reports:nightly"},
		{name: "malformed", ref: "nightly", wantErr: ErrInvalidTaskRef},
		{name: "unknown namespace", ref: "billing:charge", wantErr: ErrUnknownNamespace},
		{name: "unknown task", ref: "reports:hourly", wantErr: ErrUnknownTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := r.Resolve(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ref, ref.Fullname())
		})
	}
}

func TestRegistryDispatch(t *testing.T) {
	r, l := newRegistry(t)
	ctx := context.Background()

	act, err := r.Dispatch(ctx, types.TaskRef{Namespace: "reports", Name: "nightly"}, map[string]any{"day": "mon"})
	require.NoError(t, err)
	assert.NotEmpty(t, act.ID)
	assert.Equal(t, int64(60), act.ProcessingDeadline)

	msgs := l.All("taskworker-reports")
	require.Len(t, msgs, 1)
	assert.Equal(t, act.ID, msgs[0].Key)

	var decoded types.TaskActivation
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, "reports", decoded.Namespace)
	assert.Equal(t, "nightly", decoded.Taskname)
	assert.Equal(t, "mon", decoded.Parameters["day"])

	_, err = r.Dispatch(ctx, types.TaskRef{Namespace: "reports", Name: "missing"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Len(t, l.All("taskworker-reports"), 1)
}
