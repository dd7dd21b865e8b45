package clocktasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/monitor"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/storage/storagetest"
	"github.com/cuemby/tickr/pkg/types"
)

const (
	tasksTopic       = "monitors-clock-tasks"
	occurrencesTopic = "monitors-incident-occurrences"
)

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func at(hour, min, sec int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second)
}

func tickAt(ts time.Time) types.ClockTick {
	return types.ClockTick{Ts: ts.Unix(), VolumeAnomalyResult: types.AnomalyNormal}
}

type fixture struct {
	store      storage.Store
	log        *msglog.MemoryLog
	dispatcher *Dispatcher
	processor  *Processor
}

func newFixture(t *testing.T, cfg DispatcherConfig) *fixture {
	t.Helper()
	s := storagetest.NewBoltStore(t)
	ml := msglog.NewMemoryLog(8)
	return &fixture{
		store:      s,
		log:        ml,
		dispatcher: NewDispatcher(s, ml, tasksTopic, cfg),
		processor:  NewProcessor(s, monitor.NewEmitter(ml, occurrencesTopic, nil)),
	}
}

func (f *fixture) tasks(t *testing.T) []types.ClockTaskMessage {
	t.Helper()
	var out []types.ClockTaskMessage
	for _, msg := range f.log.All(tasksTopic) {
		var task types.ClockTaskMessage
		require.NoError(t, json.Unmarshal(msg.Value, &task))
		assert.Equal(t, task.MonitorEnvironmentID, msg.Key)
		out = append(out, task)
	}
	return out
}

func (f *fixture) occurrences(t *testing.T) []types.IncidentOccurrence {
	t.Helper()
	var out []types.IncidentOccurrence
	for _, msg := range f.log.All(occurrencesTopic) {
		var occ types.IncidentOccurrence
		require.NoError(t, json.Unmarshal(msg.Value, &occ))
		out = append(out, occ)
	}
	return out
}

func overdueEnv(id string, expected time.Time, mods ...func(*types.MonitorEnvironment)) *types.MonitorEnvironment {
	return storagetest.Environment(id, "m1", append([]func(*types.MonitorEnvironment){
		func(env *types.MonitorEnvironment) {
			env.Status = types.MonitorStatusOK
			env.LastCheckin = storagetest.Ptr(expected.Add(-time.Hour).Add(30 * time.Second))
			env.NextCheckin = storagetest.Ptr(expected)
			env.NextCheckinLatest = storagetest.Ptr(expected.Add(time.Minute))
		},
	}, mods...)...)
}

func inProgress(id, envID string, added, timeout time.Time) *types.CheckIn {
	return &types.CheckIn{
		ID: id, MonitorID: "m1", MonitorEnvironmentID: envID,
		Status: types.CheckInInProgress, DateAdded: added, DateUpdated: added,
		TimeoutAt: storagetest.Ptr(timeout),
	}
}

func TestDispatchCheckMissing(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		overdueEnv("e1", at(10, 0, 0)),
		overdueEnv("e2", at(11, 0, 0)),
		overdueEnv("e3", at(9, 0, 0), func(env *types.MonitorEnvironment) { env.Status = types.MonitorStatusDisabled }),
	)

	n, err := f.dispatcher.DispatchCheckMissing(context.Background(), types.ClockTick{
		Ts: at(10, 1, 0).Unix(), VolumeAnomalyResult: types.AnomalyAbnormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks := f.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.ClockTaskMessage{
		Type:                 types.ClockTaskMarkMissing,
		Ts:                   at(10, 1, 0).Unix(),
		MonitorEnvironmentID: "e1",
		VolumeAnomalyResult:  types.AnomalyAbnormal,
	}, tasks[0])
}

func TestDispatchLimit(t *testing.T) {
	f := newFixture(t, DispatcherConfig{Limit: 2, Rate: 1000})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		overdueEnv("e1", at(9, 0, 0)),
		overdueEnv("e2", at(7, 0, 0)),
		overdueEnv("e3", at(8, 0, 0)),
	)

	n, err := f.dispatcher.DispatchCheckMissing(context.Background(), tickAt(at(10, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tasks := f.tasks(t)
	require.Len(t, tasks, 2)
	ids := []string{tasks[0].MonitorEnvironmentID, tasks[1].MonitorEnvironmentID}
	assert.ElementsMatch(t, []string{"e2", "e3"}, ids)
}

func TestDispatchCheckTimeoutAndUnknown(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		storagetest.Environment("e1", "m1"),
		inProgress("c1", "e1", at(9, 0, 0), at(9, 30, 0)),
		inProgress("c2", "e1", at(9, 50, 0), at(10, 20, 0)),
		&types.CheckIn{ID: "c3", MonitorEnvironmentID: "e1", Status: types.CheckInOK, DateAdded: at(9, 10, 0)},
	)
	ctx := context.Background()

	n, err := f.dispatcher.DispatchCheckTimeout(ctx, tickAt(at(10, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.dispatcher.DispatchMarkUnknown(ctx, tickAt(at(10, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tasks := f.tasks(t)
	require.Len(t, tasks, 3)
	assert.Equal(t, types.ClockTaskMarkTimeout, tasks[0].Type)
	assert.Equal(t, "c1", tasks[0].CheckInID)
	assert.Equal(t, types.ClockTaskMarkUnknown, tasks[1].Type)
	assert.Equal(t, "c1", tasks[1].CheckInID)
	assert.Equal(t, "c2", tasks[2].CheckInID)
}

func TestDispatchKeepsEnvironmentOrder(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		overdueEnv("e1", at(10, 0, 0)),
		inProgress("c1", "e1", at(9, 0, 0), at(9, 30, 0)),
	)
	ctx := context.Background()
	tick := tickAt(at(10, 5, 0))

	_, err := f.dispatcher.DispatchCheckMissing(ctx, tick)
	require.NoError(t, err)
	_, err = f.dispatcher.DispatchCheckTimeout(ctx, tick)
	require.NoError(t, err)

	msgs := f.log.Messages(tasksTopic, msglog.PartitionFor("e1", 8))
	require.Len(t, msgs, 2)

	var first, second types.ClockTaskMessage
	require.NoError(t, json.Unmarshal(msgs[0].Value, &first))
	require.NoError(t, json.Unmarshal(msgs[1].Value, &second))
	assert.Equal(t, types.ClockTaskMarkMissing, first.Type)
	assert.Equal(t, types.ClockTaskMarkTimeout, second.Type)
	assert.Len(t, f.log.All(tasksTopic), 2)
}

func TestMarkEnvironmentMissing(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store, storagetest.Monitor("m1"), overdueEnv("e1", at(10, 0, 0)))
	ctx := context.Background()

	marked, err := f.processor.MarkEnvironmentMissing(ctx, "e1", at(10, 1, 0))
	require.NoError(t, err)
	assert.True(t, marked)

	recent := storagetest.RecentCheckIns(t, f.store, "e1", 10)
	require.Len(t, recent, 1)
	assert.Equal(t, types.CheckInMissed, recent[0].Status)
	assert.Equal(t, at(10, 0, 0), recent[0].DateAdded)
	assert.Equal(t, at(10, 0, 0), *recent[0].ExpectedTime)

	env := storagetest.GetEnvironment(t, f.store, "e1")
	assert.Equal(t, types.MonitorStatusError, env.Status)
	assert.Equal(t, at(11, 0, 0), *env.NextCheckin)
	assert.Equal(t, at(11, 1, 0), *env.NextCheckinLatest)

	occs := f.occurrences(t)
	require.Len(t, occs, 1)
	assert.Equal(t, recent[0].ID, occs[0].FailedCheckInID)
	assert.Equal(t, at(10, 1, 0).Unix(), occs[0].ClockTickTs)

	// a redelivered message finds the environment no longer overdue
	marked, err = f.processor.MarkEnvironmentMissing(ctx, "e1", at(10, 1, 0))
	require.NoError(t, err)
	assert.False(t, marked)
	assert.Len(t, storagetest.RecentCheckIns(t, f.store, "e1", 10), 1)
}

func TestMarkEnvironmentMissingAfterLateCheckIn(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store, storagetest.Monitor("m1"), overdueEnv("e1", at(10, 0, 0)))
	ctx := context.Background()

	_, err := f.dispatcher.DispatchCheckMissing(ctx, tickAt(at(10, 1, 0)))
	require.NoError(t, err)

	// the job checks in before the mark_missing message is processed
	_, err = monitor.NewIngester(f.store).Ingest(ctx, &types.IngestedCheckIn{
		MonitorEnvironmentID: "e1", Status: types.CheckInOK,
	}, at(10, 1, 0).Add(-time.Second))
	require.NoError(t, err)

	for _, task := range f.tasks(t) {
		require.NoError(t, f.processor.Process(ctx, task))
	}

	recent := storagetest.RecentCheckIns(t, f.store, "e1", 10)
	require.Len(t, recent, 1)
	assert.Equal(t, types.CheckInOK, recent[0].Status)
	assert.Equal(t, types.MonitorStatusOK, storagetest.GetEnvironment(t, f.store, "e1").Status)
	assert.Empty(t, f.occurrences(t))
}

func TestMarkCheckInTimeout(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	hourly := storagetest.Monitor("m1", func(m *types.Monitor) {
		m.Schedule = types.MonitorSchedule{Type: types.ScheduleTypeInterval, IntervalValue: 1, IntervalUnit: types.IntervalHour}
		m.MaxRuntime = 40
	})
	storagetest.Put(t, f.store, hourly, storagetest.Environment("e1", "m1"))
	ctx := context.Background()

	_, err := monitor.NewIngester(f.store).Ingest(ctx, &types.IngestedCheckIn{
		ID: "run-1", MonitorEnvironmentID: "e1", Status: types.CheckInInProgress,
	}, at(10, 2, 10))
	require.NoError(t, err)

	n, err := f.dispatcher.DispatchCheckTimeout(ctx, tickAt(at(10, 43, 0)))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	for _, msg := range f.log.All(tasksTopic) {
		require.NoError(t, f.processor.Handle(ctx, msg))
	}

	assert.Equal(t, types.CheckInTimeout, storagetest.GetCheckIn(t, f.store, "run-1").Status)
	env := storagetest.GetEnvironment(t, f.store, "e1")
	assert.Equal(t, types.MonitorStatusError, env.Status)
	// aligned to the 10:02 slot, not to the 10:43 tick
	assert.Equal(t, at(11, 2, 0), *env.NextCheckin)
	require.Len(t, f.occurrences(t), 1)

	marked, err := f.processor.MarkCheckInTimeout(ctx, "run-1", at(10, 43, 0))
	require.NoError(t, err)
	assert.False(t, marked)
	assert.Equal(t, types.CheckInTimeout, storagetest.GetCheckIn(t, f.store, "run-1").Status)
	assert.Len(t, f.occurrences(t), 1)
}

func TestMarkCheckInTimeoutSupersededByNewerResult(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		storagetest.Environment("e1", "m1", func(env *types.MonitorEnvironment) { env.Status = types.MonitorStatusOK }),
		inProgress("c1", "e1", at(10, 0, 10), at(10, 30, 0)),
		&types.CheckIn{ID: "c2", MonitorID: "m1", MonitorEnvironmentID: "e1", Status: types.CheckInOK, DateAdded: at(10, 20, 0)},
	)

	marked, err := f.processor.MarkCheckInTimeout(context.Background(), "c1", at(10, 31, 0))
	require.NoError(t, err)
	assert.True(t, marked)
	assert.Equal(t, types.CheckInTimeout, storagetest.GetCheckIn(t, f.store, "c1").Status)
	assert.Equal(t, types.MonitorStatusOK, storagetest.GetEnvironment(t, f.store, "e1").Status)
	assert.Empty(t, f.occurrences(t))
}

func TestMarkCheckInTimeoutNotYetDue(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		storagetest.Environment("e1", "m1"),
		inProgress("c1", "e1", at(10, 0, 0), at(10, 30, 0)),
	)

	marked, err := f.processor.MarkCheckInTimeout(context.Background(), "c1", at(10, 29, 0))
	require.NoError(t, err)
	assert.False(t, marked)

	marked, err = f.processor.MarkCheckInTimeout(context.Background(), "missing", at(10, 29, 0))
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestMarkCheckInUnknown(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	storagetest.Put(t, f.store,
		storagetest.Monitor("m1"),
		storagetest.Environment("e1", "m1"),
		inProgress("c1", "e1", at(10, 0, 0), at(10, 30, 0)),
		inProgress("c2", "e1", at(10, 10, 0), at(10, 40, 0)),
	)
	ctx := context.Background()
	task := func(id string) types.ClockTaskMessage {
		return types.ClockTaskMessage{
			Type: types.ClockTaskMarkUnknown, Ts: at(10, 5, 0).Unix(),
			MonitorEnvironmentID: "e1", CheckInID: id,
		}
	}

	require.NoError(t, f.processor.Process(ctx, task("c1")))
	require.NoError(t, f.processor.Process(ctx, task("c1")))
	require.NoError(t, f.processor.Process(ctx, task("c2")))

	assert.Equal(t, types.CheckInUnknown, storagetest.GetCheckIn(t, f.store, "c1").Status)
	assert.Equal(t, types.CheckInInProgress, storagetest.GetCheckIn(t, f.store, "c2").Status)
	assert.Equal(t, types.MonitorStatusActive, storagetest.GetEnvironment(t, f.store, "e1").Status)
}

func TestProcessUnknownType(t *testing.T) {
	f := newFixture(t, DispatcherConfig{})
	err := f.processor.Process(context.Background(), types.ClockTaskMessage{Type: "mark_everything"})
	assert.ErrorIs(t, err, ErrUnknownTaskType)

	err = f.processor.Handle(context.Background(), msglog.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
