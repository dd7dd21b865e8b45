package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/events"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage"
	"github.com/cuemby/tickr/pkg/storage/storagetest"
	"github.com/cuemby/tickr/pkg/types"
)

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func at(hour, min, sec int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second)
}

func TestScheduleFor(t *testing.T) {
	tests := []struct {
		name     string
		schedule types.MonitorSchedule
		from     time.Time
		want     time.Time
		wantErr  bool
	}{
		{
			name:     "crontab",
			schedule: types.MonitorSchedule{Type: types.ScheduleTypeCrontab, Crontab: "*/15 * * * *"},
			from:     at(10, 7, 0),
			want:     at(10, 15, 0),
		},
		{
			name:     "interval hours",
			schedule: types.MonitorSchedule{Type: types.ScheduleTypeInterval, IntervalValue: 2, IntervalUnit: types.IntervalHour},
			from:     at(10, 7, 0),
			want:     at(12, 7, 0),
		},
		{
			name: "crontab in timezone",
			schedule: types.MonitorSchedule{
				Type: types.ScheduleTypeCrontab, Crontab: "0 9 * * *", Timezone: "America/New_York",
			},
			from: at(10, 0, 0),
			want: at(13, 0, 0), // 09:00 EDT
		},
		{
			name:     "invalid crontab",
			schedule: types.MonitorSchedule{Type: types.ScheduleTypeCrontab, Crontab: "every day"},
			wantErr:  true,
		},
		{
			name:     "unknown interval unit",
			schedule: types.MonitorSchedule{Type: types.ScheduleTypeInterval, IntervalValue: 1, IntervalUnit: "month"},
			wantErr:  true,
		},
		{
			name:     "unknown timezone",
			schedule: types.MonitorSchedule{Type: types.ScheduleTypeCrontab, Crontab: "0 * * * *", Timezone: "Mars/Olympus"},
			wantErr:  true,
		},
		{
			name:     "missing type",
			schedule: types.MonitorSchedule{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &types.Monitor{ID: "m1", Schedule: tt.schedule}
			s, err := ScheduleFor(m)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(s.RuntimeAfter(tt.from)), "got %s", s.RuntimeAfter(tt.from))
		})
	}
}

func TestNextCheckinLatest(t *testing.T) {
	m := storagetest.Monitor("m1")

	next, err := NextCheckin(m, at(10, 15, 30))
	require.NoError(t, err)
	assert.Equal(t, at(11, 0, 0), next)

	latest, err := NextCheckinLatest(m, at(10, 15, 30))
	require.NoError(t, err)
	assert.Equal(t, at(11, 1, 0), latest)

	m.CheckinMargin = 5
	latest, err = NextCheckinLatest(m, at(10, 15, 30))
	require.NoError(t, err)
	assert.Equal(t, at(11, 5, 0), latest)
}

func TestTimeoutAt(t *testing.T) {
	m := storagetest.Monitor("m1")
	assert.Equal(t, at(10, 30, 0), TimeoutAt(m, at(10, 0, 45)))

	m.MaxRuntime = 90
	assert.Equal(t, at(11, 30, 0), TimeoutAt(m, at(10, 0, 45)))
}

func TestPreviousSlot(t *testing.T) {
	m := storagetest.Monitor("m1", func(m *types.Monitor) {
		m.Schedule.Crontab = "*/5 * * * *"
	})
	slot, err := PreviousSlot(m, at(14, 3, 0), at(14, 23, 0))
	require.NoError(t, err)
	assert.Equal(t, at(14, 20, 0), slot)

	hourly := storagetest.Monitor("m2", func(m *types.Monitor) {
		m.Schedule = types.MonitorSchedule{Type: types.ScheduleTypeInterval, IntervalValue: 1, IntervalUnit: types.IntervalHour}
	})
	slot, err = PreviousSlot(hourly, at(10, 0, 0), at(12, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, at(12, 0, 0), slot)
}

func failed(id string, ts time.Time) *types.CheckIn {
	return &types.CheckIn{
		ID: id, MonitorID: "m1", MonitorEnvironmentID: "e1",
		Status: types.CheckInError, DateAdded: ts, DateUpdated: ts,
	}
}

func succeeded(id string, ts time.Time) *types.CheckIn {
	c := failed(id, ts)
	c.Status = types.CheckInOK
	return c
}

func setup(t *testing.T, m *types.Monitor, env *types.MonitorEnvironment) storage.Store {
	t.Helper()
	s := storagetest.NewBoltStore(t)
	storagetest.Put(t, s, m, env)
	return s
}

func markFailed(t *testing.T, s storage.Store, c *types.CheckIn, clockTick time.Time) *Outcome {
	t.Helper()
	var out *Outcome
	err := s.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutCheckIn(c); err != nil {
			return err
		}
		var err error
		out, err = MarkFailed(tx, c, c.DateAdded, clockTick)
		return err
	})
	require.NoError(t, err)
	return out
}

func markOK(t *testing.T, s storage.Store, c *types.CheckIn) *Outcome {
	t.Helper()
	var out *Outcome
	err := s.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutCheckIn(c); err != nil {
			return err
		}
		var err error
		out, err = MarkOK(tx, c, c.DateAdded)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestMarkFailedThreshold(t *testing.T) {
	m := storagetest.Monitor("m1", func(m *types.Monitor) { m.FailureIssueThreshold = 2 })
	s := setup(t, m, storagetest.Environment("e1", "m1"))

	out := markFailed(t, s, failed("c1", at(10, 0, 30)), time.Time{})
	assert.True(t, out.Advanced)
	assert.Nil(t, out.Opened)
	assert.Empty(t, out.Occurrences)

	env := storagetest.GetEnvironment(t, s, "e1")
	assert.Equal(t, types.MonitorStatusActive, env.Status)
	assert.Equal(t, at(11, 0, 0), *env.NextCheckin)
	assert.Equal(t, at(11, 1, 0), *env.NextCheckinLatest)

	out = markFailed(t, s, failed("c2", at(11, 0, 30)), time.Time{})
	require.NotNil(t, out.Opened)
	assert.Equal(t, "c1", out.Opened.StartingCheckInID)
	assert.Equal(t, at(10, 0, 30), out.Opened.StartingTimestamp)
	require.Len(t, out.Occurrences, 1)
	assert.Equal(t, []string{"c1", "c2"}, out.Occurrences[0].PreviousCheckInIDs)
	assert.Equal(t, "c2", out.Occurrences[0].FailedCheckInID)
	assert.Equal(t, types.MonitorStatusError, storagetest.GetEnvironment(t, s, "e1").Status)

	out = markFailed(t, s, failed("c3", at(12, 0, 30)), at(12, 2, 0))
	assert.Nil(t, out.Opened)
	require.Len(t, out.Occurrences, 1)
	assert.Equal(t, []string{"c3"}, out.Occurrences[0].PreviousCheckInIDs)
	assert.Equal(t, at(12, 2, 0).Unix(), out.Occurrences[0].ClockTickTs)
	assert.NotEmpty(t, out.Occurrences[0].IncidentID)
}

func TestMarkFailedStreakBrokenByOK(t *testing.T) {
	m := storagetest.Monitor("m1", func(m *types.Monitor) { m.FailureIssueThreshold = 2 })
	s := setup(t, m, storagetest.Environment("e1", "m1"))

	markFailed(t, s, failed("c1", at(10, 0, 30)), time.Time{})
	markOK(t, s, succeeded("c2", at(11, 0, 30)))
	out := markFailed(t, s, failed("c3", at(12, 0, 30)), time.Time{})

	assert.Nil(t, out.Opened)
	assert.Equal(t, types.MonitorStatusOK, storagetest.GetEnvironment(t, s, "e1").Status)
}

func TestMarkFailedIgnoresOlderCheckIn(t *testing.T) {
	env := storagetest.Environment("e1", "m1", func(env *types.MonitorEnvironment) {
		env.Status = types.MonitorStatusOK
		env.LastCheckin = storagetest.Ptr(at(12, 0, 0))
		env.NextCheckin = storagetest.Ptr(at(13, 0, 0))
		env.NextCheckinLatest = storagetest.Ptr(at(13, 1, 0))
	})
	s := setup(t, storagetest.Monitor("m1"), env)

	out := markFailed(t, s, failed("c1", at(11, 0, 30)), time.Time{})
	assert.False(t, out.Advanced)
	assert.Nil(t, out.Opened)

	got := storagetest.GetEnvironment(t, s, "e1")
	assert.Equal(t, types.MonitorStatusOK, got.Status)
	assert.Equal(t, at(12, 0, 0), *got.LastCheckin)
}

func TestMarkFailedMuted(t *testing.T) {
	m := storagetest.Monitor("m1", func(m *types.Monitor) { m.IsMuted = true })
	s := setup(t, m, storagetest.Environment("e1", "m1"))

	out := markFailed(t, s, failed("c1", at(10, 0, 30)), time.Time{})
	assert.NotNil(t, out.Opened)
	assert.Empty(t, out.Occurrences)
	assert.Equal(t, types.MonitorStatusError, storagetest.GetEnvironment(t, s, "e1").Status)
}

func TestMarkOKRecovery(t *testing.T) {
	m := storagetest.Monitor("m1", func(m *types.Monitor) { m.RecoveryThreshold = 2 })
	s := setup(t, m, storagetest.Environment("e1", "m1"))

	opened := markFailed(t, s, failed("c1", at(9, 0, 30)), time.Time{}).Opened
	require.NotNil(t, opened)

	out := markOK(t, s, succeeded("c2", at(10, 0, 30)))
	assert.True(t, out.Advanced)
	assert.Nil(t, out.Resolved)
	assert.Equal(t, types.MonitorStatusError, storagetest.GetEnvironment(t, s, "e1").Status)

	out = markOK(t, s, succeeded("c3", at(11, 0, 30)))
	require.NotNil(t, out.Resolved)
	assert.Equal(t, opened.ID, out.Resolved.ID)
	assert.Equal(t, "c3", out.Resolved.ResolvingCheckInID)
	assert.Equal(t, types.MonitorStatusOK, storagetest.GetEnvironment(t, s, "e1").Status)

	err := s.View(context.Background(), func(tx storage.Tx) error {
		_, err := tx.ActiveIncident("e1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkOKKeepsDisabledEnvironment(t *testing.T) {
	env := storagetest.Environment("e1", "m1", func(env *types.MonitorEnvironment) {
		env.Status = types.MonitorStatusDisabled
	})
	s := setup(t, storagetest.Monitor("m1"), env)

	markOK(t, s, succeeded("c1", at(10, 0, 30)))
	assert.Equal(t, types.MonitorStatusDisabled, storagetest.GetEnvironment(t, s, "e1").Status)
}

func TestIngesterLifecycle(t *testing.T) {
	s := setup(t, storagetest.Monitor("m1"), storagetest.Environment("e1", "m1"))
	ing := NewIngester(s)
	ctx := context.Background()

	out, err := ing.Ingest(ctx, &types.IngestedCheckIn{
		ID: "run-1", MonitorEnvironmentID: "e1", Status: types.CheckInInProgress,
	}, at(10, 0, 10))
	require.NoError(t, err)
	assert.True(t, out.Advanced)

	c := storagetest.GetCheckIn(t, s, "run-1")
	assert.Equal(t, types.CheckInInProgress, c.Status)
	require.NotNil(t, c.TimeoutAt)
	assert.Equal(t, at(10, 30, 0), *c.TimeoutAt)

	env := storagetest.GetEnvironment(t, s, "e1")
	assert.Equal(t, at(10, 0, 10), *env.LastCheckin)
	assert.Equal(t, at(11, 1, 0), *env.NextCheckinLatest)
	assert.Equal(t, types.MonitorStatusActive, env.Status)

	_, err = ing.Ingest(ctx, &types.IngestedCheckIn{
		ID: "run-1", MonitorEnvironmentID: "e1", Status: types.CheckInOK,
	}, at(10, 5, 0))
	require.NoError(t, err)

	c = storagetest.GetCheckIn(t, s, "run-1")
	assert.Equal(t, types.CheckInOK, c.Status)
	assert.Equal(t, at(10, 5, 0), c.DateUpdated)
	assert.Equal(t, types.MonitorStatusOK, storagetest.GetEnvironment(t, s, "e1").Status)

	out, err = ing.Ingest(ctx, &types.IngestedCheckIn{
		ID: "run-1", MonitorEnvironmentID: "e1", Status: types.CheckInError,
	}, at(10, 6, 0))
	require.NoError(t, err)
	assert.False(t, out.Advanced)
	assert.Equal(t, types.CheckInOK, storagetest.GetCheckIn(t, s, "run-1").Status)
}

func TestIngesterAssignsID(t *testing.T) {
	s := setup(t, storagetest.Monitor("m1"), storagetest.Environment("e1", "m1"))

	out, err := NewIngester(s).Ingest(context.Background(), &types.IngestedCheckIn{
		MonitorEnvironmentID: "e1", Status: types.CheckInError,
	}, at(10, 0, 10))
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	recent := storagetest.RecentCheckIns(t, s, "e1", 10)
	require.Len(t, recent, 1)
	assert.NotEmpty(t, recent[0].ID)
	assert.Nil(t, recent[0].TimeoutAt)
}

func TestIngesterRejects(t *testing.T) {
	s := setup(t, storagetest.Monitor("m1"), storagetest.Environment("e1", "m1"))
	storagetest.Put(t, s, storagetest.Environment("e2", "m1"), &types.CheckIn{
		ID: "other", MonitorID: "m1", MonitorEnvironmentID: "e2",
		Status: types.CheckInInProgress, DateAdded: at(9, 0, 0), DateUpdated: at(9, 0, 0),
	})
	ing := NewIngester(s)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, &types.IngestedCheckIn{MonitorEnvironmentID: "e1", Status: types.CheckInMissed}, at(10, 0, 0))
	assert.ErrorIs(t, err, ErrUnsupportedStatus)

	_, err = ing.Ingest(ctx, &types.IngestedCheckIn{MonitorEnvironmentID: "nope", Status: types.CheckInOK}, at(10, 0, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = ing.Ingest(ctx, &types.IngestedCheckIn{ID: "other", MonitorEnvironmentID: "e1", Status: types.CheckInOK}, at(10, 0, 0))
	assert.ErrorIs(t, err, ErrEnvironmentMismatch)
}

func TestIngesterDropsDisabled(t *testing.T) {
	env := storagetest.Environment("e1", "m1", func(env *types.MonitorEnvironment) {
		env.Status = types.MonitorStatusDisabled
	})
	s := setup(t, storagetest.Monitor("m1"), env)

	out, err := NewIngester(s).Ingest(context.Background(), &types.IngestedCheckIn{
		MonitorEnvironmentID: "e1", Status: types.CheckInOK,
	}, at(10, 0, 0))
	require.NoError(t, err)
	assert.False(t, out.Advanced)
	assert.Empty(t, storagetest.RecentCheckIns(t, s, "e1", 10))
}

func TestEmitter(t *testing.T) {
	ml := msglog.NewMemoryLog(4)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	e := NewEmitter(ml, "occurrences", broker)
	occ := types.IncidentOccurrence{
		IncidentID: "i1", MonitorEnvironmentID: "e1",
		FailedCheckInID: "c1", PreviousCheckInIDs: []string{"c1"},
	}
	err := e.Emit(context.Background(), &Outcome{
		Advanced:    true,
		Opened:      &types.MonitorIncident{ID: "i1", MonitorEnvironmentID: "e1", StartingCheckInID: "c1"},
		Occurrences: []types.IncidentOccurrence{occ},
	})
	require.NoError(t, err)

	msgs := ml.All("occurrences")
	require.Len(t, msgs, 1)
	assert.Equal(t, "e1", msgs[0].Key)
	assert.Equal(t, msglog.PartitionFor("e1", 4), msgs[0].Partition)

	var got types.IncidentOccurrence
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, occ, got)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventIncidentOpened, ev.Type)
		assert.Equal(t, "i1", ev.Metadata["incident_id"])
	case <-time.After(time.Second):
		t.Fatal("no incident.opened event")
	}

	e.CheckInMarked(context.Background(), &types.CheckIn{ID: "c2", MonitorEnvironmentID: "e1", Status: types.CheckInTimeout})
	select {
	case ev := <-sub:
		assert.Equal(t, events.EventCheckInTimeout, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no checkin.timeout event")
	}
}
