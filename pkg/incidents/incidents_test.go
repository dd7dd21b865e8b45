package incidents

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/storage/storagetest"
	"github.com/cuemby/tickr/pkg/types"
)

var tick = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func newVolumeDetector(t *testing.T, cfg VolumeConfig) (*VolumeDetector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewVolumeDetector(rdb, cfg), mr
}

func record(t *testing.T, d *VolumeDetector, minute time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, d.RecordVolume(context.Background(), minute.Add(time.Duration(i)*time.Second)))
	}
}

func TestVolumeDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("steady volume is normal", func(t *testing.T) {
		d, _ := newVolumeDetector(t, VolumeConfig{Window: 4, DropThreshold: 0.5, MinVolume: 10})
		for i := 1; i <= 5; i++ {
			record(t, d, tick.Add(-time.Duration(i)*time.Minute), 20)
		}

		result, err := d.Evaluate(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, types.AnomalyNormal, result)

		decision, err := d.Classify(ctx, tick.Add(30*time.Second))
		require.NoError(t, err)
		assert.Equal(t, DecisionNormal, decision)
	})

	t.Run("sharp drop is abnormal", func(t *testing.T) {
		d, _ := newVolumeDetector(t, VolumeConfig{Window: 4, DropThreshold: 0.5, MinVolume: 10})
		for i := 2; i <= 5; i++ {
			record(t, d, tick.Add(-time.Duration(i)*time.Minute), 20)
		}
		record(t, d, tick.Add(-time.Minute), 2)

		result, err := d.Evaluate(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, types.AnomalyAbnormal, result)

		decision, err := d.Classify(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, DecisionAbnormal, decision)
	})

	t.Run("low volume is never abnormal", func(t *testing.T) {
		d, _ := newVolumeDetector(t, VolumeConfig{Window: 4, DropThreshold: 0.5, MinVolume: 100})
		for i := 2; i <= 5; i++ {
			record(t, d, tick.Add(-time.Duration(i)*time.Minute), 20)
		}

		result, err := d.Evaluate(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, types.AnomalyNormal, result)
	})

	t.Run("short history is normal", func(t *testing.T) {
		d, _ := newVolumeDetector(t, VolumeConfig{Window: 10, DropThreshold: 0.5, MinVolume: 1})
		record(t, d, tick.Add(-2*time.Minute), 50)

		result, err := d.Evaluate(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, types.AnomalyNormal, result)
	})

	t.Run("unevaluated tick is pending", func(t *testing.T) {
		d, _ := newVolumeDetector(t, VolumeConfig{})
		decision, err := d.Classify(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, DecisionPending, decision)
	})

	t.Run("counters expire", func(t *testing.T) {
		d, mr := newVolumeDetector(t, VolumeConfig{Prefix: "vol", Window: 4})
		record(t, d, tick, 1)

		key := "vol:count:" + strconv.FormatInt(tick.Unix(), 10)
		assert.Equal(t, "1", mustGet(t, mr, key))
		assert.Equal(t, 6*time.Minute, mr.TTL(key))
	})

	t.Run("recorded decision", func(t *testing.T) {
		d, mr := newVolumeDetector(t, VolumeConfig{Prefix: "vol"})
		require.NoError(t, d.Record(ctx, tick.Add(20*time.Second), types.AnomalyAbnormal))

		decision, err := d.Classify(ctx, tick)
		require.NoError(t, err)
		assert.Equal(t, DecisionAbnormal, decision)
		assert.Equal(t, 24*time.Hour, mr.TTL("vol:decision:"+strconv.FormatInt(tick.Unix(), 10)))
	})

	t.Run("redis failure", func(t *testing.T) {
		d, mr := newVolumeDetector(t, VolumeConfig{})
		mr.Close()

		assert.Error(t, d.RecordVolume(ctx, tick))
		_, err := d.Evaluate(ctx, tick)
		assert.Error(t, err)
		decision, err := d.Classify(ctx, tick)
		assert.Error(t, err)
		assert.Equal(t, DecisionPending, decision)
	})
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestStaticDetector(t *testing.T) {
	ctx := context.Background()
	d := NewStaticDetector(types.AnomalyNormal)

	decision, err := d.Classify(ctx, tick)
	require.NoError(t, err)
	assert.Equal(t, DecisionPending, decision)

	_, err = d.Evaluate(ctx, tick)
	require.NoError(t, err)
	decision, _ = d.Classify(ctx, tick)
	assert.Equal(t, DecisionNormal, decision)

	d.SetResult(types.AnomalyAbnormal)
	_, _ = d.Evaluate(ctx, tick.Add(time.Minute))
	decision, _ = d.Classify(ctx, tick.Add(time.Minute))
	assert.Equal(t, DecisionAbnormal, decision)

	require.NoError(t, d.Record(ctx, tick.Add(2*time.Minute), types.AnomalyNormal))
	decision, _ = d.Classify(ctx, tick.Add(2*time.Minute))
	assert.Equal(t, DecisionNormal, decision)

	require.NoError(t, d.RecordVolume(ctx, tick.Add(10*time.Second)))
	require.NoError(t, d.RecordVolume(ctx, tick.Add(50*time.Second)))
	assert.Equal(t, int64(2), d.Volume(tick))
}

func TestNormalDetectorNeverPending(t *testing.T) {
	decision, err := NormalDetector{}.Classify(context.Background(), tick)
	require.NoError(t, err)
	assert.Equal(t, DecisionNormal, decision)
}

type fakeNotifier struct {
	mu   sync.Mutex
	seen []types.IncidentOccurrence
	err  error
	ch   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan struct{}, 10)}
}

func (n *fakeNotifier) Notify(_ context.Context, occ types.IncidentOccurrence) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.seen = append(n.seen, occ)
	n.ch <- struct{}{}
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

func fastConfig() ConsumerConfig {
	return ConsumerConfig{PendingBackoff: 5 * time.Millisecond, PendingWait: 20 * time.Millisecond}
}

func TestOccurrenceConsumerNotifiesNormalTick(t *testing.T) {
	d := NewStaticDetector(types.AnomalyNormal)
	_, _ = d.Evaluate(context.Background(), tick)
	n := newFakeNotifier()
	c := NewOccurrenceConsumer(d, n, storagetest.NewBoltStore(t), nil, fastConfig())

	occ := types.IncidentOccurrence{
		IncidentID: "i1", MonitorEnvironmentID: "e1", FailedCheckInID: "c1",
		ClockTickTs: tick.Unix(),
	}
	require.NoError(t, c.Process(context.Background(), occ))
	assert.Equal(t, 1, n.count())
}

func TestOccurrenceConsumerMarksUnknownOnAbnormalTick(t *testing.T) {
	s := storagetest.NewBoltStore(t)
	failedAt := tick.Add(-30 * time.Minute)
	storagetest.Put(t, s,
		storagetest.Monitor("m1"),
		storagetest.Environment("e1", "m1"),
		&types.CheckIn{ID: "c1", MonitorEnvironmentID: "e1", Status: types.CheckInError, DateAdded: failedAt},
		&types.CheckIn{ID: "c2", MonitorEnvironmentID: "e1", Status: types.CheckInMissed, DateAdded: failedAt.Add(time.Minute)},
		&types.CheckIn{ID: "c3", MonitorEnvironmentID: "e1", Status: types.CheckInOK, DateAdded: failedAt.Add(2 * time.Minute)},
		&types.CheckIn{ID: "c4", MonitorEnvironmentID: "e1", Status: types.CheckInTimeout, DateAdded: failedAt.Add(3 * time.Minute)},
	)

	d := NewStaticDetector(types.AnomalyAbnormal)
	_, _ = d.Evaluate(context.Background(), tick)
	n := newFakeNotifier()
	c := NewOccurrenceConsumer(d, n, s, nil, fastConfig())

	err := c.Process(context.Background(), types.IncidentOccurrence{
		IncidentID: "i1", MonitorEnvironmentID: "e1",
		FailedCheckInID: "c2", PreviousCheckInIDs: []string{"c1", "c2", "c3", "c4", "gone"},
		ClockTickTs: tick.Unix(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, n.count())
	// errors reported by the job itself stay final
	assert.Equal(t, types.CheckInError, storagetest.GetCheckIn(t, s, "c1").Status)
	assert.Equal(t, types.CheckInUnknown, storagetest.GetCheckIn(t, s, "c2").Status)
	assert.Equal(t, types.CheckInUnknown, storagetest.GetCheckIn(t, s, "c4").Status)
	assert.Equal(t, types.CheckInOK, storagetest.GetCheckIn(t, s, "c3").Status)
}

func TestOccurrenceConsumerWaitsWhilePending(t *testing.T) {
	d := NewStaticDetector(types.AnomalyNormal)
	n := newFakeNotifier()
	c := NewOccurrenceConsumer(d, n, storagetest.NewBoltStore(t), nil, fastConfig())

	received := tick.Add(-30 * time.Second)
	done := make(chan error, 1)
	go func() {
		done <- c.Process(context.Background(), types.IncidentOccurrence{
			MonitorEnvironmentID: "e1", FailedCheckInID: "c1", ReceivedTs: received.Unix(),
		})
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, n.count())

	// the tick closing the minute the failure was received in
	_, _ = d.Evaluate(context.Background(), tick)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("occurrence still waiting after the tick was evaluated")
	}
	assert.Equal(t, 1, n.count())
}

type fakeTicks struct {
	last time.Time
	ok   bool
	err  error
}

func (f fakeTicks) LastTick(context.Context) (time.Time, bool, error) {
	return f.last, f.ok, f.err
}

func TestOccurrenceConsumerLostDecision(t *testing.T) {
	tests := []struct {
		name     string
		ticks    TickSource
		notified bool
	}{
		{name: "later tick dispatched", ticks: fakeTicks{last: tick.Add(time.Minute), ok: true}, notified: true},
		{name: "tick itself is the last", ticks: fakeTicks{last: tick, ok: true}},
		{name: "no tick dispatched yet", ticks: fakeTicks{}},
		{name: "tick source failing", ticks: fakeTicks{err: errors.New("unavailable")}},
		{name: "no tick source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newFakeNotifier()
			cfg := fastConfig()
			cfg.Ticks = tt.ticks
			c := NewOccurrenceConsumer(NewStaticDetector(types.AnomalyNormal), n, storagetest.NewBoltStore(t), nil, cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			err := c.Process(ctx, types.IncidentOccurrence{MonitorEnvironmentID: "e1", FailedCheckInID: "c1", ClockTickTs: tick.Unix()})
			if tt.notified {
				require.NoError(t, err)
				assert.Equal(t, 1, n.count())
				return
			}
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, 0, n.count())
		})
	}
}

func TestOccurrenceConsumerExpiredDecision(t *testing.T) {
	ctx := context.Background()
	d, mr := newVolumeDetector(t, VolumeConfig{})
	_, err := d.Evaluate(ctx, tick)
	require.NoError(t, err)

	mr.FastForward(25 * time.Hour)
	decision, err := d.Classify(ctx, tick)
	require.NoError(t, err)
	require.Equal(t, DecisionPending, decision)

	n := newFakeNotifier()
	cfg := fastConfig()
	cfg.Ticks = fakeTicks{last: tick.Add(25 * time.Hour), ok: true}
	c := NewOccurrenceConsumer(d, n, storagetest.NewBoltStore(t), nil, cfg)

	require.NoError(t, c.Process(ctx, types.IncidentOccurrence{MonitorEnvironmentID: "e1", ClockTickTs: tick.Unix()}))
	assert.Equal(t, 1, n.count())
}

func TestOccurrenceConsumerPendingCancelled(t *testing.T) {
	n := newFakeNotifier()
	c := NewOccurrenceConsumer(NewStaticDetector(types.AnomalyNormal), n, storagetest.NewBoltStore(t), nil, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Process(ctx, types.IncidentOccurrence{MonitorEnvironmentID: "e1", ClockTickTs: tick.Unix()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n.count())
}

func TestOccurrenceConsumerNotifyError(t *testing.T) {
	d := NewStaticDetector(types.AnomalyNormal)
	_, _ = d.Evaluate(context.Background(), tick)
	n := newFakeNotifier()
	n.err = errors.New("unavailable")
	c := NewOccurrenceConsumer(d, n, storagetest.NewBoltStore(t), nil, fastConfig())

	err := c.Process(context.Background(), types.IncidentOccurrence{MonitorEnvironmentID: "e1", ClockTickTs: tick.Unix()})
	assert.ErrorIs(t, err, n.err)
}

func TestOccurrenceConsumerHandle(t *testing.T) {
	d := NewStaticDetector(types.AnomalyNormal)
	_, _ = d.Evaluate(context.Background(), tick)
	n := newFakeNotifier()
	c := NewOccurrenceConsumer(d, n, storagetest.NewBoltStore(t), nil, fastConfig())

	err := c.Handle(context.Background(), msglog.Message{Value: []byte("{")})
	assert.Error(t, err)

	err = c.Handle(context.Background(), msglog.Message{
		Value: []byte(`{"incident_id":"i1","monitor_environment_id":"e1","failed_checkin_id":"c1","previous_checkin_ids":["c1"],"received_ts":0,"clock_tick_ts":` + strconv.FormatInt(tick.Unix(), 10) + `}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n.count())
}

func TestDecisionTime(t *testing.T) {
	assert.Equal(t, tick, decisionTime(types.IncidentOccurrence{ClockTickTs: tick.Unix()}))
	assert.Equal(t, tick, decisionTime(types.IncidentOccurrence{ReceivedTs: tick.Add(-30 * time.Second).Unix()}))
	assert.Equal(t, tick.Add(time.Minute), decisionTime(types.IncidentOccurrence{ReceivedTs: tick.Unix()}))
}
