package incidents

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tickr/pkg/types"
)

// Decision classifies one clock tick
type Decision string

const (
	DecisionNormal   Decision = "normal"
	DecisionAbnormal Decision = "abnormal"

	// DecisionPending means the tick has not been evaluated yet. Callers
	// must wait and ask again rather than assume either outcome.
	DecisionPending Decision = "pending"
)

// Detector classifies clock ticks as normal or abnormal
type Detector interface {
	Classify(ctx context.Context, ts time.Time) (Decision, error)
}

// VolumeTracker counts ingested check-ins and evaluates each tick.
// Record stores the decision a tick was dispatched with when Evaluate could
// not produce one.
type VolumeTracker interface {
	RecordVolume(ctx context.Context, ts time.Time) error
	Evaluate(ctx context.Context, ts time.Time) (types.AnomalyResult, error)
	Record(ctx context.Context, ts time.Time, result types.AnomalyResult) error
}

// TickSource reports the last clock tick that was dispatched
type TickSource interface {
	LastTick(ctx context.Context) (time.Time, bool, error)
}

func decisionFor(result types.AnomalyResult) Decision {
	if result == types.AnomalyAbnormal {
		return DecisionAbnormal
	}
	return DecisionNormal
}

// StaticDetector returns a fixed result for every evaluated tick. Ticks
// that were never evaluated stay pending.
type StaticDetector struct {
	mu        sync.Mutex
	result    types.AnomalyResult
	evaluated map[int64]types.AnomalyResult
	volume    map[int64]int64
}

// NewStaticDetector creates a detector reporting result for every tick
func NewStaticDetector(result types.AnomalyResult) *StaticDetector {
	return &StaticDetector{
		result:    result,
		evaluated: make(map[int64]types.AnomalyResult),
		volume:    make(map[int64]int64),
	}
}

// SetResult changes the result of future evaluations
func (d *StaticDetector) SetResult(result types.AnomalyResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.result = result
}

func (d *StaticDetector) RecordVolume(_ context.Context, ts time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume[ts.Truncate(time.Minute).Unix()]++
	return nil
}

// Volume returns the number of check-ins recorded for the minute of ts
func (d *StaticDetector) Volume(ts time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume[ts.Truncate(time.Minute).Unix()]
}

func (d *StaticDetector) Evaluate(_ context.Context, ts time.Time) (types.AnomalyResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluated[ts.Truncate(time.Minute).Unix()] = d.result
	return d.result, nil
}

func (d *StaticDetector) Record(_ context.Context, ts time.Time, result types.AnomalyResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluated[ts.Truncate(time.Minute).Unix()] = result
	return nil
}

func (d *StaticDetector) Classify(_ context.Context, ts time.Time) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	result, ok := d.evaluated[ts.Truncate(time.Minute).Unix()]
	if !ok {
		return DecisionPending, nil
	}
	return decisionFor(result), nil
}

// NormalDetector classifies every tick as normal. It stands in for the
// volume detector when anomaly detection is turned off.
type NormalDetector struct{}

func (NormalDetector) Classify(context.Context, time.Time) (Decision, error) {
	return DecisionNormal, nil
}
