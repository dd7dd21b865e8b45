package incidents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/tickr/pkg/log"
	"github.com/cuemby/tickr/pkg/types"
)

// VolumeConfig tunes the volume detector
type VolumeConfig struct {
	// Prefix namespaces the Redis keys
	Prefix string

	// Window is the number of minutes the current minute is compared to
	Window int

	// DropThreshold is the relative drop below the window mean that marks
	// a minute abnormal, e.g. 0.5 for a 50% drop
	DropThreshold float64

	// MinVolume is the mean below which no minute is ever abnormal
	MinVolume int64
}

func (c *VolumeConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "tickr:volume"
	}
	if c.Window < 1 {
		c.Window = 30
	}
	if c.DropThreshold <= 0 || c.DropThreshold >= 1 {
		c.DropThreshold = 0.5
	}
}

// VolumeDetector flags clock ticks whose preceding minute saw far fewer
// check-ins than the minutes before it. Such a drop points at lost data
// upstream rather than at failing jobs.
//
// Counters live in Redis so every ingest consumer contributes to the same
// minute buckets.
type VolumeDetector struct {
	rdb    redis.Cmdable
	cfg    VolumeConfig
	logger zerolog.Logger
}

// NewVolumeDetector creates a detector storing its state in rdb
func NewVolumeDetector(rdb redis.Cmdable, cfg VolumeConfig) *VolumeDetector {
	cfg.setDefaults()
	return &VolumeDetector{
		rdb:    rdb,
		cfg:    cfg,
		logger: log.WithComponent("incidents"),
	}
}

func (d *VolumeDetector) volumeKey(minute time.Time) string {
	return fmt.Sprintf("%s:count:%d", d.cfg.Prefix, minute.Unix())
}

func (d *VolumeDetector) decisionKey(minute time.Time) string {
	return fmt.Sprintf("%s:decision:%d", d.cfg.Prefix, minute.Unix())
}

func (d *VolumeDetector) volumeTTL() time.Duration {
	return time.Duration(d.cfg.Window+2) * time.Minute
}

// decisionTTL outlives any realistic consumer lag. Occurrences whose
// decision expired anyway are resolved by OccurrenceConsumer.
func (d *VolumeDetector) decisionTTL() time.Duration {
	return max(24*time.Hour, 2*time.Duration(d.cfg.Window)*time.Minute)
}

// RecordVolume counts one check-in received at ts
func (d *VolumeDetector) RecordVolume(ctx context.Context, ts time.Time) error {
	key := d.volumeKey(ts.Truncate(time.Minute))
	pipe := d.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, d.volumeTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record volume: %w", err)
	}
	return nil
}

// Evaluate classifies the tick at ts by the volume of the minute before it
// and stores the decision for Classify
func (d *VolumeDetector) Evaluate(ctx context.Context, ts time.Time) (types.AnomalyResult, error) {
	tick := ts.Truncate(time.Minute)
	keys := make([]string, 0, d.cfg.Window+1)
	for i := 1; i <= d.cfg.Window+1; i++ {
		keys = append(keys, d.volumeKey(tick.Add(-time.Duration(i)*time.Minute)))
	}

	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read volume: %w", err)
	}
	current := parseCount(vals[0])

	var (
		sum     int64
		samples int
	)
	for _, v := range vals[1:] {
		if v == nil {
			continue
		}
		sum += parseCount(v)
		samples++
	}

	result := types.AnomalyNormal
	if samples >= (d.cfg.Window+1)/2 {
		mean := float64(sum) / float64(samples)
		if mean >= float64(d.cfg.MinVolume) && float64(current) < mean*(1-d.cfg.DropThreshold) {
			result = types.AnomalyAbnormal
			d.logger.Warn().
				Time("tick", tick).
				Int64("volume", current).
				Float64("mean", mean).
				Msg("Check-in volume dropped, tick marked abnormal")
		}
	}

	if err := d.Record(ctx, tick, result); err != nil {
		return "", err
	}
	return result, nil
}

// Record stores result as the decision for the tick at ts
func (d *VolumeDetector) Record(ctx context.Context, ts time.Time, result types.AnomalyResult) error {
	key := d.decisionKey(ts.Truncate(time.Minute))
	if err := d.rdb.Set(ctx, key, string(result), d.decisionTTL()).Err(); err != nil {
		return fmt.Errorf("failed to store decision: %w", err)
	}
	return nil
}

// Classify returns the stored decision for the tick at ts
func (d *VolumeDetector) Classify(ctx context.Context, ts time.Time) (Decision, error) {
	val, err := d.rdb.Get(ctx, d.decisionKey(ts.Truncate(time.Minute))).Result()
	if errors.Is(err, redis.Nil) {
		return DecisionPending, nil
	}
	if err != nil {
		return DecisionPending, fmt.Errorf("failed to read decision: %w", err)
	}
	return decisionFor(types.AnomalyResult(val)), nil
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
