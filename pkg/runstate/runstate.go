package runstate

import (
	"context"
	"time"
)

// Store records the last spawn time of each task. The presence of a key is
// the claim on the current period: only the writer that creates it may
// dispatch, and it expires when the next runtime arrives.
type Store interface {
	// Set claims the run for key. It returns true only when this call created
	// the record. A false result is the expected outcome when another
	// replica claimed the period first.
	Set(ctx context.Context, key string, nextRuntime time.Time) (bool, error)

	// Read returns the last spawn time for key, or nil when the record
	// expired or never existed.
	Read(ctx context.Context, key string) (*time.Time, error)

	// ReadMany is the batched form of Read. Every requested key is present in
	// the result, with nil for misses.
	ReadMany(ctx context.Context, keys []string) (map[string]*time.Time, error)

	// Delete removes the record for key. Only used for administrative resets.
	Delete(ctx context.Context, key string) error
}

// claimTTL is the time until nextRuntime in whole seconds, at least one
func claimTTL(now, nextRuntime time.Time) time.Duration {
	secs := int64(nextRuntime.Sub(now) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
