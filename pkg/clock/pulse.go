package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

// PulseTask is the task reference the scheduler uses for clock pulses
const PulseTask = "monitors:clock_pulse"

// Pulse keeps the clock moving when no check-ins arrive. It produces a
// clock_pulse message to every ingest partition.
type Pulse struct {
	producer msglog.Producer
	topic    string
	now      func() time.Time
}

// NewPulse creates a pulse producing to the ingest topic
func NewPulse(producer msglog.Producer, topic string) *Pulse {
	return &Pulse{producer: producer, topic: topic, now: time.Now}
}

// Handle is the task handler for PulseTask
func (p *Pulse) Handle(ctx context.Context, _ *types.TaskActivation) error {
	data, err := json.Marshal(types.IngestMessage{Type: types.IngestClockPulse, Ts: p.now().Unix()})
	if err != nil {
		return err
	}
	for i := 0; i < p.producer.Partitions(p.topic); i++ {
		if err := p.producer.ProduceToPartition(ctx, p.topic, i, "", data); err != nil {
			return fmt.Errorf("failed to pulse partition %d: %w", i, err)
		}
	}
	return nil
}
