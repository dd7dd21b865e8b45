package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/tickr/pkg/events"
	"github.com/cuemby/tickr/pkg/msglog"
	"github.com/cuemby/tickr/pkg/types"
)

// Emitter publishes the side effects of committed transitions: incident
// occurrences go to the occurrence topic keyed by environment, lifecycle
// changes go to the event broker.
type Emitter struct {
	producer msglog.Producer
	topic    string
	broker   *events.Broker
}

// NewEmitter creates an emitter. broker may be nil.
func NewEmitter(producer msglog.Producer, topic string, broker *events.Broker) *Emitter {
	return &Emitter{producer: producer, topic: topic, broker: broker}
}

// Emit produces the occurrences of out and publishes its incident events
func (e *Emitter) Emit(ctx context.Context, out *Outcome) error {
	if out == nil {
		return nil
	}
	if out.Opened != nil {
		e.publish(ctx, events.EventIncidentOpened, out.Opened.MonitorEnvironmentID, map[string]string{
			"incident_id":         out.Opened.ID,
			"starting_checkin_id": out.Opened.StartingCheckInID,
		})
	}
	if out.Resolved != nil {
		e.publish(ctx, events.EventIncidentResolved, out.Resolved.MonitorEnvironmentID, map[string]string{
			"incident_id":          out.Resolved.ID,
			"resolving_checkin_id": out.Resolved.ResolvingCheckInID,
		})
	}
	for _, occ := range out.Occurrences {
		data, err := json.Marshal(occ)
		if err != nil {
			return err
		}
		if err := e.producer.Produce(ctx, e.topic, occ.MonitorEnvironmentID, data); err != nil {
			return fmt.Errorf("failed to produce occurrence for %s: %w", occ.MonitorEnvironmentID, err)
		}
	}
	return nil
}

// CheckInMarked publishes the transition of a check-in to a terminal status
func (e *Emitter) CheckInMarked(ctx context.Context, checkin *types.CheckIn) {
	var typ events.EventType
	switch checkin.Status {
	case types.CheckInMissed:
		typ = events.EventCheckInMissed
	case types.CheckInTimeout:
		typ = events.EventCheckInTimeout
	case types.CheckInUnknown:
		typ = events.EventCheckInUnknown
	default:
		return
	}
	e.publish(ctx, typ, checkin.MonitorEnvironmentID, map[string]string{"checkin_id": checkin.ID})
}

func (e *Emitter) publish(ctx context.Context, typ events.EventType, envID string, meta map[string]string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(ctx, &events.Event{
		Type:                 typ,
		MonitorEnvironmentID: envID,
		Metadata:             meta,
	})
}
