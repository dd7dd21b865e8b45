package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/tickr/pkg/types"
)

// BrokerNotifier publishes confirmed incident occurrences on a Broker
type BrokerNotifier struct {
	broker *Broker
}

// NewBrokerNotifier creates a notifier backed by broker
func NewBrokerNotifier(broker *Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

// Notify publishes an incident.occurrence event for occ
func (n *BrokerNotifier) Notify(ctx context.Context, occ types.IncidentOccurrence) error {
	n.broker.Publish(ctx, &Event{
		Type:                 EventIncidentOccurrence,
		MonitorEnvironmentID: occ.MonitorEnvironmentID,
		Message:              fmt.Sprintf("check-in %s failed", occ.FailedCheckInID),
		Metadata: map[string]string{
			"incident_id":          occ.IncidentID,
			"failed_checkin_id":    occ.FailedCheckInID,
			"previous_checkin_ids": strings.Join(occ.PreviousCheckInIDs, ","),
			"received_ts":          strconv.FormatInt(occ.ReceivedTs, 10),
		},
	})
	return ctx.Err()
}
