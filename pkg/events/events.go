package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/tickr/pkg/metrics"
)

// EventType names a monitor state change
type EventType string

const (
	EventCheckInMissed      EventType = "checkin.missed"
	EventCheckInTimeout     EventType = "checkin.timeout"
	EventCheckInUnknown     EventType = "checkin.unknown"
	EventIncidentOpened     EventType = "incident.opened"
	EventIncidentResolved   EventType = "incident.resolved"
	EventIncidentOccurrence EventType = "incident.occurrence"
)

const (
	publishBuffer    = 100
	subscriberBuffer = 50
)

// Event is one monitor state change
type Event struct {
	ID                   string            `json:"id"`
	Type                 EventType         `json:"type"`
	Timestamp            time.Time         `json:"timestamp"`
	MonitorEnvironmentID string            `json:"monitor_environment_id,omitempty"`
	Message              string            `json:"message,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives events. It is closed by Unsubscribe.
type Subscriber chan *Event

// Broker fans events out to subscribers. Slow subscribers lose events
// rather than stall publishers; losses are counted in
// tickr_events_dropped_total.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		eventCh:     make(chan *Event, publishBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the distribution loop in the background
func (b *Broker) Start() {
	go b.run()
}

// Stop ends the distribution loop. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub. Unknown subscribers are ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues event for delivery, filling in its ID and timestamp. It
// blocks while the queue is full and gives up when the broker stops or ctx
// is done.
func (b *Broker) Publish(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	case <-ctx.Done():
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
