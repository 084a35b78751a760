// Package events provides a best-effort fan-out broker for observing a
// running simulation from the outside: host and compute-service lifecycle,
// job and file-copy outcomes. It is independent of the actor/mailbox system
// every other manager uses — subscribers are plain Go channels, meant for a
// CLI progress view, a test assertion, or an external dashboard, not for
// driving simulation logic.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventHostJoined             EventType = "host.joined"
	EventComputeServiceStarted  EventType = "compute_service.started"
	EventComputeServiceStopped  EventType = "compute_service.stopped"
	EventStorageServiceAttached EventType = "storage_service.attached"
	EventJobSubmitted           EventType = "job.submitted"
	EventJobCompleted           EventType = "job.completed"
	EventJobFailed              EventType = "job.failed"
	EventFileCopyCompleted      EventType = "file_copy.completed"
	EventFileCopyFailed         EventType = "file_copy.failed"
)

// Event represents one occurrence an observer outside the simulation might
// care about. Timestamp is wall-clock time the event was published, not
// simulated time; callers that want simulated time attach it via Metadata
// (key "sim_time").
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Main buffer full: drop rather than block the publisher.
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
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
