/*
Package events provides an in-memory event broker for observing a running
simulation from the outside.

The events package implements a lightweight event bus for broadcasting
simulation lifecycle events to interested subscribers. It supports
asynchronous, best-effort event delivery, enabling loose coupling between a
Simulation's internal actors and anything outside the actor system that
wants to watch what happens: a CLI progress view, a test assertion, or a
dashboard.

# Architecture

The event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Platform Events:                           │          │
	│  │    - host.joined                            │          │
	│  │    - compute_service.started                │          │
	│  │    - compute_service.stopped                │          │
	│  │    - storage_service.attached               │          │
	│  │                                              │          │
	│  │  Job Events:                                │          │
	│  │    - job.submitted                          │          │
	│  │    - job.completed                          │          │
	│  │    - job.failed                             │          │
	│  │                                              │          │
	│  │  File-Copy Events:                          │          │
	│  │    - file_copy.completed                    │          │
	│  │    - file_copy.failed                       │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  External observers outside the actors      │          │
	│  │  Tests: assert on job/host/service lifecycle│          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier (optional)
  - Type: Event type (job.completed, host.joined, etc.)
  - Timestamp: Wall-clock time the event was published, not simulated time
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context (job_id, host, cause)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

Publishers: pkg/simulation publishes host, compute-service, and
storage-service lifecycle events; pkg/jobmanager publishes job submission,
completion, and failure events; pkg/datamovement publishes file-copy
completion and failure events. pkg/jobmanager and pkg/datamovement take an
events.Broker through SetBroker and skip publication if none is attached;
pkg/simulation creates and starts its own broker in New.

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber channel returned
 5. Subscriber receives events via channel
 6. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed
 4. Subscriber stops receiving events

# Usage

Creating and Starting a Broker:

	import "github.com/wrenchsim/wrenchsim/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

A running Simulation already owns one:

	sim := simulation.New(simulation.Config{})
	sub := sim.Events().Subscribe()
	defer sim.Events().Unsubscribe(sub)

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Filtering Events by Type:

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventJobCompleted:
				handleJobCompleted(event)
			case events.EventJobFailed:
				handleJobFailed(event)
			default:
				// Ignore other events
			}
		}
	}()

Complete Example:

	package main

	import (
		"fmt"
		"time"
		"github.com/wrenchsim/wrenchsim/pkg/events"
	)

	func main() {
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)

		go func() {
			for event := range sub {
				fmt.Printf("[%s] %s: %s\n",
					event.Timestamp.Format("15:04:05"),
					event.Type,
					event.Message)
			}
		}()

		broker.Publish(&events.Event{
			Type:     events.EventJobCompleted,
			Message:  "job completed",
			Metadata: map[string]string{"job_id": "job-17"},
		})

		broker.Publish(&events.Event{
			Type:    events.EventJobFailed,
			Message: "job failed: not enough idle cores",
			Metadata: map[string]string{
				"job_id": "job-18",
				"cause":  "not enough idle cores",
			},
		})

		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/simulation: publishes host/compute-service/storage-service lifecycle
  - pkg/jobmanager: publishes job submission, completion, and failure
  - pkg/datamovement: publishes file-copy completion and failure
  - cmd/wrenchsim: a future --watch flag could subscribe for CLI output

# Event Types Catalog

Platform Events:

EventHostJoined:
  - Published when: a host is added to the platform description
  - Metadata: host

EventComputeServiceStarted / EventComputeServiceStopped:
  - Published when: a compute service is registered with / stopped by the
    simulation
  - Metadata: service

EventStorageServiceAttached:
  - Published when: a storage service is registered with the simulation
  - Metadata: storage_service

Job Events:

EventJobSubmitted:
  - Published when: a standard, pilot, or batch job is accepted by a
    compute service
  - Metadata: job_id

EventJobCompleted:
  - Published when: a job reaches a successful terminal state (including
    pilot-job expiry, which is not a failure)
  - Metadata: job_id

EventJobFailed:
  - Published when: a job reaches a failed terminal state
  - Metadata: job_id, cause

File-Copy Events:

EventFileCopyCompleted / EventFileCopyFailed:
  - Published when: an asynchronous file copy submitted through the data
    movement manager finishes
  - Metadata: file_id, cause (failed only)

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for observation, not for driving simulation logic

Optional Attachment:
  - Publishers hold a broker reference that may be nil
  - A nil broker means publication is a no-op, not an error
  - Lets unit tests construct a jobmanager/datamovement manager without
    wiring a broker at all

# Troubleshooting

Events Not Received:
  - Check: broker.Start() called
  - Check: event type matches subscriber filter
  - Check: subscriber goroutine running

Events Dropped:
  - Cause: subscriber buffer full (slow processing)
  - Check: SubscriberCount() and event rate
  - Solution: process events faster, or widen the filter upstream

Memory Leak:
  - Cause: subscribers not unsubscribed
  - Check: SubscriberCount() grows over a long run
  - Solution: always defer broker.Unsubscribe(sub)

# Limitations

  - In-memory only, no persistence or replay
  - No guaranteed delivery (best effort)
  - No topic-based filtering; all events broadcast to every subscriber
  - No ordering guarantees across subscribers

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in a goroutine
  - Filter events by type at the subscriber
  - Start the broker before publishing events

Don't:
  - Block in a subscriber's event loop
  - Publish events before broker.Start()
  - Forget to unsubscribe (causes leaks)
  - Rely on event delivery for correctness-critical logic

# See Also

  - pkg/simulation for the owning Simulation.Events() accessor
  - pkg/jobmanager and pkg/datamovement for publishers
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
