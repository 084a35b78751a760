// Package datamovement implements the DataMovementManager of §4.8: a
// helper actor, co-located with the workflow manager, that submits
// asynchronous file copies between storage services and forwards their
// completion back as a unified event stream.
package datamovement

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/events"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/metrics"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// EventKind tags the completion events a Manager forwards to the workflow
// mailbox.
type EventKind string

const (
	EventFileCopyDone   EventKind = "FILE_COPY_DONE"
	EventFileCopyFailed EventKind = "FILE_COPY_FAILED"
)

// Event is one demultiplexed file-copy outcome.
type Event struct {
	Kind   EventKind
	FileID string
	Cause  *failure.Cause
}

func (e Event) PayloadSize() int64 { return 256 }

// Manager is the actor described in §4.8. submitFileCopy is a direct call
// (the caller already holds a reference to both storage services), not a
// mailbox message; the actor's own mailbox receives only its stop request
// and the private completion notices its copy goroutines send back to it.
type Manager struct {
	name            string
	workflowMailbox actor.Name
	clock           *simclock.Clock
	sys             *actor.System
	logger          zerolog.Logger
	broker          *events.Broker

	mu      sync.Mutex
	stopped bool
}

// SetBroker attaches an event broker file-copy outcomes are published to.
// Optional: a manager with no broker attached simply skips publication.
func (m *Manager) SetBroker(b *events.Broker) { m.broker = b }

// New builds a data movement manager addressed at name, forwarding
// completion events to workflowMailbox.
func New(name string, workflowMailbox actor.Name, clock *simclock.Clock, sys *actor.System) *Manager {
	return &Manager{
		name:            name,
		workflowMailbox: workflowMailbox,
		clock:           clock,
		sys:             sys,
		logger:          log.WithComponent("datamovement").With().Str("name", name).Logger(),
	}
}

// Start spawns the manager's receive loop on host.
func (m *Manager) Start(host string) *actor.Handle {
	return m.sys.Spawn(host, m.name, m.run)
}

func (m *Manager) mailboxName() actor.Name { return actor.Name(m.name) }

func (m *Manager) run(ctx context.Context, mb *actor.Mailbox) {
	for {
		msg, err := actor.Recv(ctx, m.clock, mb, 0)
		if err != nil {
			return
		}
		switch ev := msg.(type) {
		case messages.FileCopyDone:
			m.forward(ctx, Event{Kind: EventFileCopyDone, FileID: ev.FileID})
		case messages.FileCopyFailed:
			m.forward(ctx, Event{Kind: EventFileCopyFailed, FileID: ev.FileID, Cause: ev.Cause})
		case messages.StopService:
			m.handleStop(ctx, ev)
			return
		}
	}
}

// SubmitFileCopy asynchronously copies file from src:srcMountPoint to
// dst:dstMountPoint (§4.8: submitFileCopy), reporting completion to the
// workflow mailbox. Concurrency is unbounded at this layer — the storage
// services enforce their own backpressure (capacity checks, serialized
// access per mount point).
func (m *Manager) SubmitFileCopy(ctx context.Context, file *workflow.File, src storageservice.Service, srcMountPoint string, dst storageservice.Service, dstMountPoint string) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		m.logger.Warn().Str("file_id", file.ID).Msg("file copy submitted after stop, dropping")
		return
	}

	m.clock.RegisterActor()
	go func() {
		defer m.clock.UnregisterActor()
		err := dst.CopyFile(ctx, file, src, srcMountPoint, dstMountPoint)
		var reply actor.Message
		if err != nil {
			reply = messages.FileCopyFailed{FileID: file.ID, Cause: asCause(err)}
		} else {
			reply = messages.FileCopyDone{FileID: file.ID}
		}
		if sendErr := m.sys.Send(ctx, m.mailboxName(), reply); sendErr != nil {
			m.logger.Warn().Err(sendErr).Str("file_id", file.ID).Msg("could not deliver copy completion to data movement manager")
		}
	}()
}

func asCause(err error) *failure.Cause {
	if cause, ok := err.(*failure.Cause); ok {
		return cause
	}
	return failure.New(failure.FatalFailure, "%s", err.Error())
}

func (m *Manager) forward(ctx context.Context, ev Event) {
	status := "done"
	evType := events.EventFileCopyCompleted
	if ev.Kind == EventFileCopyFailed {
		status = "failed"
		evType = events.EventFileCopyFailed
	}
	metrics.FileCopiesTotal.WithLabelValues(status).Inc()
	if m.broker != nil {
		meta := map[string]string{"file_id": ev.FileID}
		if ev.Cause != nil {
			meta["cause"] = ev.Cause.Error()
		}
		m.broker.Publish(&events.Event{Type: evType, Message: string(evType), Metadata: meta})
	}
	if err := m.sys.Send(ctx, m.workflowMailbox, ev); err != nil {
		m.logger.Warn().Err(err).Str("file_id", ev.FileID).Msg("could not deliver file-copy event to workflow manager")
	}
}

func (m *Manager) handleStop(ctx context.Context, msg messages.StopService) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if msg.AnswerMailbox != "" {
		if err := m.sys.Send(ctx, actor.Name(msg.AnswerMailbox), messages.StoppedAck{}); err != nil {
			m.logger.Warn().Err(err).Msg("could not deliver StoppedAck")
		}
	}
}

// Stop requests the manager's receive loop to end.
func (m *Manager) Stop() {
	_ = m.sys.DSend(context.Background(), m.mailboxName(), messages.StopService{})
}
