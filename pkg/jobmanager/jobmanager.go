// Package jobmanager implements the JobManager of §4.7: a client-side job
// factory, submission/cancellation proxy, and completion-event
// demultiplexer that lives alongside the workflow manager. It is the only
// thing the workflow manager talks to about jobs — it never addresses a
// compute service's mailbox directly.
package jobmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/events"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/metrics"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// BatchSubmitter is the subset of the batch compute service's API the job
// manager needs; kept narrow so tests can fake it without pulling in the
// full pkg/batch package.
type BatchSubmitter interface {
	SubmitBatchJob(bj *job.BatchJob, submitterMailbox string) error
	TerminateBatchJob(jobID string) error
}

// EventKind tags the unified execution-event stream the job manager
// delivers to the workflow manager (§4.7: "translates service-emitted
// messages ... into a unified execution-event stream").
type EventKind string

const (
	EventStandardJobDone    EventKind = "STANDARD_JOB_DONE"
	EventStandardJobFailed  EventKind = "STANDARD_JOB_FAILED"
	EventPilotJobStarted    EventKind = "PILOT_JOB_STARTED"
	EventPilotJobExpired    EventKind = "PILOT_JOB_EXPIRED"
	EventPilotJobFailed     EventKind = "PILOT_JOB_FAILED"
)

// Event is one demultiplexed occurrence, forwarded verbatim to the
// workflow-manager mailbox.
type Event struct {
	Kind            EventKind
	JobID           string
	NestedServiceID string
	Cause           *failure.Cause
}

func (e Event) PayloadSize() int64 { return 256 }

// trackedJob remembers what a job manager needs to route a terminate
// request and to clean up tracking once a job reaches a terminal state.
type trackedJob struct {
	standard *job.StandardJob
	pilot    *job.PilotJob
	batch    *job.BatchJob

	service      compute.Service // nil for a batch submission
	batchService BatchSubmitter  // nil for a non-batch submission
}

// JobManager is the actor described in §4.7. Its mailbox is the
// AnswerMailbox every job it submits is told to reply to; its run loop is
// the event demultiplexer.
type JobManager struct {
	name            string
	workflowMailbox actor.Name
	clock           *simclock.Clock
	sys             *actor.System
	logger          zerolog.Logger
	broker          *events.Broker

	mu      sync.Mutex
	jobs    map[string]*trackedJob
	stopped bool
}

// SetBroker attaches an event broker jobs are published to as they complete
// or fail. Optional: a job manager with no broker attached simply skips
// publication.
func (m *JobManager) SetBroker(b *events.Broker) { m.broker = b }

func (m *JobManager) publish(evType events.EventType, jobID string, cause *failure.Cause) {
	if m.broker == nil {
		return
	}
	meta := map[string]string{"job_id": jobID}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	m.broker.Publish(&events.Event{Type: evType, Message: string(evType), Metadata: meta})
}

// New builds a job manager addressed at `name`, forwarding its
// demultiplexed events to workflowMailbox.
func New(name string, workflowMailbox actor.Name, clock *simclock.Clock, sys *actor.System) *JobManager {
	return &JobManager{
		name:            name,
		workflowMailbox: workflowMailbox,
		clock:           clock,
		sys:             sys,
		logger:          log.WithComponent("jobmanager").With().Str("name", name).Logger(),
		jobs:            make(map[string]*trackedJob),
	}
}

// Start spawns the job manager's receive loop on host.
func (m *JobManager) Start(host string) *actor.Handle {
	return m.sys.Spawn(host, m.name, m.run)
}

func (m *JobManager) mailboxName() actor.Name { return actor.Name(m.name) }

func (m *JobManager) run(ctx context.Context, mb *actor.Mailbox) {
	for {
		msg, err := actor.Recv(ctx, m.clock, mb, 0)
		if err != nil {
			return
		}
		switch ev := msg.(type) {
		case messages.StandardJobDone:
			m.handleStandardDone(ctx, ev)
		case messages.StandardJobFailed:
			m.handleStandardFailed(ctx, ev)
		case messages.PilotJobStarted:
			m.handlePilotStarted(ctx, ev)
		case messages.PilotJobExpired:
			m.handlePilotExpired(ctx, ev)
		case messages.PilotJobFailed:
			m.handlePilotFailed(ctx, ev)
		case messages.StopService:
			m.handleStop(ctx, ev)
			return
		}
	}
}

// CreateStandardJob builds a NOT_SUBMITTED standard job from a task set,
// file placement and optional staging copies (§4.7: createStandardJob).
func (m *JobManager) CreateStandardJob(tasks []*workflow.Task, locations map[string]job.FileLocation, pre, post []job.FileCopy) *job.StandardJob {
	return job.NewStandardJob(tasks, locations, pre, post)
}

// CreatePilotJob builds a NOT_SUBMITTED pilot-job lease request (§4.7:
// createPilotJob).
func (m *JobManager) CreatePilotJob(hosts, cores int, ram int64, duration float64) *job.PilotJob {
	return job.NewPilotJob(hosts, cores, ram, duration)
}

// SubmitStandardJob sends sj to svc, tracking the submission so later
// completion/failure events and terminate requests can be routed back.
func (m *JobManager) SubmitStandardJob(sj *job.StandardJob, svc compute.Service) error {
	if !svc.SupportsJobType(true) {
		metrics.JobsSubmitRejectedTotal.WithLabelValues("standard").Inc()
		return failure.New(failure.JobTypeNotSupported, "service %s does not accept standard jobs", svc.Name())
	}
	timer := metrics.NewTimer()
	if err := svc.SubmitStandardJob(sj, m.name); err != nil {
		metrics.JobsSubmitRejectedTotal.WithLabelValues("standard").Inc()
		return err
	}
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.JobsSubmittedTotal.WithLabelValues("standard").Inc()
	m.track(sj.ID, &trackedJob{standard: sj, service: svc})
	m.publish(events.EventJobSubmitted, sj.ID, nil)
	return nil
}

// SubmitPilotJob sends pj to svc.
func (m *JobManager) SubmitPilotJob(pj *job.PilotJob, svc compute.Service) error {
	if !svc.SupportsJobType(false) {
		metrics.JobsSubmitRejectedTotal.WithLabelValues("pilot").Inc()
		return failure.New(failure.JobTypeNotSupported, "service %s does not accept pilot jobs", svc.Name())
	}
	timer := metrics.NewTimer()
	if err := svc.SubmitPilotJob(pj, m.name); err != nil {
		metrics.JobsSubmitRejectedTotal.WithLabelValues("pilot").Inc()
		return err
	}
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.JobsSubmittedTotal.WithLabelValues("pilot").Inc()
	m.track(pj.ID, &trackedJob{pilot: pj, service: svc})
	m.publish(events.EventJobSubmitted, pj.ID, nil)
	return nil
}

// SubmitBatchJob sends a BatchJob (carrying its own service-specific
// -N/-c/-t arguments) to a batch compute service (§4.7: submitJob's
// "service_specific_args?", generalized as fields already present on
// job.BatchJob rather than a side channel).
func (m *JobManager) SubmitBatchJob(bj *job.BatchJob, svc BatchSubmitter) error {
	timer := metrics.NewTimer()
	if err := svc.SubmitBatchJob(bj, m.name); err != nil {
		metrics.JobsSubmitRejectedTotal.WithLabelValues("batch").Inc()
		return err
	}
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.JobsSubmittedTotal.WithLabelValues("batch").Inc()
	m.track(bj.ID, &trackedJob{batch: bj, batchService: svc})
	m.publish(events.EventJobSubmitted, bj.ID, nil)
	return nil
}

func (m *JobManager) track(id string, t *trackedJob) {
	m.mu.Lock()
	m.jobs[id] = t
	m.mu.Unlock()
}

// TerminateJob requests early termination of a tracked job. Per §4.7 the
// job ends TERMINATED whether or not it had started: this call routes the
// request to the owning service and then marks the standard, pilot, or
// batch-wrapped job TERMINATED itself. Terminal states are sticky, so a
// later failure report from the service does not change it.
func (m *JobManager) TerminateJob(jobID string) error {
	m.mu.Lock()
	t, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("jobmanager: unknown job %s", jobID)
	}

	switch {
	case t.standard != nil:
		if err := t.service.TerminateStandardJob(jobID); err != nil {
			return err
		}
		t.standard.MarkTerminated()
	case t.pilot != nil:
		if err := t.service.TerminatePilotJob(jobID); err != nil {
			return err
		}
		t.pilot.MarkTerminated()
	case t.batch != nil:
		if err := t.batchService.TerminateBatchJob(jobID); err != nil {
			return err
		}
		switch t.batch.Kind {
		case job.WrappedStandard:
			t.batch.Standard.MarkTerminated()
		case job.WrappedPilot:
			t.batch.Pilot.MarkTerminated()
		}
	}
	return nil
}

// ForgetJob drops tracking for a job whose outcome the caller no longer
// cares about (§4.7: forgetJob).
func (m *JobManager) ForgetJob(jobID string) {
	m.untrack(jobID)
}

func (m *JobManager) untrack(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

// handleStandardDone marks the job COMPLETED and forwards a unified event.
// A failed-but-retried task's job never reaches this path; only a whole
// job's success does.
func (m *JobManager) handleStandardDone(ctx context.Context, ev messages.StandardJobDone) {
	m.mu.Lock()
	t, ok := m.jobs[ev.JobID]
	m.mu.Unlock()

	var sj *job.StandardJob
	jobType := "standard"
	if ok {
		if t.standard != nil {
			sj = t.standard
		} else if t.batch != nil && t.batch.Kind == job.WrappedStandard {
			sj = t.batch.Standard
			jobType = "batch"
		}
	}
	if sj != nil {
		sj.MarkCompleted()
	}
	metrics.JobsCompletedTotal.WithLabelValues(jobType).Inc()
	m.untrack(ev.JobID)
	m.publish(events.EventJobCompleted, ev.JobID, nil)
	m.forward(ctx, Event{Kind: EventStandardJobDone, JobID: ev.JobID})
}

// handleStandardFailed marks the job FAILED, returns its tasks to READY per
// §4.7 ("failed standard jobs have their tasks returned to state READY,
// failure-count incremented"), and forwards a unified event.
func (m *JobManager) handleStandardFailed(ctx context.Context, ev messages.StandardJobFailed) {
	m.mu.Lock()
	t, ok := m.jobs[ev.JobID]
	m.mu.Unlock()

	var sj *job.StandardJob
	jobType := "standard"
	if ok {
		if t.standard != nil {
			sj = t.standard
		} else if t.batch != nil && t.batch.Kind == job.WrappedStandard {
			sj = t.batch.Standard
			jobType = "batch"
		}
	}
	metrics.JobsFailedTotal.WithLabelValues(jobType).Inc()
	if sj != nil {
		sj.MarkFailed(ev.Cause)
		// The executor already failed every task it didn't finish; send
		// those back to READY so the workflow can resubmit them.
		for _, task := range sj.Tasks {
			if task.State() != workflow.TaskFailed {
				continue
			}
			if err := task.Retry(); err != nil {
				m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("could not return failed task to READY")
			}
		}
	}
	m.untrack(ev.JobID)
	m.publish(events.EventJobFailed, ev.JobID, ev.Cause)
	m.forward(ctx, Event{Kind: EventStandardJobFailed, JobID: ev.JobID, Cause: ev.Cause})
}

func (m *JobManager) handlePilotStarted(ctx context.Context, ev messages.PilotJobStarted) {
	m.mu.Lock()
	t, ok := m.jobs[ev.JobID]
	m.mu.Unlock()
	if ok {
		if t.pilot != nil {
			t.pilot.MarkRunning(ev.NestedServiceID)
		} else if t.batch != nil && t.batch.Kind == job.WrappedPilot {
			t.batch.Pilot.MarkRunning(ev.NestedServiceID)
		}
	}
	m.forward(ctx, Event{Kind: EventPilotJobStarted, JobID: ev.JobID, NestedServiceID: ev.NestedServiceID})
}

func (m *JobManager) handlePilotExpired(ctx context.Context, ev messages.PilotJobExpired) {
	m.mu.Lock()
	t, ok := m.jobs[ev.JobID]
	m.mu.Unlock()
	jobType := "pilot"
	if ok {
		if t.pilot != nil {
			t.pilot.MarkExpired()
		} else if t.batch != nil && t.batch.Kind == job.WrappedPilot {
			t.batch.Pilot.MarkExpired()
			jobType = "batch"
		}
	}
	metrics.JobsCompletedTotal.WithLabelValues(jobType).Inc()
	m.untrack(ev.JobID)
	m.publish(events.EventJobCompleted, ev.JobID, nil)
	m.forward(ctx, Event{Kind: EventPilotJobExpired, JobID: ev.JobID})
}

func (m *JobManager) handlePilotFailed(ctx context.Context, ev messages.PilotJobFailed) {
	m.mu.Lock()
	t, ok := m.jobs[ev.JobID]
	m.mu.Unlock()
	jobType := "pilot"
	if ok {
		if t.pilot != nil {
			t.pilot.MarkFailed(ev.Cause)
		} else if t.batch != nil && t.batch.Kind == job.WrappedPilot {
			t.batch.Pilot.MarkFailed(ev.Cause)
			jobType = "batch"
		}
	}
	metrics.JobsFailedTotal.WithLabelValues(jobType).Inc()
	m.untrack(ev.JobID)
	m.publish(events.EventJobFailed, ev.JobID, ev.Cause)
	m.forward(ctx, Event{Kind: EventPilotJobFailed, JobID: ev.JobID, Cause: ev.Cause})
}

func (m *JobManager) forward(ctx context.Context, ev Event) {
	if err := m.sys.Send(ctx, m.workflowMailbox, ev); err != nil {
		m.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("could not deliver execution event to workflow manager")
	}
}

func (m *JobManager) handleStop(ctx context.Context, msg messages.StopService) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	if msg.AnswerMailbox != "" {
		if err := m.sys.Send(ctx, actor.Name(msg.AnswerMailbox), messages.StoppedAck{}); err != nil {
			m.logger.Warn().Err(err).Msg("could not deliver StoppedAck")
		}
	}
}

// Stop requests the job manager's receive loop to end.
func (m *JobManager) Stop() {
	_ = m.sys.DSend(context.Background(), m.mailboxName(), messages.StopService{})
}
