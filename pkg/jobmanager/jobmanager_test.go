package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/events"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

func newHarness(t *testing.T) (*simclock.Clock, *actor.System, *actor.Mailbox, *compute.Registry) {
	t.Helper()
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := compute.NewRegistry()
	workflowMB := sys.Register("workflow")
	clock.RegisterActor()
	t.Cleanup(clock.UnregisterActor)
	return clock, sys, workflowMB, registry
}

func newSingleHostMulticore(t *testing.T, clock *simclock.Clock, sys *actor.System, registry *compute.Registry) compute.Service {
	t.Helper()
	svc := compute.NewMulticore(compute.Config{
		Name:             "multicore-1",
		Host:             "h0",
		Cores:            2,
		RAM:              1 << 30,
		CoreFlopRate:     1e9,
		SupportsStandard: true,
		SupportsPilot:    true,
		Properties:       executor.Properties{CoreAllocationPolicy: executor.Aggressive},
		Storage:          map[string]storageservice.Service{},
	}, clock, sys, registry)
	svc.Start()
	return svc
}

// TestJobManagerDemultiplexesCompletion confirms a successful standard job
// ends up COMPLETED and produces a single EventStandardJobDone on the
// workflow mailbox.
func TestJobManagerDemultiplexesCompletion(t *testing.T) {
	clock, sys, workflowMB, registry := newHarness(t)
	svc := newSingleHostMulticore(t, clock, sys, registry)

	jm := New("jm-1", workflowMB.Name(), clock, sys)
	jm.Start("h0")

	task := workflow.NewTask("t1", 1e9, 1, 1)
	sj := jm.CreateStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, jm.SubmitStandardJob(sj, svc))
	assert.Equal(t, job.StandardPending, sj.State())

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventStandardJobDone, ev.Kind)
	assert.Equal(t, sj.ID, ev.JobID)
	assert.Equal(t, job.StandardCompleted, sj.State())
}

// TestJobManagerRejectsUnsatisfiableJob checks that a job whose minimum
// core need exceeds the service's entire capacity is failed immediately
// rather than queued forever.
func TestJobManagerRejectsUnsatisfiableJob(t *testing.T) {
	clock, sys, workflowMB, registry := newHarness(t)
	svc := newSingleHostMulticore(t, clock, sys, registry)

	jm := New("jm-2", workflowMB.Name(), clock, sys)
	jm.Start("h0")

	task := workflow.NewTask("t-too-big", 1e9, 4, 4) // host only has 2 cores
	sj := jm.CreateStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, jm.SubmitStandardJob(sj, svc))

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventStandardJobFailed, ev.Kind)
	require.NotNil(t, ev.Cause)
	assert.Equal(t, failure.NotEnoughResources, ev.Cause.Kind)
	assert.Equal(t, job.StandardFailed, sj.State())
}

// TestJobManagerReturnsFailedTasksToReady checks §4.7's retry rule: once a
// task's job fails mid-execution, the task comes back to READY with its
// failure count incremented, ready for the workflow to resubmit it.
func TestJobManagerReturnsFailedTasksToReady(t *testing.T) {
	clock, sys, workflowMB, registry := newHarness(t)
	svc := newSingleHostMulticore(t, clock, sys, registry)

	jm := New("jm-3", workflowMB.Name(), clock, sys)
	jm.Start("h0")

	task := workflow.NewTask("t-bad-efficiency", 1e9, 2, 2)
	task.Efficiency = func(int) float64 { return 0 } // forces a compute-time error
	sj := jm.CreateStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, task.MarkReady())
	require.NoError(t, jm.SubmitStandardJob(sj, svc))

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventStandardJobFailed, ev.Kind)
	require.NotNil(t, ev.Cause)
	assert.Equal(t, job.StandardFailed, sj.State())
	assert.Equal(t, workflow.TaskReady, task.State())
	assert.Equal(t, 1, task.FailureCount)
}

// TestJobManagerTerminateTracking exercises terminateJob/forgetJob against
// a pilot job terminated right after its submission.
func TestJobManagerTerminateTracking(t *testing.T) {
	clock, sys, workflowMB, registry := newHarness(t)
	svc := newSingleHostMulticore(t, clock, sys, registry)

	jm := New("jm-4", workflowMB.Name(), clock, sys)
	jm.Start("h0")

	pj := jm.CreatePilotJob(1, 2, 1<<20, 100)
	require.NoError(t, jm.SubmitPilotJob(pj, svc))
	require.NoError(t, jm.TerminateJob(pj.ID))
	assert.Equal(t, job.PilotTerminated, pj.State())

	jm.ForgetJob(pj.ID)
	assert.ErrorContains(t, jm.TerminateJob(pj.ID), "unknown job")
}

// TestJobManagerPublishesEventsWhenBrokerAttached checks that attaching a
// broker to a job manager produces submit/complete notifications alongside
// the existing workflow-mailbox event stream.
func TestJobManagerPublishesEventsWhenBrokerAttached(t *testing.T) {
	clock, sys, workflowMB, registry := newHarness(t)
	svc := newSingleHostMulticore(t, clock, sys, registry)

	jm := New("jm-5", workflowMB.Name(), clock, sys)
	jm.Start("h0")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	jm.SetBroker(broker)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	task := workflow.NewTask("t1", 1e9, 1, 1)
	sj := jm.CreateStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, jm.SubmitStandardJob(sj, svc))

	submitEv := recvEvent(t, sub)
	assert.Equal(t, events.EventJobSubmitted, submitEv.Type)
	assert.Equal(t, sj.ID, submitEv.Metadata["job_id"])

	completeEv := recvEvent(t, sub)
	assert.Equal(t, events.EventJobCompleted, completeEv.Type)
	assert.Equal(t, sj.ID, completeEv.Metadata["job_id"])
}

func recvEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
