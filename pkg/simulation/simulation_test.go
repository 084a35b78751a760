package simulation

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
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/jobmanager"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

func TestSimulationHostList(t *testing.T) {
	sim := New(Config{})
	sim.AddHost("h0", HostSpec{Cores: 4, RAM: 1 << 30, FlopRate: 1e9})
	sim.AddHost("h1", HostSpec{Cores: 8, RAM: 1 << 31, FlopRate: 2e9})

	assert.ElementsMatch(t, []string{"h0", "h1"}, sim.Hosts())
	spec, ok := sim.HostSpec("h0")
	require.True(t, ok)
	assert.Equal(t, 4, spec.Cores)

	_, ok = sim.HostSpec("missing")
	assert.False(t, ok)
}

func TestSimulationOwnsComputeServiceAndShutsItDown(t *testing.T) {
	sim := New(Config{RandSeed: 42})
	sim.AddHost("h0", HostSpec{Cores: 2, RAM: 1 << 30, FlopRate: 1e9})

	workflowMB := sim.System().Register("workflow")
	sim.Clock().RegisterActor()
	defer sim.Clock().UnregisterActor()

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
	}, sim.Clock(), sim.System(), sim.Registry())
	svc.Start()
	sim.AddComputeService(svc)

	jm, dm := sim.Launch("h0", string(workflowMB.Name()))
	require.NotNil(t, jm)
	require.NotNil(t, dm)

	task := workflow.NewTask("t1", 1e9, 1, 1)
	sj := jm.CreateStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, jm.SubmitStandardJob(sj, svc))

	msg, err := actor.Recv(context.Background(), sim.Clock(), workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(jobmanager.Event)
	require.True(t, ok)
	assert.Equal(t, jobmanager.EventStandardJobDone, ev.Kind)
	assert.Equal(t, job.StandardCompleted, sj.State())

	sim.Shutdown()
	sim.Shutdown() // idempotent
}

func TestSimulationPublishesHostAndComputeServiceEvents(t *testing.T) {
	sim := New(Config{})
	sub := sim.Events().Subscribe()
	defer sim.Events().Unsubscribe(sub)

	sim.AddHost("h0", HostSpec{Cores: 2, RAM: 1 << 30, FlopRate: 1e9})

	msg, err := recvWithTimeout(sub)
	require.NoError(t, err)
	assert.Equal(t, events.EventHostJoined, msg.Type)
	assert.Equal(t, "h0", msg.Metadata["host"])

	svc := compute.NewMulticore(compute.Config{
		Name: "multicore-1", Host: "h0", Cores: 2, RAM: 1 << 30, CoreFlopRate: 1e9,
		SupportsStandard: true,
	}, sim.Clock(), sim.System(), sim.Registry())
	svc.Start()
	sim.AddComputeService(svc)

	msg, err = recvWithTimeout(sub)
	require.NoError(t, err)
	assert.Equal(t, events.EventComputeServiceStarted, msg.Type)
	assert.Equal(t, "multicore-1", msg.Metadata["service"])
}

func recvWithTimeout(sub events.Subscriber) (*events.Event, error) {
	select {
	case ev := <-sub:
		return ev, nil
	case <-time.After(time.Second):
		return nil, context.DeadlineExceeded
	}
}
