package compute

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

func newTestBareMetal(t *testing.T, clock *simclock.Clock, sys *actor.System, registry *Registry, hosts []HostSpec) *BareMetal {
	t.Helper()
	return NewBareMetal(BareMetalConfig{
		Name:             "baremetal-1",
		Hosts:            hosts,
		SupportsStandard: true,
		SupportsPilot:    true,
		Properties:       executor.Properties{CoreAllocationPolicy: executor.Aggressive},
		Storage:          map[string]storageservice.Service{},
	}, clock, sys, registry)
}

// TestBareMetalSingleHostJob is S1 replayed against a multi-host fleet: a
// single-core job fits entirely on the first declared host.
func TestBareMetalSingleHostJob(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	submitter := sys.Register("submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	hosts := []HostSpec{
		{Name: "hostA", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
		{Name: "hostB", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
	}
	svc := newTestBareMetal(t, clock, sys, registry, hosts)
	svc.Start()

	task := workflow.NewTask("t1", 1e9, 1, 1)
	sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, svc.SubmitStandardJob(sj, "submitter"))

	msg, err := actor.Recv(context.Background(), clock, submitter, 0)
	require.NoError(t, err)
	_, ok := msg.(messages.StandardJobDone)
	assert.True(t, ok)
	assert.Equal(t, simclock.Time(1), clock.Now())
}

// TestBareMetalJobSpansMultipleHosts exercises a job whose minimum
// single-task need (1 core) is satisfied by the first declared host, but
// whose Aggressive allocation still pulls every idle core from every host
// into the job's allocation, spreading its 4 single-core tasks across both
// hosts so they complete in parallel instead of queueing on one.
func TestBareMetalJobSpansMultipleHosts(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	submitter := sys.Register("submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	hosts := []HostSpec{
		{Name: "hostA", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
		{Name: "hostB", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
	}
	svc := newTestBareMetal(t, clock, sys, registry, hosts)
	svc.Start()

	tasks := make([]*workflow.Task, 4)
	for i := range tasks {
		tasks[i] = workflow.NewTask(fmt.Sprintf("t%d", i), 1e9, 1, 1)
	}
	sj := job.NewStandardJob(tasks, nil, nil, nil)
	require.NoError(t, svc.SubmitStandardJob(sj, "submitter"))

	msg, err := actor.Recv(context.Background(), clock, submitter, 0)
	require.NoError(t, err)
	_, ok := msg.(messages.StandardJobDone)
	assert.True(t, ok)
	// 4 cores total across both hosts run all 4 single-core tasks at once.
	assert.Equal(t, simclock.Time(1), clock.Now())
}

// TestBareMetalPilotSpansHosts grants a 2-host pilot and runs a standard
// job against the resulting nested service.
func TestBareMetalPilotSpansHosts(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	pilotSubmitter := sys.Register("pilot-submitter")
	stdSubmitter := sys.Register("std-submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	hosts := []HostSpec{
		{Name: "hostA", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
		{Name: "hostB", Cores: 2, RAM: 1 << 30, FlopRate: 1e9},
	}
	svc := newTestBareMetal(t, clock, sys, registry, hosts)
	svc.Start()

	pj := job.NewPilotJob(2, 2, 0, 100)
	require.NoError(t, svc.SubmitPilotJob(pj, "pilot-submitter"))

	msg, err := actor.Recv(context.Background(), clock, pilotSubmitter, 0)
	require.NoError(t, err)
	started, ok := msg.(messages.PilotJobStarted)
	require.True(t, ok)

	nested, ok := registry.Get(pj.ID)
	require.True(t, ok)
	assert.Equal(t, started.NestedServiceID, nested.Name())

	task := workflow.NewTask("t1", 2e9, 2, 2) // fits entirely within either leased host
	sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	require.NoError(t, nested.SubmitStandardJob(sj, "std-submitter"))

	msg, err = actor.Recv(context.Background(), clock, stdSubmitter, 0)
	require.NoError(t, err)
	_, ok = msg.(messages.StandardJobDone)
	assert.True(t, ok)
	assert.Equal(t, simclock.Time(1), clock.Now())
}
