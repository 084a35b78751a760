package compute

import (
	"context"
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

func newTestMulticore(t *testing.T, clock *simclock.Clock, sys *actor.System, registry *Registry, cores int) *Multicore {
	t.Helper()
	return NewMulticore(Config{
		Host:             "hostA",
		Name:             "multicore-1",
		Cores:            cores,
		RAM:              1 << 30,
		CoreFlopRate:     1e9,
		SupportsStandard: true,
		SupportsPilot:    true,
		Properties:       executor.Properties{CoreAllocationPolicy: executor.Aggressive},
		Storage:          map[string]storageservice.Service{},
	}, clock, sys, registry)
}

// TestMulticoreSingleTask mirrors scenario S1.
func TestMulticoreSingleTask(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	submitter := sys.Register("submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	svc := newTestMulticore(t, clock, sys, registry, 4)
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

// TestMulticoreParallelSaturation mirrors scenario S2: 4 cores, 5
// single-core 1e9-flop jobs; 4 complete at t=1, the 5th at t=2.
func TestMulticoreParallelSaturation(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	submitter := sys.Register("submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	svc := newTestMulticore(t, clock, sys, registry, 4)
	svc.Start()

	for i := 0; i < 5; i++ {
		task := workflow.NewTask("t", 1e9, 1, 1)
		sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
		require.NoError(t, svc.SubmitStandardJob(sj, "submitter"))
	}

	var completions []simclock.Time
	for i := 0; i < 5; i++ {
		_, err := actor.Recv(context.Background(), clock, submitter, 0)
		require.NoError(t, err)
		completions = append(completions, clock.Now())
	}

	assert.Equal(t, simclock.Time(2), clock.Now())
	assert.Equal(t, []simclock.Time{1, 1, 1, 1, 2}, completions)
}

// TestMulticoreAggressiveAllocationBoundByIdleCores is a regression test: a
// job whose MaxParallelism exceeds MinParallelism must only be granted as
// many cores as are currently idle, not up to total host capacity,
// otherwise a second concurrently-pending job can push the host over
// capacity and the eventual core credit-back corrupts idleCores. With the
// fix, job A (min 1, max 4) takes all 4 idle cores on a 4-core host and
// job B (min 1, max 1) must wait for A to finish instead of running
// alongside it.
func TestMulticoreAggressiveAllocationBoundByIdleCores(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	submitter := sys.Register("submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	svc := newTestMulticore(t, clock, sys, registry, 4)
	svc.Start()

	taskA := workflow.NewTask("a", 4e9, 1, 4)
	sjA := job.NewStandardJob([]*workflow.Task{taskA}, nil, nil, nil)
	require.NoError(t, svc.SubmitStandardJob(sjA, "submitter"))

	taskB := workflow.NewTask("b", 1e9, 1, 1)
	sjB := job.NewStandardJob([]*workflow.Task{taskB}, nil, nil, nil)
	require.NoError(t, svc.SubmitStandardJob(sjB, "submitter"))

	msg, err := actor.Recv(context.Background(), clock, submitter, 0)
	require.NoError(t, err)
	done, ok := msg.(messages.StandardJobDone)
	require.True(t, ok)
	assert.Equal(t, sjA.ID, done.JobID, "job A should finish first, having taken all 4 idle cores")
	assert.Equal(t, simclock.Time(1), clock.Now())

	msg, err = actor.Recv(context.Background(), clock, submitter, 0)
	require.NoError(t, err)
	done, ok = msg.(messages.StandardJobDone)
	require.True(t, ok)
	assert.Equal(t, sjB.ID, done.JobID, "job B must wait for A to release cores")
	assert.Equal(t, simclock.Time(2), clock.Now())

	res := svc.QueryResources()
	assert.Equal(t, 4, res.PerHost["hostA"].IdleCores, "idle cores must be fully restored, not corrupted by an over-allocated credit")
}

// TestPilotJobExpirationKillsInnerJob mirrors scenario S5.
func TestPilotJobExpirationKillsInnerJob(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := NewRegistry()
	pilotSubmitter := sys.Register("pilot-submitter")
	stdSubmitter := sys.Register("std-submitter")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	svc := newTestMulticore(t, clock, sys, registry, 4)
	svc.Start()

	pj := job.NewPilotJob(1, 2, 0, 10)
	require.NoError(t, svc.SubmitPilotJob(pj, "pilot-submitter"))

	msg, err := actor.Recv(context.Background(), clock, pilotSubmitter, 0)
	require.NoError(t, err)
	started, ok := msg.(messages.PilotJobStarted)
	require.True(t, ok)

	nested, ok := registry.Get(pj.ID)
	require.True(t, ok)
	assert.Equal(t, started.NestedServiceID, nested.Name())

	longTask := workflow.NewTask("long", 20e9, 1, 1) // 20s of work at 1 GFlop/s
	sj := job.NewStandardJob([]*workflow.Task{longTask}, nil, nil, nil)
	require.NoError(t, nested.SubmitStandardJob(sj, "std-submitter"))

	msg, err = actor.Recv(context.Background(), clock, stdSubmitter, 0)
	require.NoError(t, err)
	failed, ok := msg.(messages.StandardJobFailed)
	require.True(t, ok)
	assert.NotNil(t, failed.Cause)
	assert.Equal(t, simclock.Time(10), clock.Now())

	msg, err = actor.Recv(context.Background(), clock, pilotSubmitter, 0)
	require.NoError(t, err)
	_, ok = msg.(messages.PilotJobExpired)
	assert.True(t, ok)
}
