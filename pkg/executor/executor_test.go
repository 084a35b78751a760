package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// TestSingleTaskCompletesAtExpectedTime mirrors scenario S1: a 1-core host
// at 1 GFlop/s running a single 1e9-flop task should complete at t=1.0.
func TestSingleTaskCompletesAtExpectedTime(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	callback := sys.Register("callback")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	task := workflow.NewTask("t1", 1e9, 1, 1)
	sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	alloc := map[string]job.Allocation{"hostA": {Cores: 1, RAM: 0}}
	props := Properties{
		CoreAllocationPolicy: Aggressive,
		CoreFlopRate:         map[string]float64{"hostA": 1e9},
	}

	ex := New(sj, alloc, props, map[string]storageservice.Service{}, clock, sys, "callback")
	sys.Spawn("hostA", "executor-1", ex.Run)

	msg, err := actor.Recv(context.Background(), clock, callback, 0)
	require.NoError(t, err)
	done, ok := msg.(messages.StandardJobDone)
	require.True(t, ok)
	assert.Equal(t, sj.ID, done.JobID)
	assert.Equal(t, simclock.Time(1), clock.Now())
	assert.Equal(t, job.StandardCompleted, sj.State())
}

// TestParallelTasksShareAllocationSequentially exercises a job with two
// single-core tasks on a one-core host: they must run one after another.
func TestParallelTasksShareAllocationSequentially(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	callback := sys.Register("callback")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	t1 := workflow.NewTask("t1", 1e9, 1, 1)
	t2 := workflow.NewTask("t2", 1e9, 1, 1)
	sj := job.NewStandardJob([]*workflow.Task{t1, t2}, nil, nil, nil)
	alloc := map[string]job.Allocation{"hostA": {Cores: 1, RAM: 0}}
	props := Properties{
		CoreAllocationPolicy: Aggressive,
		CoreFlopRate:         map[string]float64{"hostA": 1e9},
	}

	ex := New(sj, alloc, props, map[string]storageservice.Service{}, clock, sys, "callback")
	sys.Spawn("hostA", "executor-1", ex.Run)

	_, err := actor.Recv(context.Background(), clock, callback, 0)
	require.NoError(t, err)
	assert.Equal(t, simclock.Time(2), clock.Now())
}

// TestTaskFailurePropagatesToJob ensures a missing input file fails the
// task, the job, and is reported as StandardJobFailed.
func TestTaskFailurePropagatesToJob(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	callback := sys.Register("callback")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	missing := workflow.NewFile("missing-input", 100)
	task := workflow.NewTask("t1", 1e9, 1, 1)
	task.InputFiles = []*workflow.File{missing}
	sj := job.NewStandardJob([]*workflow.Task{task}, map[string]job.FileLocation{
		"missing-input": {StorageService: "storage1", MountPoint: "/"},
	}, nil, nil)
	alloc := map[string]job.Allocation{"hostA": {Cores: 1, RAM: 0}}
	props := Properties{
		CoreAllocationPolicy: Aggressive,
		CoreFlopRate:         map[string]float64{"hostA": 1e9},
	}

	storage := storageservice.NewInMemory("storage1", clock, map[string]int64{"/": 10_000}, 0)
	ex := New(sj, alloc, props, map[string]storageservice.Service{"storage1": storage}, clock, sys, "callback")
	sys.Spawn("hostA", "executor-1", ex.Run)

	msg, err := actor.Recv(context.Background(), clock, callback, 0)
	require.NoError(t, err)
	failed, ok := msg.(messages.StandardJobFailed)
	require.True(t, ok)
	assert.NotNil(t, failed.Cause)
	assert.Equal(t, job.StandardFailed, sj.State())
}

// TestKillFreesAllocationAndReportsJobKilled exercises the termination
// contract (§4.3): an executor killed before it starts must leave its
// core allocation fully free and report StandardJobFailed(JobKilled).
func TestKillFreesAllocationAndReportsJobKilled(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	callback := sys.Register("callback")
	clock.RegisterActor()
	defer clock.UnregisterActor()

	task := workflow.NewTask("t1", 1e11, 1, 1) // long-running
	sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	alloc := map[string]job.Allocation{"hostA": {Cores: 1, RAM: 0}}
	props := Properties{
		CoreAllocationPolicy: Aggressive,
		CoreFlopRate:         map[string]float64{"hostA": 1e9},
	}

	ex := New(sj, alloc, props, map[string]storageservice.Service{}, clock, sys, "callback")
	// Kill before spawning: Go's happens-before rule for goroutine creation
	// guarantees the executor observes killed=true on its very first check,
	// making the outcome deterministic instead of racing real wall-clock
	// scheduling against simulated compute time.
	ex.Kill()
	sys.Spawn("hostA", "executor-1", ex.Run)

	msg, err := actor.Recv(context.Background(), clock, callback, 0)
	require.NoError(t, err)
	failed, ok := msg.(messages.StandardJobFailed)
	require.True(t, ok)
	require.NotNil(t, failed.Cause)
	assert.Equal(t, failure.JobKilled, failed.Cause.Kind)
	assert.Equal(t, 1, ex.freeCores["hostA"])
	assert.Equal(t, job.StandardFailed, sj.State())
}
