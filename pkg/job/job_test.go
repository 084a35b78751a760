package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

func TestStandardJobLifecycle(t *testing.T) {
	task := workflow.NewTask("t1", 1, 1, 1)
	sj := NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	assert.Equal(t, StandardNotSubmitted, sj.State())

	sj.MarkSubmitted()
	sj.MarkRunning()
	sj.MarkCompleted()
	assert.Equal(t, StandardCompleted, sj.State())

	// terminal state is sticky
	sj.MarkFailed(failure.New(failure.JobKilled, "too late"))
	assert.Equal(t, StandardCompleted, sj.State())
}

func TestStandardJobFailureRecordsCause(t *testing.T) {
	sj := NewStandardJob(nil, nil, nil, nil)
	sj.MarkSubmitted()
	sj.MarkRunning()
	sj.MarkFailed(failure.New(failure.JobKilled, "terminated"))
	assert.Equal(t, StandardFailed, sj.State())
	require.NotNil(t, sj.Cause())
	assert.True(t, sj.Cause().Is(failure.New(failure.JobKilled, "")))
}

func TestPilotJobLifecycle(t *testing.T) {
	pj := NewPilotJob(2, 4, 1024, 10)
	pj.MarkSubmitted()
	assert.Equal(t, PilotPending, pj.State())

	pj.MarkRunning("nested-svc-1")
	assert.Equal(t, PilotRunning, pj.State())
	id, live := pj.NestedServiceID()
	assert.Equal(t, "nested-svc-1", id)
	assert.True(t, live)

	pj.MarkExpired()
	assert.Equal(t, PilotExpired, pj.State())
	_, live = pj.NestedServiceID()
	assert.False(t, live)
}

func TestBatchJobSetBeginIsOneShot(t *testing.T) {
	sj := NewStandardJob(nil, nil, nil, nil)
	bj := NewBatchJobStandard(sj, 2, 4, 100, 0)
	assert.False(t, bj.Started())

	err := bj.SetBegin(5, map[string]Allocation{"h1": {Cores: 4}})
	require.NoError(t, err)
	assert.True(t, bj.Started())

	finish, ok := bj.FinishByWalltime()
	require.True(t, ok)
	assert.Equal(t, 105.0, finish)

	err = bj.SetBegin(10, map[string]Allocation{"h1": {Cores: 4}})
	assert.Error(t, err)
}
