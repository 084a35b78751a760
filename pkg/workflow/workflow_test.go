package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTimeSeconds(t *testing.T) {
	task := NewTask("t1", 100.0, 1, 4)
	secs, err := task.ComputeTimeSeconds(2, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, secs, 1e-9) // 100 flops / (2 cores * 10 flops/sec)
}

func TestComputeTimeSecondsRejectsOutOfRangeParallelism(t *testing.T) {
	task := NewTask("t1", 100.0, 2, 4)
	_, err := task.ComputeTimeSeconds(1, 10.0)
	assert.Error(t, err)
}

func TestComputeTimeSecondsHonorsEfficiency(t *testing.T) {
	task := NewTask("t1", 100.0, 1, 8)
	task.Efficiency = func(n int) float64 {
		if n == 1 {
			return 1.0
		}
		return 0.5 // each of 2+ cores runs at half speed: no extra throughput
	}
	linear, err := task.ComputeTimeSeconds(1, 10.0)
	require.NoError(t, err)
	scaled, err := task.ComputeTimeSeconds(2, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, linear, scaled, 1e-9) // half efficiency at 2x cores cancels out
}

func TestTaskLifecycleTransitions(t *testing.T) {
	task := NewTask("t1", 1, 1, 1)
	assert.Equal(t, TaskNotReady, task.State())

	require.NoError(t, task.MarkReady())
	require.NoError(t, task.MarkPending())
	require.NoError(t, task.MarkRunning())
	require.NoError(t, task.MarkComplete())
	assert.Equal(t, TaskComplete, task.State())
}

func TestTaskIllegalTransitionFails(t *testing.T) {
	task := NewTask("t1", 1, 1, 1)
	err := task.MarkRunning() // can't run before it's even pending
	assert.Error(t, err)
}

func TestFailedTaskCanRetryToReady(t *testing.T) {
	task := NewTask("t1", 1, 1, 1)
	require.NoError(t, task.MarkReady())
	require.NoError(t, task.MarkPending())
	require.NoError(t, task.MarkRunning())
	task.MarkFailed()
	assert.Equal(t, 1, task.FailureCount)

	require.NoError(t, task.Retry())
	assert.Equal(t, TaskReady, task.State())
}

func TestDAGRecomputeReadiness(t *testing.T) {
	d := NewDAG()
	fileA := NewFile("A", 1024)

	producer := NewTask("producer", 10, 1, 1)
	producer.OutputFiles = []*File{fileA}
	d.AddTask(producer)

	consumer := NewTask("consumer", 10, 1, 1)
	consumer.InputFiles = []*File{fileA}
	d.AddTask(consumer)

	d.RecomputeReadiness()
	assert.Equal(t, TaskReady, producer.State())
	assert.Equal(t, TaskNotReady, consumer.State())

	require.NoError(t, producer.MarkPending())
	require.NoError(t, producer.MarkRunning())
	require.NoError(t, producer.MarkComplete())

	d.RecomputeReadiness()
	assert.Equal(t, TaskReady, consumer.State())
}
