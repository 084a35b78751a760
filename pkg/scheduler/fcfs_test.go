package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFCFSNeverSkipsAhead is S3: a 3-host/2-core fleet, J1 needs all 3
// hosts for 10 time units and starts immediately; J2 needs only 1 host for
// 5 units but must wait behind J1 since FCFS never reorders the queue.
func TestFCFSNeverSkipsAhead(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0", "h1", "h2"}, CoresPerHost: 2}
	s := &FCFS{HostSelection: FirstFit}

	ctx := SchedulingContext{
		Now:   0,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J1", NumNodes: 3, CoresPerNode: 2, Walltime: 10, SubmissionTime: 0},
			{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
		},
	}
	placements := s.OnSubmit(ctx)
	assert.Len(t, placements, 1)
	assert.Equal(t, "J1", placements[0].JobID)
	assert.Equal(t, float64(0), placements[0].Start)
	assert.Equal(t, float64(10), placements[0].Finish)

	// J1 now running; re-evaluate at t=1 with J2 still queued behind it.
	ctx2 := SchedulingContext{
		Now:   1,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
		},
		Running: placements,
	}
	placements2 := s.OnSubmit(ctx2)
	assert.Empty(t, placements2)

	// J1 completes at t=10; J2 can now start.
	ctx3 := SchedulingContext{
		Now:   10,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
		},
	}
	placements3 := s.OnCompletion(ctx3)
	assert.Len(t, placements3, 1)
	assert.Equal(t, "J2", placements3[0].JobID)
	assert.Equal(t, float64(10), placements3[0].Start)
	assert.Equal(t, float64(15), placements3[0].Finish)
}

func TestFCFSEstimateStartTimes(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0", "h1"}, CoresPerHost: 2}
	s := &FCFS{HostSelection: FirstFit}
	ctx := SchedulingContext{
		Now:   0,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J1", NumNodes: 2, CoresPerNode: 2, Walltime: 10, SubmissionTime: 0},
		},
	}
	estimates := s.EstimateStartTimes(ctx, []Job{
		{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
	})
	assert.Equal(t, float64(10), estimates["J2"])
}
