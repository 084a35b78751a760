package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestConservativeBFReservesWholeQueue checks that a job queued behind one
// that cannot yet start still gets an explicit, deterministic reservation
// rather than waiting for re-evaluation, and that nothing is placed until
// its reservation's start lands exactly at Now.
func TestConservativeBFReservesWholeQueue(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0", "h1", "h2"}, CoresPerHost: 2}
	s := &ConservativeBF{HostSelection: FirstFit}

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

	ctx2 := SchedulingContext{
		Now:     10,
		Fleet:   fleet,
		Queue:   []Job{{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1}},
		Running: nil,
	}
	placements2 := s.OnCompletion(ctx2)
	assert.Len(t, placements2, 1)
	assert.Equal(t, "J2", placements2[0].JobID)
	assert.Equal(t, float64(10), placements2[0].Start)
}

func TestConservativeBFEstimateStartTimesSeedsFullQueue(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0"}, CoresPerHost: 2}
	s := &ConservativeBF{HostSelection: FirstFit}
	ctx := SchedulingContext{
		Now:   0,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J1", NumNodes: 1, CoresPerNode: 2, Walltime: 10, SubmissionTime: 0},
		},
	}
	estimates := s.EstimateStartTimes(ctx, []Job{
		{ID: "J2", NumNodes: 1, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
	})
	assert.Equal(t, float64(10), estimates["J2"])
}
