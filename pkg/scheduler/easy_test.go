package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEasyBFBackfillsSmallJob is S4: a 4-host/2-core fleet. J1 occupies 3
// hosts for 100 units starting at t=0. J2 (also needing 3 hosts) becomes
// the queue head at t=1 and must wait for J1, reserved to start at t=100.
// J3, a 1-host/10-unit job submitted at t=2, backfills onto the fleet's
// one still-idle host without disturbing J2's reservation, starting
// immediately at t=2.
func TestEasyBFBackfillsSmallJob(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0", "h1", "h2", "h3"}, CoresPerHost: 2}
	s := &EasyBF{HostSelection: FirstFit}

	running := []Placement{{JobID: "J1", Hosts: []string{"h0", "h1", "h2"}, Start: 0, Finish: 100, CoresPerNode: 2}}

	ctx1 := SchedulingContext{Now: 1, Fleet: fleet, Queue: []Job{
		{ID: "J2", NumNodes: 3, CoresPerNode: 2, Walltime: 100, SubmissionTime: 1},
	}, Running: running}
	placements1 := s.OnSubmit(ctx1)
	assert.Empty(t, placements1, "J2 cannot start while J1 holds 3 of 4 hosts")

	ctx2 := SchedulingContext{Now: 2, Fleet: fleet, Queue: []Job{
		{ID: "J2", NumNodes: 3, CoresPerNode: 2, Walltime: 100, SubmissionTime: 1},
		{ID: "J3", NumNodes: 1, CoresPerNode: 2, Walltime: 10, SubmissionTime: 2},
	}, Running: running}
	placements2 := s.OnSubmit(ctx2)
	require.Len(t, placements2, 1)
	assert.Equal(t, "J3", placements2[0].JobID)
	assert.Equal(t, float64(2), placements2[0].Start)
	assert.Equal(t, []string{"h3"}, placements2[0].Hosts)
}

func TestEasyBFEstimateStartTimesFallsBackToHeadFinish(t *testing.T) {
	fleet := Fleet{Hosts: []string{"h0", "h1"}, CoresPerHost: 2}
	s := &EasyBF{HostSelection: FirstFit}
	ctx := SchedulingContext{
		Now:   0,
		Fleet: fleet,
		Queue: []Job{
			{ID: "J1", NumNodes: 2, CoresPerNode: 2, Walltime: 50, SubmissionTime: 0},
		},
	}
	estimates := s.EstimateStartTimes(ctx, []Job{
		{ID: "J2", NumNodes: 2, CoresPerNode: 2, Walltime: 5, SubmissionTime: 1},
	})
	assert.Equal(t, float64(50), estimates["J2"])
}
