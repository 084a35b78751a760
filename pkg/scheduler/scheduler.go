// Package scheduler implements the BatchScheduler plug-ins of §4.6: pure
// placement logic, decoupled from the actor-based BatchComputeService that
// executes its decisions. Policy is a runtime choice among FCFS,
// conservative backfilling and EASY backfilling; host selection within any
// of them is a further runtime choice among FIRSTFIT, BESTFIT and
// ROUNDROBIN (§9: "no virtual dispatch across simulator boundaries").
package scheduler

import "sort"

// HostSelection picks which free hosts satisfy a job's node count.
type HostSelection string

const (
	FirstFit   HostSelection = "FIRSTFIT"
	BestFit    HostSelection = "BESTFIT"
	RoundRobin HostSelection = "ROUNDROBIN"
)

// TaskSelection ranks jobs of equal scheduling priority during workload
// trace replay (§4.6, §6).
type TaskSelection string

const (
	MaximumFlops TaskSelection = "maximum_flops"
	MinimumFlops TaskSelection = "minimum_flops"
	BySubmission TaskSelection = "submission_time"
)

// Fleet is the uniform host pool a BatchComputeService owns.
type Fleet struct {
	Hosts        []string // declared order, used by FIRSTFIT and ROUNDROBIN
	CoresPerHost int
}

// Job is the scheduler's view of one batch job, queued or running.
type Job struct {
	ID             string
	NumNodes       int
	CoresPerNode   int
	Walltime       float64
	SubmissionTime float64
	Priority       int
	Flops          float64 // aggregate, for task-selection ranking only
}

// Placement is a scheduling decision: job J runs on Hosts from Start to
// Finish (Finish = Start + Walltime, the end of the job's reservation,
// filled in by the scheduler that makes the placement).
// CoresPerNode is carried alongside so a later reservation rebuild can
// reconstruct this placement's footprint without a second lookup.
type Placement struct {
	JobID        string
	Hosts        []string
	Start        float64
	Finish       float64
	CoresPerNode int
}

// SchedulingContext is the queue/fleet state a Scheduler call observes. Queue
// is in arrival order; Running holds already-started jobs with their actual
// reserved Finish times.
type SchedulingContext struct {
	Now     float64
	Fleet   Fleet
	Queue   []Job
	Running []Placement
}

// Scheduler is the narrow interface named in §4.6: on_submit, on_completion,
// on_timeout, choose_next, estimate_start_times. All five are pure
// functions of the SchedulingContext — no state survives a call beyond
// what the BatchComputeService feeds back in on the next one.
type Scheduler interface {
	OnSubmit(ctx SchedulingContext) []Placement
	OnCompletion(ctx SchedulingContext) []Placement
	OnTimeout(ctx SchedulingContext) []Placement
	ChooseNext(ctx SchedulingContext) []Placement
	EstimateStartTimes(ctx SchedulingContext, requests []Job) map[string]float64
}

// interval is one reservation on one host: cores held during [start, end).
type interval struct {
	start, end float64
	cores      int
}

// timeline is a per-host reservation plan, the shared machinery behind
// conservative and EASY backfilling's "schedule against the availability
// timeline" rule (§4.6.2/4.6.3) and behind estimate_start_times for every
// policy.
type timeline struct {
	fleet Fleet
	busy  map[string][]interval
	rrIdx int // ROUNDROBIN's rotating start index
}

func newTimeline(fleet Fleet, running []Placement) *timeline {
	tl := &timeline{fleet: fleet, busy: make(map[string][]interval, len(fleet.Hosts))}
	for _, p := range running {
		for _, h := range p.Hosts {
			tl.busy[h] = append(tl.busy[h], interval{start: p.Start, end: p.Finish, cores: p.CoresPerNode})
		}
	}
	return tl
}

// freeCoresDuring returns the minimum free core count on host during
// [start, end), sampled at every reservation boundary in the window (the
// occupancy function is piecewise constant, so boundaries are sufficient).
func (tl *timeline) freeCoresDuring(host string, start, end float64) int {
	times := map[float64]bool{start: true}
	for _, iv := range tl.busy[host] {
		if iv.start > start && iv.start < end {
			times[iv.start] = true
		}
	}
	maxUsed := 0
	for t := range times {
		used := 0
		for _, iv := range tl.busy[host] {
			if iv.start <= t && t < iv.end {
				used += iv.cores
			}
		}
		if used > maxUsed {
			maxUsed = used
		}
	}
	return tl.fleet.CoresPerHost - maxUsed
}

// candidateTimes returns every time at or after notBefore where some host's
// occupancy could change, plus notBefore itself — the only times worth
// probing for a new reservation's earliest start.
func (tl *timeline) candidateTimes(notBefore float64) []float64 {
	set := map[float64]bool{notBefore: true}
	for _, ivs := range tl.busy {
		for _, iv := range ivs {
			if iv.end >= notBefore {
				set[iv.end] = true
			}
		}
	}
	times := make([]float64, 0, len(set))
	for t := range set {
		times = append(times, t)
	}
	sort.Float64s(times)
	return times
}

// earliestStart finds the first time >= notBefore at which NumNodes hosts
// each offer CoresPerNode free cores for the job's whole Walltime, and
// which hosts to use per the host-selection policy. It does not commit the
// reservation; call reserve separately once a start is accepted.
func (tl *timeline) earliestStart(j Job, notBefore float64, selection HostSelection) (float64, []string) {
	for _, t := range tl.candidateTimes(notBefore) {
		hosts, ok := tl.selectHosts(j, t, selection)
		if ok {
			return t, hosts
		}
	}
	// Should not happen for a well-formed fleet (every host eventually
	// frees up), but guards against an infinite loop over an empty fleet.
	return notBefore, nil
}

func (tl *timeline) selectHosts(j Job, at float64, selection HostSelection) ([]string, bool) {
	type candidate struct {
		name string
		free int
	}
	var eligible []candidate
	for _, h := range tl.fleet.Hosts {
		if free := tl.freeCoresDuring(h, at, at+j.Walltime); free >= j.CoresPerNode {
			eligible = append(eligible, candidate{h, free})
		}
	}
	if len(eligible) < j.NumNodes {
		return nil, false
	}

	switch selection {
	case BestFit:
		sort.SliceStable(eligible, func(i, k int) bool { return eligible[i].free < eligible[k].free })
	case RoundRobin:
		if len(eligible) > 0 {
			start := tl.rrIdx % len(eligible)
			eligible = append(eligible[start:], eligible[:start]...)
			tl.rrIdx++
		}
	case FirstFit:
		// eligible is already in fleet declared order.
	}

	hosts := make([]string, j.NumNodes)
	for i := 0; i < j.NumNodes; i++ {
		hosts[i] = eligible[i].name
	}
	return hosts, true
}

func (tl *timeline) reserve(hosts []string, start, end float64, cores int) {
	for _, h := range hosts {
		tl.busy[h] = append(tl.busy[h], interval{start: start, end: end, cores: cores})
	}
}
