package scheduler

// FCFS implements §4.6.1: on any event, scan the queue head-to-tail and
// place every job the current free capacity can fit, by the configured
// host-selection sub-policy, stopping at the first job that cannot be
// placed (never skip ahead).
type FCFS struct {
	HostSelection HostSelection
}

func (s *FCFS) OnSubmit(ctx SchedulingContext) []Placement     { return s.ChooseNext(ctx) }
func (s *FCFS) OnCompletion(ctx SchedulingContext) []Placement { return s.ChooseNext(ctx) }
func (s *FCFS) OnTimeout(ctx SchedulingContext) []Placement    { return s.ChooseNext(ctx) }

func (s *FCFS) ChooseNext(ctx SchedulingContext) []Placement {
	tl := newTimeline(ctx.Fleet, ctx.Running)
	var placements []Placement
	for _, j := range ctx.Queue {
		hosts, ok := tl.selectHosts(j, ctx.Now, s.HostSelection)
		if !ok {
			break
		}
		finish := ctx.Now + j.Walltime
		tl.reserve(hosts, ctx.Now, finish, j.CoresPerNode)
		placements = append(placements, Placement{JobID: j.ID, Hosts: hosts, Start: ctx.Now, Finish: finish, CoresPerNode: j.CoresPerNode})
	}
	return placements
}

// EstimateStartTimes simulates FCFS's strict placement rule over a copy of
// the timeline seeded only with currently running jobs (FCFS holds no
// reservations for queued jobs, so none are seeded), appending the queue
// ahead of requests to preserve arrival-order fairness.
func (s *FCFS) EstimateStartTimes(ctx SchedulingContext, requests []Job) map[string]float64 {
	tl := newTimeline(ctx.Fleet, ctx.Running)
	result := make(map[string]float64, len(requests))
	requested := make(map[string]bool, len(requests))
	for _, r := range requests {
		requested[r.ID] = true
	}
	notBefore := ctx.Now
	for _, j := range append(append([]Job{}, ctx.Queue...), requests...) {
		start, hosts := tl.earliestStart(j, notBefore, s.HostSelection)
		notBefore = start // no job starts before the one ahead of it
		tl.reserve(hosts, start, start+j.Walltime, j.CoresPerNode)
		if requested[j.ID] {
			result[j.ID] = start
		}
	}
	return result
}
