package scheduler

// ConservativeBF implements §4.6.2: every queued job holds a reservation,
// rebuilt from scratch on each event by scheduling the queue in order
// against current availability. A job already reserved to start exactly
// now is returned to the caller as a placement.
type ConservativeBF struct {
	HostSelection HostSelection
}

func (s *ConservativeBF) OnSubmit(ctx SchedulingContext) []Placement     { return s.ChooseNext(ctx) }
func (s *ConservativeBF) OnCompletion(ctx SchedulingContext) []Placement { return s.ChooseNext(ctx) }
func (s *ConservativeBF) OnTimeout(ctx SchedulingContext) []Placement    { return s.ChooseNext(ctx) }

func (s *ConservativeBF) ChooseNext(ctx SchedulingContext) []Placement {
	tl := newTimeline(ctx.Fleet, ctx.Running)
	var placements []Placement
	for _, j := range ctx.Queue {
		start, hosts := tl.earliestStart(j, ctx.Now, s.HostSelection)
		finish := start + j.Walltime
		tl.reserve(hosts, start, finish, j.CoresPerNode)
		if start == ctx.Now {
			placements = append(placements, Placement{JobID: j.ID, Hosts: hosts, Start: start, Finish: finish, CoresPerNode: j.CoresPerNode})
		}
	}
	return placements
}

// EstimateStartTimes reuses the same sequential reservation build, seeded
// with the full queue's reservations (conservative backfilling's own
// invariant), then appends requests to the same timeline.
func (s *ConservativeBF) EstimateStartTimes(ctx SchedulingContext, requests []Job) map[string]float64 {
	tl := newTimeline(ctx.Fleet, ctx.Running)
	for _, j := range ctx.Queue {
		start, hosts := tl.earliestStart(j, ctx.Now, s.HostSelection)
		tl.reserve(hosts, start, start+j.Walltime, j.CoresPerNode)
	}
	result := make(map[string]float64, len(requests))
	for _, r := range requests {
		start, hosts := tl.earliestStart(r, ctx.Now, s.HostSelection)
		tl.reserve(hosts, start, start+r.Walltime, r.CoresPerNode)
		result[r.ID] = start
	}
	return result
}
