package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
)

// HostSpec names one host in a BareMetal's fleet, in the declared order
// used for best-fit host selection (§4.5).
type HostSpec struct {
	Name     string
	Cores    int
	RAM      int64
	FlopRate float64
}

type hostState struct {
	spec      HostSpec
	idleCores int
	idleRAM   int64
}

type runningOnHosts struct {
	exec             *executor.Executor
	hosts            map[string]job.Allocation
	submitterMailbox string
}

// pendingPilotHosts is a pilot job waiting for NumHosts free hosts.
type pendingPilotHosts struct {
	p                *job.PilotJob
	submitterMailbox string
}

// BareMetal is the BareMetalComputeService of §4.5: a multi-host
// generalization of Multicore. It tracks per-host core/ram availability and
// hands a standard job an allocation spread across as many declared hosts
// as needed to satisfy the job's min_cores, assigned greedily in host
// order (best-fit by declaration order, not by free-capacity size).
type BareMetal struct {
	name  string
	hosts []*hostState // declared order, fixed at construction

	supportsStandard bool
	supportsPilot    bool
	props            executor.Properties
	storage          map[string]storageservice.Service

	clock    *simclock.Clock
	sys      *actor.System
	registry *Registry
	logger   zerolog.Logger

	mu              sync.Mutex
	pendingStandard []*pendingStandard
	pendingPilot    []*pendingPilotHosts
	running         map[string]*runningOnHosts
	nestedPilots    map[string]*job.PilotJob

	leased                 bool
	leaseDuration          float64
	pilotJobID             string
	parentSubmitterMailbox string

	stopped bool
}

// BareMetalConfig bundles the construction-time parameters of a BareMetal
// service.
type BareMetalConfig struct {
	Name             string
	Hosts            []HostSpec
	SupportsStandard bool
	SupportsPilot    bool
	Properties       executor.Properties
	Storage          map[string]storageservice.Service
}

// NewBareMetal constructs a BareMetal service. Call Start to spawn its
// actor loop.
func NewBareMetal(cfg BareMetalConfig, clock *simclock.Clock, sys *actor.System, registry *Registry) *BareMetal {
	if cfg.Properties.CoreFlopRate == nil {
		cfg.Properties.CoreFlopRate = make(map[string]float64, len(cfg.Hosts))
	}
	hosts := make([]*hostState, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if _, ok := cfg.Properties.CoreFlopRate[h.Name]; !ok {
			cfg.Properties.CoreFlopRate[h.Name] = h.FlopRate
		}
		hosts = append(hosts, &hostState{spec: h, idleCores: h.Cores, idleRAM: h.RAM})
	}
	return &BareMetal{
		name:             cfg.Name,
		hosts:            hosts,
		supportsStandard: cfg.SupportsStandard,
		supportsPilot:    cfg.SupportsPilot,
		props:            cfg.Properties,
		storage:          cfg.Storage,
		clock:            clock,
		sys:              sys,
		registry:         registry,
		logger:           log.WithComponent("baremetal").With().Str("service", cfg.Name).Logger(),
		running:          make(map[string]*runningOnHosts),
		nestedPilots:     make(map[string]*job.PilotJob),
	}
}

// AsLeasedNestedService marks svc as the nested compute service of a pilot
// job, bounding its lifetime to duration (§4.4, §9, generalized to
// multi-host pilots).
func (s *BareMetal) AsLeasedNestedService(pilotJobID, parentSubmitterMailbox string, duration float64) {
	s.leased = true
	s.pilotJobID = pilotJobID
	s.parentSubmitterMailbox = parentSubmitterMailbox
	s.leaseDuration = duration
}

func (s *BareMetal) Name() string { return s.name }

func (s *BareMetal) Start() *actor.Handle {
	return s.sys.Spawn(s.hosts[0].spec.Name, s.name, s.run)
}

func (s *BareMetal) run(ctx context.Context, mb *actor.Mailbox) {
	deathDate := simclock.Time(0)
	if s.leased {
		deathDate = s.clock.Now() + simclock.Time(s.leaseDuration)
	}

	for {
		timeout := simclock.Time(0)
		if s.leased {
			remaining := deathDate - s.clock.Now()
			if remaining < 0 {
				remaining = 0
			}
			timeout = remaining
		}

		msg, err := actor.Recv(ctx, s.clock, mb, timeout)
		if err == actor.ErrTimeout {
			s.handleTTLExpired(ctx)
			return
		}
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case messages.SubmitStandardJob:
			s.handleSubmitStandard(ctx, m)
		case messages.SubmitPilotJob:
			s.handleSubmitPilot(ctx, m)
		case messages.TerminateStandardJob:
			s.handleTerminateStandard(ctx, m)
		case messages.TerminatePilotJob:
			s.handleTerminatePilot(ctx, m)
		case messages.StandardJobDone:
			s.handleExecutorDone(ctx, m)
		case messages.StandardJobFailed:
			s.handleExecutorFailed(ctx, m)
		case messages.StopService:
			s.handleStop(ctx, m)
			return
		}

		s.dispatch(ctx)
	}
}

func (s *BareMetal) mailboxName() actor.Name { return actor.Name(s.name) }

func (s *BareMetal) SubmitStandardJob(sj *job.StandardJob, submitterMailbox string) error {
	if !s.supportsStandard {
		return errNotSupported("standard")
	}
	sj.MarkSubmitted()
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.SubmitStandardJob{Job: sj, AnswerMailbox: submitterMailbox})
}

func (s *BareMetal) SubmitPilotJob(pj *job.PilotJob, submitterMailbox string) error {
	if !s.supportsPilot {
		return errNotSupported("pilot")
	}
	pj.MarkSubmitted()
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.SubmitPilotJob{Job: pj, AnswerMailbox: submitterMailbox})
}

func (s *BareMetal) TerminateStandardJob(jobID string) error {
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.TerminateStandardJob{JobID: jobID})
}

func (s *BareMetal) TerminatePilotJob(jobID string) error {
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.TerminatePilotJob{JobID: jobID})
}

func (s *BareMetal) SupportsJobType(standard bool) bool {
	if standard {
		return s.supportsStandard
	}
	return s.supportsPilot
}

func (s *BareMetal) QueryResources() Resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl := -1.0
	if s.leased {
		ttl = float64(s.leaseDuration)
	}
	perHost := make(map[string]HostResources, len(s.hosts))
	for _, h := range s.hosts {
		perHost[h.spec.Name] = HostResources{
			Cores:     h.spec.Cores,
			IdleCores: h.idleCores,
			RAM:       h.spec.RAM,
			IdleRAM:   h.idleRAM,
			FlopRate:  s.props.CoreFlopRate[h.spec.Name],
		}
	}
	return Resources{TTL: ttl, PerHost: perHost}
}

func (s *BareMetal) Stop() {
	_ = s.sys.DSend(context.Background(), s.mailboxName(), messages.StopService{})
}

func (s *BareMetal) handleSubmitStandard(ctx context.Context, m messages.SubmitStandardJob) {
	s.mu.Lock()
	need := minCoresNeeded(m.Job)
	total := 0
	for _, h := range s.hosts {
		total += h.spec.Cores
	}
	if need > total {
		s.mu.Unlock()
		cause := failure.New(failure.NotEnoughResources, "job needs %d cores, fleet %s only has %d total", need, s.name, total).WithJob(m.Job.ID)
		m.Job.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.StandardJobFailed{JobID: m.Job.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver StandardJobFailed for an unsatisfiable job")
		}
		return
	}
	s.pendingStandard = append(s.pendingStandard, &pendingStandard{j: m.Job, submitterMailbox: m.AnswerMailbox})
	s.mu.Unlock()
}

func (s *BareMetal) handleSubmitPilot(ctx context.Context, m messages.SubmitPilotJob) {
	s.mu.Lock()
	if m.Job.NumHosts > len(s.hosts) {
		s.mu.Unlock()
		cause := failure.New(failure.NotEnoughResources, "pilot job needs %d hosts, fleet %s only has %d", m.Job.NumHosts, s.name, len(s.hosts)).WithJob(m.Job.ID)
		m.Job.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.PilotJobFailed{JobID: m.Job.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver PilotJobFailed for an unsatisfiable lease")
		}
		return
	}
	fits := false
	for _, h := range s.hosts {
		if h.spec.Cores >= m.Job.CoresPerHost && h.spec.RAM >= m.Job.RAMPerHost {
			fits = true
			break
		}
	}
	if !fits {
		s.mu.Unlock()
		cause := failure.New(failure.NotEnoughResources, "pilot job needs %d cores/%d ram per host, no host in fleet %s offers that much", m.Job.CoresPerHost, m.Job.RAMPerHost, s.name).WithJob(m.Job.ID)
		m.Job.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.PilotJobFailed{JobID: m.Job.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver PilotJobFailed for an unsatisfiable lease")
		}
		return
	}
	s.pendingPilot = append(s.pendingPilot, &pendingPilotHosts{p: m.Job, submitterMailbox: m.AnswerMailbox})
	s.mu.Unlock()
}

func (s *BareMetal) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	var toRun []*allocatedStandard
	var stillPending []*pendingStandard
	for _, p := range s.pendingStandard {
		if alloc, ok := s.tryAllocateLocked(p.j); ok {
			toRun = append(toRun, &allocatedStandard{pending: p, alloc: alloc})
		} else {
			stillPending = append(stillPending, p)
		}
	}
	s.pendingStandard = stillPending

	var pilotsToGrant []*grantedPilot
	var stillPendingPilots []*pendingPilotHosts
	for _, p := range s.pendingPilot {
		if hosts, ok := s.tryReserveHostsLocked(p.p); ok {
			pilotsToGrant = append(pilotsToGrant, &grantedPilot{pending: p, hosts: hosts})
		} else {
			stillPendingPilots = append(stillPendingPilots, p)
		}
	}
	s.pendingPilot = stillPendingPilots
	s.mu.Unlock()

	for _, p := range toRun {
		s.launchExecutor(p)
	}
	for _, g := range pilotsToGrant {
		s.grantPilot(g)
	}
}

// tryAllocateLocked picks hosts in declared order, assigning as many idle
// cores as each offers until the job's min_cores need is met (§4.5: "assign
// greedily until min_cores is met"). Under the Aggressive policy it then
// adds every remaining idle core of every host to the allocation; unlike
// Multicore, this extra is not capped by the tasks' max parallelism. Under
// Minimum the allocation stays at min_cores. Must be called with s.mu
// held; commits the allocation on success.
func (s *BareMetal) tryAllocateLocked(sj *job.StandardJob) (map[string]job.Allocation, bool) {
	need := minCoresNeeded(sj)
	plan := make(map[string]int)
	remaining := need
	for _, h := range s.hosts {
		if remaining <= 0 {
			break
		}
		if h.idleCores <= 0 {
			continue
		}
		take := h.idleCores
		if take > remaining {
			take = remaining
		}
		plan[h.spec.Name] = take
		remaining -= take
	}
	if remaining > 0 {
		return nil, false
	}

	if s.props.CoreAllocationPolicy == executor.Aggressive {
		for _, h := range s.hosts {
			if extra := h.idleCores - plan[h.spec.Name]; extra > 0 {
				plan[h.spec.Name] += extra
			}
		}
	}

	alloc := make(map[string]job.Allocation, len(plan))
	for _, h := range s.hosts {
		cores, ok := plan[h.spec.Name]
		if !ok || cores == 0 {
			continue
		}
		h.idleCores -= cores
		alloc[h.spec.Name] = job.Allocation{Cores: cores, RAM: 0}
	}
	return alloc, true
}

type allocatedStandard struct {
	pending *pendingStandard
	alloc   map[string]job.Allocation
}

type grantedPilot struct {
	pending *pendingPilotHosts
	hosts   []HostSpec
}

// tryReserveHostsLocked finds NumHosts distinct hosts, in declared order,
// each offering at least CoresPerHost/RAMPerHost idle capacity, and reserves
// exactly that much on each. Must be called with s.mu held.
func (s *BareMetal) tryReserveHostsLocked(p *job.PilotJob) ([]HostSpec, bool) {
	var chosen []*hostState
	for _, h := range s.hosts {
		if h.idleCores >= p.CoresPerHost && h.idleRAM >= p.RAMPerHost {
			chosen = append(chosen, h)
			if len(chosen) == p.NumHosts {
				break
			}
		}
	}
	if len(chosen) < p.NumHosts {
		return nil, false
	}
	specs := make([]HostSpec, 0, len(chosen))
	for _, h := range chosen {
		h.idleCores -= p.CoresPerHost
		h.idleRAM -= p.RAMPerHost
		specs = append(specs, HostSpec{Name: h.spec.Name, Cores: p.CoresPerHost, RAM: p.RAMPerHost, FlopRate: s.props.CoreFlopRate[h.spec.Name]})
	}
	return specs, true
}

func (s *BareMetal) launchExecutor(a *allocatedStandard) {
	ex := executor.New(a.pending.j, a.alloc, s.props, s.storage, s.clock, s.sys, s.name)
	s.mu.Lock()
	s.running[a.pending.j.ID] = &runningOnHosts{exec: ex, hosts: a.alloc, submitterMailbox: a.pending.submitterMailbox}
	s.mu.Unlock()
	s.sys.Spawn(firstHost(a.alloc), fmt.Sprintf("%s-exec-%s", s.name, a.pending.j.ID), ex.Run)
}

// firstHost picks a deterministic host for the executor actor's Spawn call;
// Spawn's host argument is bookkeeping only (§4.1's host-name tag on an
// actor), not a placement decision — the executor itself runs each task on
// whichever host its own allocation names.
func firstHost(alloc map[string]job.Allocation) string {
	names := make([]string, 0, len(alloc))
	for h := range alloc {
		names = append(names, h)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (s *BareMetal) grantPilot(g *grantedPilot) {
	hostSpecs := make([]HostSpec, len(g.hosts))
	copy(hostSpecs, g.hosts)

	nested := NewBareMetal(BareMetalConfig{
		Name:             fmt.Sprintf("%s-pilot-%s", s.name, g.pending.p.ID),
		Hosts:            hostSpecs,
		SupportsStandard: true,
		SupportsPilot:    false,
		Properties:       s.props,
		Storage:          s.storage,
	}, s.clock, s.sys, s.registry)
	nested.AsLeasedNestedService(g.pending.p.ID, g.pending.submitterMailbox, g.pending.p.Duration)
	nested.Start()

	s.registry.Put(g.pending.p.ID, nested)
	s.mu.Lock()
	s.nestedPilots[g.pending.p.ID] = g.pending.p
	s.mu.Unlock()

	g.pending.p.MarkRunning(nested.name)
	s.logger.Debug().Str("pilot_job", g.pending.p.ID).Float64("sim_time", float64(s.clock.Now())).Msg("pilot job granted")
	if err := s.sys.Send(context.Background(), actor.Name(g.pending.submitterMailbox), messages.PilotJobStarted{JobID: g.pending.p.ID, NestedServiceID: nested.name}); err != nil {
		s.logger.Warn().Err(err).Msg("could not deliver PilotJobStarted")
	}
}

func (s *BareMetal) handleExecutorDone(ctx context.Context, m messages.StandardJobDone) {
	s.mu.Lock()
	r, ok := s.running[m.JobID]
	if ok {
		delete(s.running, m.JobID)
		for h, a := range r.hosts {
			s.releaseHostLocked(h, a.Cores)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobDone{JobID: m.JobID}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobDone")
	}
}

func (s *BareMetal) handleExecutorFailed(ctx context.Context, m messages.StandardJobFailed) {
	s.mu.Lock()
	r, ok := s.running[m.JobID]
	if ok {
		delete(s.running, m.JobID)
		for h, a := range r.hosts {
			s.releaseHostLocked(h, a.Cores)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobFailed{JobID: m.JobID, Cause: m.Cause}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobFailed")
	}
}

func (s *BareMetal) releaseHostLocked(name string, cores int) {
	for _, h := range s.hosts {
		if h.spec.Name == name {
			h.idleCores += cores
			return
		}
	}
}

func (s *BareMetal) handleTerminateStandard(ctx context.Context, m messages.TerminateStandardJob) {
	s.mu.Lock()
	r, ok := s.running[m.JobID]
	if ok {
		delete(s.running, m.JobID)
	}
	s.mu.Unlock()

	if ok {
		r.exec.Kill()
		return
	}

	s.mu.Lock()
	for i, p := range s.pendingStandard {
		if p.j.ID == m.JobID {
			s.pendingStandard = append(s.pendingStandard[:i], s.pendingStandard[i+1:]...)
			p.j.MarkTerminated()
			break
		}
	}
	s.mu.Unlock()
}

func (s *BareMetal) handleTerminatePilot(ctx context.Context, m messages.TerminatePilotJob) {
	if nested, ok := s.registry.Get(m.JobID); ok {
		nested.Stop()
		s.registry.Remove(m.JobID)
	}
	s.mu.Lock()
	if p, ok := s.nestedPilots[m.JobID]; ok {
		delete(s.nestedPilots, m.JobID)
		p.MarkTerminated()
	}
	s.mu.Unlock()
}

func (s *BareMetal) handleTTLExpired(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.running = make(map[string]*runningOnHosts)
	s.stopped = true
	s.mu.Unlock()

	cause := failure.New(failure.JobKilled, "pilot job %s expired", s.pilotJobID)
	for _, r := range running {
		r.exec.Kill()
		if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobFailed{JobID: r.exec.JobID(), Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver StandardJobFailed on TTL expiration")
		}
	}

	if s.leased && s.parentSubmitterMailbox != "" {
		if err := s.sys.Send(ctx, actor.Name(s.parentSubmitterMailbox), messages.PilotJobExpired{JobID: s.pilotJobID}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver PilotJobExpired")
		}
	}
}

func (s *BareMetal) handleStop(ctx context.Context, m messages.StopService) {
	s.mu.Lock()
	s.stopped = true
	pending := s.pendingStandard
	s.pendingStandard = nil
	running := s.running
	s.running = make(map[string]*runningOnHosts)
	s.mu.Unlock()

	for _, p := range pending {
		p.j.MarkFailed(failure.New(failure.ServiceDown, "service %s stopped before job %s ran", s.name, p.j.ID))
		_ = s.sys.Send(ctx, actor.Name(p.submitterMailbox), messages.StandardJobFailed{
			JobID: p.j.ID,
			Cause: failure.New(failure.ServiceDown, "service %s stopped", s.name),
		})
	}
	for _, r := range running {
		r.exec.Kill()
	}

	if m.AnswerMailbox != "" {
		_ = s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.StoppedAck{})
	}
}
