package compute

import (
	"context"
	"fmt"
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

// pendingStandard is a queued standard job awaiting dispatch.
type pendingStandard struct {
	j                *job.StandardJob
	submitterMailbox string
}

type pendingPilot struct {
	p                *job.PilotJob
	submitterMailbox string
}

type runningStandard struct {
	exec             *executor.Executor
	cores            int
	ram              int64
	submitterMailbox string
}

// Multicore is the MulticoreComputeService of §4.4: an actor owning one
// host and N cores, accepting standard and pilot jobs, dispatching
// StandardJobExecutors, and optionally bounded by a lease TTL when it is
// itself the nested service body of a pilot job.
type Multicore struct {
	host string
	name string

	totalCores int
	totalRAM   int64
	idleCores  int
	idleRAM    int64
	flopRate   float64

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
	pendingPilot    []*pendingPilot
	running         map[string]*runningStandard // jobID -> running executor
	nestedPilots    map[string]*job.PilotJob    // jobID -> pilot job running as a nested service here

	// lease fields, set only when this service is the body of a pilot job.
	leased                 bool
	leaseDuration          float64
	pilotJobID             string
	parentSubmitterMailbox string

	stopped bool
}

// Config bundles the construction-time parameters of a Multicore service.
type Config struct {
	Host             string
	Name             string
	Cores            int
	RAM              int64
	CoreFlopRate     float64
	SupportsStandard bool
	SupportsPilot    bool
	Properties       executor.Properties
	Storage          map[string]storageservice.Service
}

// NewMulticore constructs a Multicore service. Call Start to spawn its
// actor loop.
func NewMulticore(cfg Config, clock *simclock.Clock, sys *actor.System, registry *Registry) *Multicore {
	if cfg.Properties.CoreFlopRate == nil {
		cfg.Properties.CoreFlopRate = map[string]float64{cfg.Host: cfg.CoreFlopRate}
	}
	return &Multicore{
		host:             cfg.Host,
		name:             cfg.Name,
		totalCores:       cfg.Cores,
		totalRAM:         cfg.RAM,
		idleCores:        cfg.Cores,
		idleRAM:          cfg.RAM,
		flopRate:         cfg.CoreFlopRate,
		supportsStandard: cfg.SupportsStandard,
		supportsPilot:    cfg.SupportsPilot,
		props:            cfg.Properties,
		storage:          cfg.Storage,
		clock:            clock,
		sys:              sys,
		registry:         registry,
		logger:           log.WithComponent("multicore").With().Str("service", cfg.Name).Logger(),
		running:          make(map[string]*runningStandard),
		nestedPilots:     make(map[string]*job.PilotJob),
	}
}

// AsLeasedNestedService marks svc as the nested compute service of a
// pilot job, bounding its lifetime to duration and naming the submitter to
// notify on expiration (§4.4, §9).
func (s *Multicore) AsLeasedNestedService(pilotJobID, parentSubmitterMailbox string, duration float64) {
	s.leased = true
	s.pilotJobID = pilotJobID
	s.parentSubmitterMailbox = parentSubmitterMailbox
	s.leaseDuration = duration
}

func (s *Multicore) Name() string { return s.name }

// Start spawns the service's actor loop.
func (s *Multicore) Start() *actor.Handle {
	return s.sys.Spawn(s.host, s.name, s.run)
}

func (s *Multicore) run(ctx context.Context, mb *actor.Mailbox) {
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

func (s *Multicore) mailboxName() actor.Name { return actor.Name(s.name) }

// SubmitStandardJob implements Service by sending a message to the
// service's own mailbox and letting the actor loop process it (§4.1:
// cross-actor communication is message-only).
func (s *Multicore) SubmitStandardJob(sj *job.StandardJob, submitterMailbox string) error {
	if !s.supportsStandard {
		return errNotSupported("standard")
	}
	sj.MarkSubmitted()
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.SubmitStandardJob{Job: sj, AnswerMailbox: submitterMailbox})
}

func (s *Multicore) SubmitPilotJob(pj *job.PilotJob, submitterMailbox string) error {
	if !s.supportsPilot {
		return errNotSupported("pilot")
	}
	pj.MarkSubmitted()
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.SubmitPilotJob{Job: pj, AnswerMailbox: submitterMailbox})
}

func (s *Multicore) TerminateStandardJob(jobID string) error {
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.TerminateStandardJob{JobID: jobID})
}

func (s *Multicore) TerminatePilotJob(jobID string) error {
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.TerminatePilotJob{JobID: jobID})
}

func (s *Multicore) SupportsJobType(standard bool) bool {
	if standard {
		return s.supportsStandard
	}
	return s.supportsPilot
}

func (s *Multicore) QueryResources() Resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl := -1.0
	if s.leased {
		ttl = float64(s.leaseDuration)
	}
	return Resources{
		TTL: ttl,
		PerHost: map[string]HostResources{
			s.host: {
				Cores:     s.totalCores,
				IdleCores: s.idleCores,
				RAM:       s.totalRAM,
				IdleRAM:   s.idleRAM,
				FlopRate:  s.flopRate,
			},
		},
	}
}

func (s *Multicore) Stop() {
	_ = s.sys.DSend(context.Background(), s.mailboxName(), messages.StopService{})
}

func (s *Multicore) handleSubmitStandard(ctx context.Context, m messages.SubmitStandardJob) {
	s.mu.Lock()
	need := minCoresNeeded(m.Job)
	if need > s.totalCores {
		s.mu.Unlock()
		cause := failure.New(failure.NotEnoughResources, "job needs %d cores, host %s only has %d", need, s.host, s.totalCores).WithJob(m.Job.ID)
		m.Job.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.StandardJobFailed{JobID: m.Job.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver StandardJobFailed for an unsatisfiable job")
		}
		return
	}
	s.pendingStandard = append(s.pendingStandard, &pendingStandard{j: m.Job, submitterMailbox: m.AnswerMailbox})
	s.mu.Unlock()
}

func (s *Multicore) handleSubmitPilot(ctx context.Context, m messages.SubmitPilotJob) {
	s.mu.Lock()
	if m.Job.NumHosts > 1 || m.Job.CoresPerHost > s.totalCores || m.Job.RAMPerHost > s.totalRAM {
		s.mu.Unlock()
		cause := failure.New(failure.NotEnoughResources, "pilot job needs %d host(s) with %d cores, this service offers 1 host with %d cores", m.Job.NumHosts, m.Job.CoresPerHost, s.totalCores).WithJob(m.Job.ID)
		m.Job.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.PilotJobFailed{JobID: m.Job.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver PilotJobFailed for an unsatisfiable lease")
		}
		return
	}
	s.pendingPilot = append(s.pendingPilot, &pendingPilot{p: m.Job, submitterMailbox: m.AnswerMailbox})
	s.mu.Unlock()
}

// dispatch allocates as many pending jobs as current idle resources allow
// (§4.4 "Dispatch as many pending jobs as cores allow").
func (s *Multicore) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	var toRun []*allocatedStandard
	var stillPending []*pendingStandard
	for _, p := range s.pendingStandard {
		if cores, ok := s.tryAllocateLocked(p.j); ok {
			toRun = append(toRun, &allocatedStandard{pending: p, cores: cores})
		} else {
			stillPending = append(stillPending, p)
		}
	}
	s.pendingStandard = stillPending

	var pilotsToGrant []*pendingPilot
	var stillPendingPilots []*pendingPilot
	for _, p := range s.pendingPilot {
		needCores := p.p.CoresPerHost
		if p.p.NumHosts > 1 {
			// this Multicore body is single-host; a multi-host pilot request
			// cannot be satisfied here.
			stillPendingPilots = append(stillPendingPilots, p)
			continue
		}
		if needCores <= s.idleCores && p.p.RAMPerHost <= s.idleRAM {
			s.idleCores -= needCores
			s.idleRAM -= p.p.RAMPerHost
			pilotsToGrant = append(pilotsToGrant, p)
		} else {
			stillPendingPilots = append(stillPendingPilots, p)
		}
	}
	s.pendingPilot = stillPendingPilots
	s.mu.Unlock()

	for _, a := range toRun {
		s.launchExecutor(a)
	}
	for _, p := range pilotsToGrant {
		s.grantPilot(p)
	}
}

type allocatedStandard struct {
	pending *pendingStandard
	cores   int
}

func minCoresNeeded(sj *job.StandardJob) int {
	need := 1
	for _, t := range sj.Tasks {
		if t.MinParallelism > need {
			need = t.MinParallelism
		}
	}
	return need
}

func (s *Multicore) launchExecutor(a *allocatedStandard) {
	p := a.pending
	alloc := map[string]job.Allocation{s.host: {Cores: a.cores, RAM: 0}}
	ex := executor.New(p.j, alloc, s.props, s.storage, s.clock, s.sys, s.name)
	s.mu.Lock()
	s.running[p.j.ID] = &runningStandard{exec: ex, cores: a.cores, submitterMailbox: p.submitterMailbox}
	s.mu.Unlock()
	s.sys.Spawn(s.host, fmt.Sprintf("%s-exec-%s", s.name, p.j.ID), ex.Run)
}

// tryAllocateLocked grants min_cores under executor.Minimum, or as many idle
// cores as max_parallelism allows under executor.Aggressive (§4.4), capped by
// currently idle cores rather than total capacity. Must be called with s.mu
// held; commits the debit against s.idleCores on success, mirroring
// BareMetal.tryAllocateLocked so a grant can never outrun what was reserved.
func (s *Multicore) tryAllocateLocked(sj *job.StandardJob) (int, bool) {
	need := minCoresNeeded(sj)
	if need > s.idleCores {
		return 0, false
	}
	cores := need
	if s.props.CoreAllocationPolicy == executor.Aggressive {
		max := need
		for _, t := range sj.Tasks {
			if t.MaxParallelism > max {
				max = t.MaxParallelism
			}
		}
		if max > s.idleCores {
			max = s.idleCores
		}
		cores = max
	}
	s.idleCores -= cores
	return cores, true
}

func (s *Multicore) grantPilot(p *pendingPilot) {
	nested := NewMulticore(Config{
		Host:             s.host,
		Name:             fmt.Sprintf("%s-pilot-%s", s.name, p.p.ID),
		Cores:            p.p.CoresPerHost,
		RAM:              p.p.RAMPerHost,
		CoreFlopRate:     s.flopRate,
		SupportsStandard: true,
		SupportsPilot:    false,
		Properties:       s.props,
		Storage:          s.storage,
	}, s.clock, s.sys, s.registry)
	nested.AsLeasedNestedService(p.p.ID, p.submitterMailbox, p.p.Duration)
	nested.Start()

	s.registry.Put(p.p.ID, nested)
	s.mu.Lock()
	s.nestedPilots[p.p.ID] = p.p
	s.mu.Unlock()

	p.p.MarkRunning(nested.name)
	s.logger.Debug().Str("pilot_job", p.p.ID).Float64("sim_time", float64(s.clock.Now())).Msg("pilot job granted")
	if err := s.sys.Send(context.Background(), actor.Name(p.submitterMailbox), messages.PilotJobStarted{JobID: p.p.ID, NestedServiceID: nested.name}); err != nil {
		s.logger.Warn().Err(err).Msg("could not deliver PilotJobStarted")
	}
}

func (s *Multicore) handleExecutorDone(ctx context.Context, m messages.StandardJobDone) {
	s.mu.Lock()
	r, ok := s.running[m.JobID]
	if ok {
		delete(s.running, m.JobID)
		s.idleCores += r.cores
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobDone{JobID: m.JobID}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobDone")
	}
}

func (s *Multicore) handleExecutorFailed(ctx context.Context, m messages.StandardJobFailed) {
	s.mu.Lock()
	r, ok := s.running[m.JobID]
	if ok {
		delete(s.running, m.JobID)
		s.idleCores += r.cores
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobFailed{JobID: m.JobID, Cause: m.Cause}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobFailed")
	}
}

func (s *Multicore) handleTerminateStandard(ctx context.Context, m messages.TerminateStandardJob) {
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

	// Not yet running: remove from the pending queue and mark TERMINATED.
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

func (s *Multicore) handleTerminatePilot(ctx context.Context, m messages.TerminatePilotJob) {
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

// handleTTLExpired implements §4.4's TTL-expired state: terminate, fail
// every running job with JobKilled, and notify the parent pilot-job
// submitter exactly once.
func (s *Multicore) handleTTLExpired(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.running = make(map[string]*runningStandard)
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

func (s *Multicore) handleStop(ctx context.Context, m messages.StopService) {
	s.mu.Lock()
	s.stopped = true
	pending := s.pendingStandard
	s.pendingStandard = nil
	running := s.running
	s.running = make(map[string]*runningStandard)
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
