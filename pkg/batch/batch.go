// Package batch implements the BatchComputeService of §4.6: a queueing
// layer over a uniform host fleet that delegates ordering and placement
// decisions to a pluggable scheduler.Scheduler, enforces walltime with an
// Alarm per running job, and treats a granted pilot job as a lease exactly
// like the space-shared services do (§4.4, §9).
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/alarm"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/metrics"
	"github.com/wrenchsim/wrenchsim/pkg/scheduler"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
)

// runningBatchJob is a started BatchJob's bookkeeping: the executor it
// drives (nil for a pilot-kind job), the hosts it holds, and the mailbox
// of its submitter. The walltime alarm is not kept here.
type runningBatchJob struct {
	bj               *job.BatchJob
	exec             *executor.Executor // nil for a pilot-kind job
	hosts            []string
	submitterMailbox string
}

// Config bundles the construction-time parameters of a Batch service.
type Config struct {
	Name       string
	Hosts      []compute.HostSpec // uniform: every host shares cores/flop-rate
	Scheduler  scheduler.Scheduler
	Properties executor.Properties
	Storage    map[string]storageservice.Service
}

// Batch is the BatchComputeService of §4.6.
type Batch struct {
	name  string
	hosts []compute.HostSpec
	fleet scheduler.Fleet

	sched   scheduler.Scheduler
	props   executor.Properties
	storage map[string]storageservice.Service

	clock    *simclock.Clock
	sys      *actor.System
	registry *compute.Registry
	logger   zerolog.Logger

	mu             sync.Mutex
	queue          []*job.BatchJob
	submitterOf    map[string]string // batch job id -> submitter mailbox
	running        map[string]*runningBatchJob
	batchJobOfExec map[string]string // standard job id -> batch job id, for executor callbacks
	stopped        bool
}

// New constructs a Batch service. Call Start to spawn its actor loop.
func New(cfg Config, clock *simclock.Clock, sys *actor.System, registry *compute.Registry) *Batch {
	coresPerHost := 0
	if len(cfg.Hosts) > 0 {
		coresPerHost = cfg.Hosts[0].Cores
	}
	names := make([]string, len(cfg.Hosts))
	if cfg.Properties.CoreFlopRate == nil {
		cfg.Properties.CoreFlopRate = make(map[string]float64, len(cfg.Hosts))
	}
	for i, h := range cfg.Hosts {
		names[i] = h.Name
		if _, ok := cfg.Properties.CoreFlopRate[h.Name]; !ok {
			cfg.Properties.CoreFlopRate[h.Name] = h.FlopRate
		}
	}
	return &Batch{
		name:        cfg.Name,
		hosts:       cfg.Hosts,
		fleet:       scheduler.Fleet{Hosts: names, CoresPerHost: coresPerHost},
		sched:       cfg.Scheduler,
		props:       cfg.Properties,
		storage:     cfg.Storage,
		clock:       clock,
		sys:         sys,
		registry:    registry,
		logger:      log.WithComponent("batch").With().Str("service", cfg.Name).Logger(),
		submitterOf:    make(map[string]string),
		running:        make(map[string]*runningBatchJob),
		batchJobOfExec: make(map[string]string),
	}
}

func (s *Batch) Name() string { return s.name }

func (s *Batch) Start() *actor.Handle {
	host := ""
	if len(s.hosts) > 0 {
		host = s.hosts[0].Name
	}
	return s.sys.Spawn(host, s.name, s.run)
}

func (s *Batch) mailboxName() actor.Name { return actor.Name(s.name) }

func (s *Batch) run(ctx context.Context, mb *actor.Mailbox) {
	for {
		msg, err := actor.Recv(ctx, s.clock, mb, 0)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case messages.SubmitBatchJob:
			s.handleSubmit(ctx, m)
		case messages.TerminateBatchJob:
			s.handleTerminate(ctx, m)
		case messages.StandardJobDone:
			s.handleExecutorDone(ctx, m)
		case messages.StandardJobFailed:
			s.handleExecutorFailed(ctx, m)
		case messages.WalltimeExpired:
			s.handleWalltimeExpired(ctx, m)
		case messages.EstimateStartTimesRequest:
			s.handleEstimate(ctx, m)
		case messages.StopService:
			s.handleStop(ctx, m)
			return
		}
	}
}

// SubmitBatchJob queues bj and re-evaluates the scheduler for a placement
// decision (§4.6: "jobs enter batch_queue in arrival order").
func (s *Batch) SubmitBatchJob(bj *job.BatchJob, submitterMailbox string) error {
	if bj.Kind == job.WrappedStandard {
		bj.Standard.MarkSubmitted()
	} else {
		bj.Pilot.MarkSubmitted()
	}
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.SubmitBatchJob{BatchJob: bj, AnswerMailbox: submitterMailbox})
}

func (s *Batch) TerminateBatchJob(jobID string) error {
	return s.sys.DSend(context.Background(), s.mailboxName(), messages.TerminateBatchJob{BatchJobID: jobID})
}

// EstimateStartTimes runs the scheduler's pure estimation function against
// the service's current queue/fleet state (§4.6).
func (s *Batch) EstimateStartTimes(ctx context.Context, requests []scheduler.Job, answerMailbox string) (map[string]float64, error) {
	if err := s.sys.Send(ctx, s.mailboxName(), messages.EstimateStartTimesRequest{Requests: requests, AnswerMailbox: answerMailbox}); err != nil {
		return nil, err
	}
	reply, err := actor.Recv(ctx, s.clock, s.sys.Register(actor.Name(answerMailbox)), 0)
	if err != nil {
		return nil, err
	}
	r, ok := reply.(messages.EstimateStartTimesReply)
	if !ok {
		return nil, fmt.Errorf("batch: unexpected reply type %T", reply)
	}
	return r.Estimates, nil
}

func (s *Batch) QueryResources() compute.Resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := make(map[string]int, len(s.hosts))
	for _, r := range s.running {
		for _, h := range r.hosts {
			used[h] += r.bj.RequestedCores
		}
	}
	perHost := make(map[string]compute.HostResources, len(s.hosts))
	for _, h := range s.hosts {
		perHost[h.Name] = compute.HostResources{
			Cores:     h.Cores,
			IdleCores: h.Cores - used[h.Name],
			RAM:       h.RAM,
			IdleRAM:   h.RAM,
			FlopRate:  h.FlopRate,
		}
	}
	return compute.Resources{TTL: -1, PerHost: perHost}
}

func (s *Batch) Stop() {
	_ = s.sys.DSend(context.Background(), s.mailboxName(), messages.StopService{})
}

func (s *Batch) handleSubmit(ctx context.Context, m messages.SubmitBatchJob) {
	bj := m.BatchJob
	if bj.RequestedNodes > len(s.fleet.Hosts) || bj.RequestedCores > s.fleet.CoresPerHost {
		cause := failure.New(failure.NotEnoughResources, "job needs %d node(s) x %d cores, fleet %s only has %d node(s) x %d cores",
			bj.RequestedNodes, bj.RequestedCores, s.name, len(s.fleet.Hosts), s.fleet.CoresPerHost).WithJob(bj.ID)
		s.failBatchJob(ctx, bj, m.AnswerMailbox, cause)
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, bj)
	s.submitterOf[bj.ID] = m.AnswerMailbox
	ctxState := s.contextLocked()
	s.mu.Unlock()

	placements := s.sched.OnSubmit(ctxState)
	s.applyPlacements(ctx, placements)
}

// failBatchJob rejects a job that can never be placed on this fleet,
// without ever entering the queue (§4.6's scan would otherwise stall on it
// forever under FCFS's "never skip ahead" rule).
func (s *Batch) failBatchJob(ctx context.Context, bj *job.BatchJob, submitter string, cause *failure.Cause) {
	switch bj.Kind {
	case job.WrappedStandard:
		bj.Standard.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(submitter), messages.StandardJobFailed{JobID: bj.Standard.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver StandardJobFailed for an unsatisfiable batch job")
		}
	case job.WrappedPilot:
		bj.Pilot.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(submitter), messages.PilotJobFailed{JobID: bj.Pilot.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver PilotJobFailed for an unsatisfiable batch job")
		}
	}
}

func (s *Batch) handleExecutorDone(ctx context.Context, m messages.StandardJobDone) {
	s.mu.Lock()
	batchJobID, ok := s.batchJobOfExec[m.JobID]
	var r *runningBatchJob
	if ok {
		delete(s.batchJobOfExec, m.JobID)
		r, ok = s.running[batchJobID]
	}
	if ok {
		delete(s.running, batchJobID)
		delete(s.submitterOf, batchJobID)
	}
	ctxState := s.contextLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobDone{JobID: r.bj.Standard.ID}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobDone")
	}

	placements := s.sched.OnCompletion(ctxState)
	s.applyPlacements(ctx, placements)
}

func (s *Batch) handleExecutorFailed(ctx context.Context, m messages.StandardJobFailed) {
	s.mu.Lock()
	batchJobID, ok := s.batchJobOfExec[m.JobID]
	var r *runningBatchJob
	if ok {
		delete(s.batchJobOfExec, m.JobID)
		r, ok = s.running[batchJobID]
	}
	if ok {
		delete(s.running, batchJobID)
		delete(s.submitterOf, batchJobID)
	}
	ctxState := s.contextLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobFailed{JobID: r.bj.Standard.ID, Cause: m.Cause}); err != nil {
		s.logger.Warn().Err(err).Msg("could not forward StandardJobFailed")
	}

	placements := s.sched.OnCompletion(ctxState)
	s.applyPlacements(ctx, placements)
}

// handleWalltimeExpired implements §4.6's walltime enforcement: force-fail
// any task still running with JobTimeout and free its hosts. The alarm
// that delivered this message is not canceled when a job finishes early
// (§4.2: alarms race their payload against other events); a no-op lookup
// miss here is the expected outcome of that race.
func (s *Batch) handleWalltimeExpired(ctx context.Context, m messages.WalltimeExpired) {
	s.mu.Lock()
	r, ok := s.running[m.BatchJobID]
	if ok {
		delete(s.running, m.BatchJobID)
		delete(s.submitterOf, m.BatchJobID)
	}
	ctxState := s.contextLocked()
	s.mu.Unlock()
	if !ok {
		return
	}

	cause := failure.New(failure.JobTimeout, "batch job %s exceeded its walltime", m.BatchJobID)
	if r.bj.Kind == job.WrappedStandard {
		r.exec.Kill()
		s.mu.Lock()
		delete(s.batchJobOfExec, r.bj.Standard.ID)
		s.mu.Unlock()
		r.bj.Standard.MarkFailed(cause)
		if err := s.sys.Send(ctx, actor.Name(r.submitterMailbox), messages.StandardJobFailed{JobID: r.bj.Standard.ID, Cause: cause}); err != nil {
			s.logger.Warn().Err(err).Msg("could not deliver StandardJobFailed on walltime expiration")
		}
	} else {
		// The nested service's own TTL (armed with the same duration) has
		// already killed its inner jobs and notified the submitter with
		// PilotJobExpired; this branch only reclaims the batch-level
		// bookkeeping and the reserved hosts.
		if nested, ok := s.registry.Get(r.bj.Pilot.ID); ok {
			nested.Stop()
			s.registry.Remove(r.bj.Pilot.ID)
		}
	}

	placements := s.sched.OnTimeout(ctxState)
	s.applyPlacements(ctx, placements)
}

func (s *Batch) handleTerminate(ctx context.Context, m messages.TerminateBatchJob) {
	s.mu.Lock()
	r, ok := s.running[m.BatchJobID]
	if ok {
		delete(s.running, m.BatchJobID)
		delete(s.submitterOf, m.BatchJobID)
	}
	s.mu.Unlock()

	if ok {
		if r.bj.Kind == job.WrappedStandard {
			r.exec.Kill()
			s.mu.Lock()
			delete(s.batchJobOfExec, r.bj.Standard.ID)
			s.mu.Unlock()
			r.bj.Standard.MarkTerminated()
		} else {
			if nested, ok := s.registry.Get(r.bj.Pilot.ID); ok {
				nested.Stop()
				s.registry.Remove(r.bj.Pilot.ID)
			}
			r.bj.Pilot.MarkTerminated()
		}
		return
	}

	s.mu.Lock()
	for i, bj := range s.queue {
		if bj.ID == m.BatchJobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			delete(s.submitterOf, bj.ID)
			if bj.Kind == job.WrappedStandard {
				bj.Standard.MarkTerminated()
			} else {
				bj.Pilot.MarkTerminated()
			}
			break
		}
	}
	s.mu.Unlock()
}

func (s *Batch) handleEstimate(ctx context.Context, m messages.EstimateStartTimesRequest) {
	s.mu.Lock()
	ctxState := s.contextLocked()
	s.mu.Unlock()

	estimates := s.sched.EstimateStartTimes(ctxState, m.Requests)
	if m.AnswerMailbox == "" {
		return
	}
	if err := s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.EstimateStartTimesReply{Estimates: estimates}); err != nil {
		s.logger.Warn().Err(err).Msg("could not deliver EstimateStartTimesReply")
	}
}

func (s *Batch) handleStop(ctx context.Context, m messages.StopService) {
	s.mu.Lock()
	s.stopped = true
	queue := s.queue
	s.queue = nil
	running := s.running
	s.running = make(map[string]*runningBatchJob)
	s.mu.Unlock()

	for _, bj := range queue {
		cause := failure.New(failure.ServiceDown, "service %s stopped before batch job %s ran", s.name, bj.ID)
		submitter := s.submitterOf[bj.ID]
		if bj.Kind == job.WrappedStandard {
			bj.Standard.MarkFailed(cause)
			_ = s.sys.Send(ctx, actor.Name(submitter), messages.StandardJobFailed{JobID: bj.Standard.ID, Cause: cause})
		} else {
			bj.Pilot.MarkFailed(cause)
		}
	}
	for _, r := range running {
		if r.bj.Kind == job.WrappedStandard {
			r.exec.Kill()
		} else if nested, ok := s.registry.Get(r.bj.Pilot.ID); ok {
			nested.Stop()
			s.registry.Remove(r.bj.Pilot.ID)
		}
	}

	if m.AnswerMailbox != "" {
		_ = s.sys.Send(ctx, actor.Name(m.AnswerMailbox), messages.StoppedAck{})
	}
}

// contextLocked snapshots the current queue/fleet state as a
// scheduler.SchedulingContext. Must be called with s.mu held.
func (s *Batch) contextLocked() scheduler.SchedulingContext {
	queue := make([]scheduler.Job, len(s.queue))
	for i, bj := range s.queue {
		queue[i] = toSchedulerJob(bj)
	}
	running := make([]scheduler.Placement, 0, len(s.running))
	for _, r := range s.running {
		var startVal float64
		if r.bj.Begin != nil {
			startVal = *r.bj.Begin
		}
		finish, _ := r.bj.FinishByWalltime()
		running = append(running, scheduler.Placement{
			JobID:        r.bj.ID,
			Hosts:        r.hosts,
			Start:        startVal,
			Finish:       finish,
			CoresPerNode: r.bj.RequestedCores,
		})
	}
	return scheduler.SchedulingContext{
		Now:     float64(s.clock.Now()),
		Fleet:   s.fleet,
		Queue:   queue,
		Running: running,
	}
}

func toSchedulerJob(bj *job.BatchJob) scheduler.Job {
	flops := 0.0
	if bj.Kind == job.WrappedStandard {
		for _, t := range bj.Standard.Tasks {
			flops += t.Flops
		}
	}
	return scheduler.Job{
		ID:             bj.ID,
		NumNodes:       bj.RequestedNodes,
		CoresPerNode:   bj.RequestedCores,
		Walltime:       bj.RequestedWalltime,
		SubmissionTime: bj.SubmissionTime,
		Priority:       bj.Priority,
		Flops:          flops,
	}
}

// applyPlacements commits every placement the scheduler returned: fixes
// the batch job's begin time and allocation, starts its executor or nested
// pilot service, and arms a walltime Alarm.
func (s *Batch) applyPlacements(ctx context.Context, placements []scheduler.Placement) {
	for _, p := range placements {
		s.mu.Lock()
		var bj *job.BatchJob
		idx := -1
		for i, q := range s.queue {
			if q.ID == p.JobID {
				bj = q
				idx = i
				break
			}
		}
		if bj == nil {
			s.mu.Unlock()
			continue
		}
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		submitter := s.submitterOf[bj.ID]
		s.mu.Unlock()

		alloc := make(map[string]job.Allocation, len(p.Hosts))
		for _, h := range p.Hosts {
			alloc[h] = job.Allocation{Cores: p.CoresPerNode, RAM: 0}
		}
		if err := bj.SetBegin(float64(s.clock.Now()), alloc); err != nil {
			s.logger.Warn().Err(err).Str("batch_job", bj.ID).Msg("scheduler re-placed an already-started job")
			continue
		}
		metrics.QueueingDelaySeconds.Observe(float64(s.clock.Now()) - bj.SubmissionTime)

		s.startPlacement(ctx, bj, p, submitter)
	}
}

func (s *Batch) startPlacement(ctx context.Context, bj *job.BatchJob, p scheduler.Placement, submitter string) {
	r := &runningBatchJob{bj: bj, hosts: p.Hosts, submitterMailbox: submitter}

	if bj.Kind == job.WrappedStandard {
		alloc := make(map[string]job.Allocation, len(p.Hosts))
		for _, h := range p.Hosts {
			alloc[h] = job.Allocation{Cores: p.CoresPerNode, RAM: 0}
		}
		ex := executor.New(bj.Standard, alloc, s.props, s.storage, s.clock, s.sys, s.name)
		r.exec = ex
		s.mu.Lock()
		s.batchJobOfExec[bj.Standard.ID] = bj.ID
		s.mu.Unlock()
		s.sys.Spawn(firstOf(p.Hosts), fmt.Sprintf("%s-exec-%s", s.name, bj.ID), ex.Run)
	} else {
		s.grantPilot(bj, p, submitter)
	}

	s.mu.Lock()
	s.running[bj.ID] = r
	s.mu.Unlock()

	deadline := simclock.Time(float64(s.clock.Now()) + bj.RequestedWalltime)
	a := alarm.New(deadline, firstOf(p.Hosts), s.mailboxName(), messages.WalltimeExpired{BatchJobID: bj.ID})
	a.Start(s.sys, fmt.Sprintf("%s-walltime-%s", s.name, bj.ID))

	s.logger.Debug().
		Str("batch_job", bj.ID).
		Float64("sim_time", float64(s.clock.Now())).
		Strs("hosts", p.Hosts).
		Msg("batch job started")
}

// grantPilot builds the nested compute service a granted pilot-kind batch
// job leases, scoped to exactly the hosts and cores the scheduler placed
// it on (§4.6, §9).
func (s *Batch) grantPilot(bj *job.BatchJob, p scheduler.Placement, submitter string) compute.Service {
	hostSpecs := make([]compute.HostSpec, 0, len(p.Hosts))
	for _, name := range p.Hosts {
		for _, h := range s.hosts {
			if h.Name == name {
				hostSpecs = append(hostSpecs, compute.HostSpec{Name: h.Name, Cores: p.CoresPerNode, RAM: h.RAM, FlopRate: h.FlopRate})
				break
			}
		}
	}
	nested := compute.NewBareMetal(compute.BareMetalConfig{
		Name:             fmt.Sprintf("%s-pilot-%s", s.name, bj.ID),
		Hosts:            hostSpecs,
		SupportsStandard: true,
		SupportsPilot:    false,
		Properties:       s.props,
		Storage:          s.storage,
	}, s.clock, s.sys, s.registry)
	nested.AsLeasedNestedService(bj.Pilot.ID, submitter, bj.RequestedWalltime)
	nested.Start()

	s.registry.Put(bj.Pilot.ID, nested)
	bj.Pilot.MarkRunning(nested.Name())
	if err := s.sys.Send(context.Background(), actor.Name(submitter), messages.PilotJobStarted{JobID: bj.Pilot.ID, NestedServiceID: nested.Name()}); err != nil {
		s.logger.Warn().Err(err).Msg("could not deliver PilotJobStarted")
	}
	return nested
}

func firstOf(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}
