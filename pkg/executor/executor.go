// Package executor implements the StandardJobExecutor (§4.3): a transient
// actor dedicated to running exactly one StandardJob across the hosts and
// cores it was allocated, staging files through storage services as it
// goes, and reporting completion or failure to a callback mailbox.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// CoreAllocationPolicy chooses how many cores a task receives within its
// host's free capacity (§4.3).
type CoreAllocationPolicy string

const (
	// Aggressive gives a task min(max_cores, free_cores_on_chosen_host).
	Aggressive CoreAllocationPolicy = "aggressive"
	// Minimum gives a task exactly min_cores.
	Minimum CoreAllocationPolicy = "minimum"
)

// Properties bundles the service-level configuration the executor needs
// (§4.3, §6).
type Properties struct {
	CoreAllocationPolicy  CoreAllocationPolicy
	ThreadStartupOverhead float64 // seconds, per core
	TaskStartupOverhead   float64 // seconds, per task
	ScratchPath           string
	CoreFlopRate          map[string]float64 // host -> flops/sec per core
}

// Executor runs one StandardJob to completion or failure.
type Executor struct {
	job        *job.StandardJob
	alloc      map[string]job.Allocation
	props      Properties
	storage    map[string]storageservice.Service
	clock      *simclock.Clock
	sys        *actor.System
	callbackMB string
	logger     zerolog.Logger

	mu        sync.Mutex
	freeCores map[string]int
	freeRAM   map[string]int64

	killed    bool
	nextToken int
	waiters   map[int]func()
	cancelRun context.CancelFunc
}

// New constructs an executor for job j, given its fixed allocation,
// service properties, and the storage-service registry needed to resolve
// FileLocations by name.
func New(j *job.StandardJob, alloc map[string]job.Allocation, props Properties,
	storage map[string]storageservice.Service, clock *simclock.Clock, sys *actor.System, callbackMailbox string) *Executor {

	freeCores := make(map[string]int, len(alloc))
	freeRAM := make(map[string]int64, len(alloc))
	for h, a := range alloc {
		freeCores[h] = a.Cores
		freeRAM[h] = a.RAM
	}
	return &Executor{
		job:        j,
		alloc:      alloc,
		props:      props,
		storage:    storage,
		clock:      clock,
		sys:        sys,
		callbackMB: callbackMailbox,
		logger:     log.WithComponent("executor").With().Str("job_id", j.ID).Logger(),
		freeCores:  freeCores,
		freeRAM:    freeRAM,
		waiters:    make(map[int]func()),
	}
}

// JobID returns the id of the StandardJob this executor is running.
func (e *Executor) JobID() string { return e.job.ID }

// Kill requests cooperative cancellation of all in-flight compute and I/O;
// the executor still reports StandardJobFailed(JobKilled) once it unwinds,
// never leaking its allocation (§4.3 termination contract). Any task
// currently asleep on simulated compute time has its timer pulled out of the
// clock's heap right here, synchronously, so a racing quiescence advance can
// never fire it after the kill: the owning task goroutine is left to notice
// the closed done-channel and report JobKilled on its own schedule.
func (e *Executor) Kill() {
	e.mu.Lock()
	e.killed = true
	cancels := make([]func(), 0, len(e.waiters))
	for _, c := range e.waiters {
		cancels = append(cancels, c)
	}
	runCancel := e.cancelRun
	e.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if runCancel != nil {
		runCancel()
	}
}

func (e *Executor) isKilled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killed
}

// sleepCompute blocks for d simulated seconds, or returns early with
// failure.JobKilled if Kill is called first. Unlike Sleep, the wait is
// registered through RegisterTimeout so Kill can cancel the pending timer
// itself instead of relying on context cancellation to race the clock's
// own advance.
func (e *Executor) sleepCompute(ctx context.Context, d simclock.Time) error {
	ch, cancel := e.clock.RegisterTimeout(d)

	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		cancel()
		return failure.New(failure.JobKilled, "job %s killed", e.job.ID)
	}
	token := e.nextToken
	e.nextToken++
	e.waiters[token] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, token)
		e.mu.Unlock()
	}()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Run drives the executor's actor body: stage pre-copies, run the task DAG
// to completion or first failure, stage post-copies, and report the
// outcome. It is meant to be passed to actor.System.Spawn.
func (e *Executor) Run(ctx context.Context, mb *actor.Mailbox) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancelRun = cancel
	alreadyKilled := e.killed
	e.mu.Unlock()
	if alreadyKilled {
		cancel()
	}

	e.job.MarkRunning()

	if err := e.runCopies(ctx, e.job.PreCopies); err != nil {
		e.fail(ctx, err)
		return
	}

	if err := e.runTaskDAG(ctx); err != nil {
		e.fail(ctx, err)
		return
	}

	if err := e.runCopies(ctx, e.job.PostCopies); err != nil {
		e.fail(ctx, err)
		return
	}

	e.job.MarkCompleted()
	e.logger.Debug().Float64("sim_time", float64(e.clock.Now())).Msg("standard job completed")
	if err := e.sys.Send(ctx, actor.Name(e.callbackMB), messages.StandardJobDone{JobID: e.job.ID}); err != nil {
		e.logger.Warn().Err(err).Msg("could not deliver StandardJobDone")
	}
}

func (e *Executor) runCopies(ctx context.Context, copies []job.FileCopy) error {
	for _, c := range copies {
		if e.isKilled() {
			return failure.New(failure.JobKilled, "job %s killed during staging", e.job.ID)
		}
		src, ok := e.storage[c.Src.StorageService]
		if !ok {
			return failure.New(failure.FileNotFound, "unknown source storage service %s", c.Src.StorageService)
		}
		dst, ok := e.storage[c.Dst.StorageService]
		if !ok {
			return failure.New(failure.FileNotFound, "unknown destination storage service %s", c.Dst.StorageService)
		}
		if err := dst.CopyFile(ctx, c.File, src, c.Src.MountPoint, c.Dst.MountPoint); err != nil {
			return err
		}
	}
	return nil
}

// runTaskDAG schedules every task in the job to completion, respecting
// intra-job file dependencies and the fixed core/ram allocation (§4.3
// steps 2-5).
func (e *Executor) runTaskDAG(ctx context.Context) error {
	dag := workflow.NewDAG()
	for _, t := range e.job.Tasks {
		dag.AddTask(t)
	}
	dag.RecomputeReadiness()

	remaining := len(e.job.Tasks)
	if remaining == 0 {
		return nil
	}

	results := make(chan taskOutcome, remaining)
	running := 0

	for remaining > 0 {
		if e.isKilled() {
			return failure.New(failure.JobKilled, "job %s killed", e.job.ID)
		}

		launched := false
		for _, t := range sortedReady(dag) {
			host, cores, ok := e.tryAllocate(t)
			if !ok {
				continue
			}
			launched = true
			running++
			_ = t.MarkPending()
			_ = t.MarkRunning()
			e.clock.RegisterActor()
			go func(t *workflow.Task, host string, cores int) {
				defer e.clock.UnregisterActor()
				e.runTask(ctx, t, host, cores, results)
			}(t, host, cores)
		}

		if !launched && running == 0 {
			return fmt.Errorf("executor: job %s deadlocked, no task schedulable with current allocation", e.job.ID)
		}

		e.clock.BeginWait()
		select {
		case res := <-results:
			e.clock.EndWait()
			running--
			remaining--
			e.release(res.host, res.cores, res.task)
			if res.err != nil {
				return res.err
			}
			_ = res.task.MarkComplete()
			dag.RecomputeReadiness()
		case <-ctx.Done():
			e.clock.EndWait()
			return ctx.Err()
		}
	}
	return nil
}

func sortedReady(dag *workflow.DAG) []*workflow.Task {
	ready := dag.Ready()
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// tryAllocate picks the first host in the job's allocation with enough
// free cores and ram for t, per the configured core-allocation policy
// (§4.3 step 3).
func (e *Executor) tryAllocate(t *workflow.Task) (host string, cores int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hosts := make([]string, 0, len(e.alloc))
	for h := range e.alloc {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		free := e.freeCores[h]
		if free < t.MinParallelism {
			continue
		}
		if e.freeRAM[h] < t.Memory {
			continue
		}
		grant := t.MinParallelism
		if e.props.CoreAllocationPolicy == Aggressive {
			grant = t.MaxParallelism
			if grant > free {
				grant = free
			}
		}
		e.freeCores[h] -= grant
		e.freeRAM[h] -= t.Memory
		return h, grant, true
	}
	return "", 0, false
}

func (e *Executor) release(host string, cores int, t *workflow.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeCores[host] += cores
	e.freeRAM[host] += t.Memory
}

type taskOutcome struct {
	task  *workflow.Task
	host  string
	cores int
	err   error
}

func (e *Executor) runTask(ctx context.Context, t *workflow.Task, host string, cores int, results chan<- taskOutcome) {
	for _, f := range t.InputFiles {
		if loc, ok := e.job.FileLocations[f.ID]; ok {
			if svc, ok := e.storage[loc.StorageService]; ok {
				if err := svc.ReadFile(ctx, f, loc.MountPoint); err != nil {
					t.MarkFailed()
					results <- taskOutcome{t, host, cores, err}
					return
				}
			}
		}
	}

	coreFlops := e.props.CoreFlopRate[host]
	if coreFlops <= 0 {
		coreFlops = 1
	}
	computeSecs, err := t.ComputeTimeSeconds(cores, coreFlops)
	if err != nil {
		t.MarkFailed()
		results <- taskOutcome{t, host, cores, err}
		return
	}
	overhead := e.props.TaskStartupOverhead + e.props.ThreadStartupOverhead*float64(cores)

	if e.isKilled() {
		t.MarkFailed()
		results <- taskOutcome{t, host, cores, failure.New(failure.JobKilled, "task %s killed before running", t.ID).WithJob(e.job.ID)}
		return
	}

	if err := e.sleepCompute(ctx, simclock.Time(computeSecs+overhead)); err != nil {
		t.MarkFailed()
		results <- taskOutcome{t, host, cores, err}
		return
	}

	for _, f := range t.OutputFiles {
		if loc, ok := e.job.FileLocations[f.ID]; ok {
			if svc, ok := e.storage[loc.StorageService]; ok {
				if err := svc.WriteFile(ctx, f, loc.MountPoint); err != nil {
					t.MarkFailed()
					results <- taskOutcome{t, host, cores, err}
					return
				}
			}
		}
	}

	results <- taskOutcome{t, host, cores, nil}
}

func (e *Executor) fail(ctx context.Context, err error) {
	cause, ok := err.(*failure.Cause)
	if !ok {
		if e.isKilled() {
			cause = failure.New(failure.JobKilled, "job %s killed", e.job.ID)
		} else {
			cause = failure.New(failure.FatalFailure, "%v", err)
		}
	}
	e.job.MarkFailed(cause)
	e.logger.Warn().Err(err).Float64("sim_time", float64(e.clock.Now())).Msg("standard job failed")
	// ctx is already cancelled after Kill; report on a fresh context so the
	// StandardJobFailed notice is still delivered.
	if sendErr := e.sys.Send(context.Background(), actor.Name(e.callbackMB), messages.StandardJobFailed{JobID: e.job.ID, Cause: cause}); sendErr != nil {
		e.logger.Warn().Err(sendErr).Msg("could not deliver StandardJobFailed")
	}
}
