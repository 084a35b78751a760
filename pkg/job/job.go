// Package job defines the job-level data model (§3): StandardJob, PilotJob,
// and the BatchJob wrapper the batch service and scheduler operate on.
// Jobs are owned by their submitter (the job manager); compute services
// hold only non-owning references to them, per §3's ownership rules.
package job

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// StandardJobState is the lifecycle of a StandardJob (§3).
type StandardJobState string

const (
	StandardNotSubmitted StandardJobState = "NOT_SUBMITTED"
	StandardPending      StandardJobState = "PENDING"
	StandardRunning      StandardJobState = "RUNNING"
	StandardCompleted    StandardJobState = "COMPLETED"
	StandardFailed       StandardJobState = "FAILED"
	StandardTerminated   StandardJobState = "TERMINATED"
)

// FileLocation names the storage service and mount point backing a file
// reference within a job (§3: "a mapping from each file to a
// (storage-service, mount-point) location").
type FileLocation struct {
	StorageService string
	MountPoint     string
}

// FileCopy is one entry of a pre- or post-copy list: move File from Src to
// Dst before (pre) or after (post) the job's tasks run.
type FileCopy struct {
	File *workflow.File
	Src  FileLocation
	Dst  FileLocation
}

// StandardJob is an ordered-or-parallel bundle of WorkflowTasks plus file
// placement and optional staging copies. It owns no tasks — it only
// references them (§3).
type StandardJob struct {
	ID    string
	Tasks []*workflow.Task

	FileLocations map[string]FileLocation // workflow.File.ID -> location
	PreCopies     []FileCopy
	PostCopies    []FileCopy

	SubmitterMailbox string
	SubmissionTime    float64

	mu    sync.Mutex
	state StandardJobState
	cause *failure.Cause
}

// NewStandardJob builds a NOT_SUBMITTED standard job.
func NewStandardJob(tasks []*workflow.Task, locations map[string]FileLocation, pre, post []FileCopy) *StandardJob {
	if locations == nil {
		locations = make(map[string]FileLocation)
	}
	return &StandardJob{
		ID:            "standard-job-" + uuid.NewString(),
		Tasks:         tasks,
		FileLocations: locations,
		PreCopies:     pre,
		PostCopies:    post,
		state:         StandardNotSubmitted,
	}
}

func (j *StandardJob) State() StandardJobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Cause returns the failure that ended the job, if any.
func (j *StandardJob) Cause() *failure.Cause {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cause
}

func (j *StandardJob) setState(s StandardJobState) {
	j.mu.Lock()
	if !isTerminal(j.state) {
		j.state = s
	}
	j.mu.Unlock()
}

// MarkSubmitted, MarkRunning, MarkCompleted, MarkFailed, MarkTerminated
// drive the job's lifecycle; a terminal state is sticky (§8:
// at-most-one-completion).
func (j *StandardJob) MarkSubmitted() { j.setState(StandardPending) }
func (j *StandardJob) MarkRunning()   { j.setState(StandardRunning) }

func (j *StandardJob) MarkCompleted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if isTerminal(j.state) {
		return
	}
	j.state = StandardCompleted
}

func (j *StandardJob) MarkFailed(cause *failure.Cause) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if isTerminal(j.state) {
		return
	}
	j.state = StandardFailed
	j.cause = cause
}

func (j *StandardJob) MarkTerminated() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if isTerminal(j.state) {
		return
	}
	j.state = StandardTerminated
}

func isTerminal(s StandardJobState) bool {
	switch s {
	case StandardCompleted, StandardFailed, StandardTerminated:
		return true
	default:
		return false
	}
}

// PilotJobState is the lifecycle of a PilotJob (§3).
type PilotJobState string

const (
	PilotNotSubmitted PilotJobState = "NOT_SUBMITTED"
	PilotPending      PilotJobState = "PENDING"
	PilotRunning      PilotJobState = "RUNNING"
	PilotExpired      PilotJobState = "EXPIRED"
	PilotFailed       PilotJobState = "FAILED"
	PilotTerminated   PilotJobState = "TERMINATED"
)

// PilotJob is a lease request for (num_hosts, cores_per_host, ram_per_host,
// duration); when granted it becomes a nested compute service (§3).
type PilotJob struct {
	ID             string
	NumHosts       int
	CoresPerHost   int
	RAMPerHost     int64
	Duration       float64

	SubmitterMailbox string

	mu              sync.Mutex
	state           PilotJobState
	cause           *failure.Cause
	nestedServiceID string // set once RUNNING; the id-registry key (§9)
}

func NewPilotJob(numHosts, coresPerHost int, ramPerHost int64, duration float64) *PilotJob {
	return &PilotJob{
		ID:           "pilot-job-" + uuid.NewString(),
		NumHosts:     numHosts,
		CoresPerHost: coresPerHost,
		RAMPerHost:   ramPerHost,
		Duration:     duration,
		state:        PilotNotSubmitted,
	}
}

func (p *PilotJob) State() PilotJobState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PilotJob) Cause() *failure.Cause {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// NestedServiceID returns the id-registry key for this pilot job's nested
// compute service, valid only while the pilot is RUNNING (§9).
func (p *PilotJob) NestedServiceID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nestedServiceID, p.state == PilotRunning
}

func (p *PilotJob) MarkSubmitted() { p.mu.Lock(); p.state = PilotPending; p.mu.Unlock() }

func (p *PilotJob) MarkRunning(nestedServiceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isPilotTerminal(p.state) {
		return
	}
	p.state = PilotRunning
	p.nestedServiceID = nestedServiceID
}

func (p *PilotJob) MarkExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isPilotTerminal(p.state) {
		return
	}
	p.state = PilotExpired
}

func (p *PilotJob) MarkFailed(cause *failure.Cause) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isPilotTerminal(p.state) {
		return
	}
	p.state = PilotFailed
	p.cause = cause
}

func (p *PilotJob) MarkTerminated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isPilotTerminal(p.state) {
		return
	}
	p.state = PilotTerminated
}

func isPilotTerminal(s PilotJobState) bool {
	switch s {
	case PilotExpired, PilotFailed, PilotTerminated:
		return true
	default:
		return false
	}
}

// Allocation maps a host name to the (cores, ram) granted to a job on it.
type Allocation struct {
	Cores int
	RAM   int64
}

// WrappedKind distinguishes what a BatchJob carries (§9: "tagged variant
// ... Multicore, BareMetal, Batch, PilotNested" generalizes to jobs too).
type WrappedKind string

const (
	WrappedStandard WrappedKind = "STANDARD"
	WrappedPilot    WrappedKind = "PILOT"
)

// BatchJob is the internal wrapper the batch service and scheduler operate
// on (§3). Once Begin is set the allocation is fixed until completion or
// termination — schedulers must not mutate Allocation after that point.
type BatchJob struct {
	ID               string
	RequestedNodes   int
	RequestedCores   int // cores per node
	RequestedWalltime float64
	Priority         int

	Kind     WrappedKind
	Standard *StandardJob
	Pilot    *PilotJob

	SubmissionTime float64
	Begin          *float64 // nil until started
	Allocation     map[string]Allocation

	mu sync.Mutex
}

// NewBatchJobStandard wraps a standard job for submission to a batch service.
func NewBatchJobStandard(sj *StandardJob, nodes, coresPerNode int, walltime float64, submitTime float64) *BatchJob {
	return &BatchJob{
		ID:                "batch-job-" + uuid.NewString(),
		RequestedNodes:    nodes,
		RequestedCores:    coresPerNode,
		RequestedWalltime: walltime,
		Kind:              WrappedStandard,
		Standard:          sj,
		SubmissionTime:    submitTime,
	}
}

// NewBatchJobPilot wraps a pilot job for submission to a batch service.
func NewBatchJobPilot(pj *PilotJob, nodes, coresPerNode int, walltime float64, submitTime float64) *BatchJob {
	return &BatchJob{
		ID:                "batch-job-" + uuid.NewString(),
		RequestedNodes:    nodes,
		RequestedCores:    coresPerNode,
		RequestedWalltime: walltime,
		Kind:              WrappedPilot,
		Pilot:             pj,
		SubmissionTime:    submitTime,
	}
}

// SetBegin fixes the job's start time and allocation. It is an error (a
// logic bug, per §5 "double-free is a logic bug") to call this twice.
func (b *BatchJob) SetBegin(now float64, alloc map[string]Allocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Begin != nil {
		return fmt.Errorf("job: batch job %s already has a fixed begin time", b.ID)
	}
	t := now
	b.Begin = &t
	b.Allocation = alloc
	return nil
}

// Started reports whether SetBegin has been called.
func (b *BatchJob) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Begin != nil
}

// FinishByWalltime returns the simulated date at which this job must be
// force-terminated if still running, valid only once Started.
func (b *BatchJob) FinishByWalltime() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Begin == nil {
		return 0, false
	}
	return *b.Begin + b.RequestedWalltime, true
}
