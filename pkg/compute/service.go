// Package compute implements the compute-service actors of §4.4/§4.5/§9:
// MulticoreComputeService (single host), BareMetalComputeService
// (multi-host), and the shared capability-set interface and pilot-job
// id-registry that let the rest of the module treat any of them
// polymorphically without back-pointers or inheritance trees.
package compute

import (
	"sync"

	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
)

// Service is the capability set of §9: "submit, terminate, query_resources,
// supports_job_type". Multicore and BareMetal, including the nested
// services pilot jobs spawn, implement this one interface instead of
// sitting in a class hierarchy. Batch does not implement it: it takes
// batch-form submissions through SubmitBatchJob/TerminateBatchJob.
type Service interface {
	Name() string
	SubmitStandardJob(sj *job.StandardJob, submitterMailbox string) error
	SubmitPilotJob(pj *job.PilotJob, submitterMailbox string) error
	TerminateStandardJob(jobID string) error
	TerminatePilotJob(jobID string) error
	SupportsJobType(standard bool) bool
	QueryResources() Resources
	Stop()
}

// Resources is a point-in-time resource snapshot (§4.4's getNumCores /
// getNumIdleCores / getTTL / getCoreFlopRate, generalized across hosts for
// BareMetal per §4.5).
type Resources struct {
	PerHost map[string]HostResources
	TTL     float64 // <=0 means no lease / unbounded
}

type HostResources struct {
	Cores     int
	IdleCores int
	RAM       int64
	IdleRAM   int64
	FlopRate  float64
}

// Registry is the process-owned lookup of pilot-job id -> nested service
// handle described in §9, used instead of cyclic back-pointers between a
// pilot job, its wrapping batch job, and its nested compute service. A
// single Registry is shared across Multicore/BareMetal/Batch actors, each
// on its own goroutine, so access is mutex-guarded like every other
// structure shared across actor boundaries (simclock.Clock,
// actor.System.mailboxes, job.StandardJob/PilotJob/BatchJob).
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

func (r *Registry) Put(pilotJobID string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[pilotJobID] = svc
}

func (r *Registry) Remove(pilotJobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, pilotJobID)
}

func (r *Registry) Get(pilotJobID string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[pilotJobID]
	return svc, ok
}

// errNotSupported builds a JobTypeNotSupported rejection (§7).
func errNotSupported(kind string) error {
	return failure.New(failure.JobTypeNotSupported, "%s jobs are not supported by this service", kind)
}
