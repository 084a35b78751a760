// Package simulation implements the Simulation shell of §2/§9: the single
// owner of every compute service, storage service, and manager actor in a
// run, plus the host-list platform description (§6) every service is built
// against. It has no scheduling logic of its own — it only manages
// lifecycle: init, add services, launch, shutdown.
package simulation

import (
	"math/rand"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/datamovement"
	"github.com/wrenchsim/wrenchsim/pkg/events"
	"github.com/wrenchsim/wrenchsim/pkg/jobmanager"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
)

// HostSpec describes one entry of the host-list platform description (§6):
// core count, RAM, and flop rate, the way a platform XML file would for the
// underlying simulator.
type HostSpec struct {
	Cores    int
	RAM      int64
	FlopRate float64
}

// Config parameterizes a Simulation (§9: "TTL, random seeds, and logging
// configuration live on the simulation object").
type Config struct {
	// BandwidthBps is the link bandwidth actor.System uses for transfer
	// delay; 0 models an instantaneous link.
	BandwidthBps float64
	// RandSeed seeds the simulation's random source, kept here rather than
	// in any individual service so a run is reproducible end to end.
	RandSeed int64
}

// stoppable is satisfied by every actor a Simulation owns: compute
// services, the job manager, and the data movement manager all expose a
// no-argument Stop.
type stoppable interface {
	Stop()
}

// Simulation is the single owner of every compute service in a run (§3:
// "the simulation exclusively owns all compute services"). It also holds
// the host-list platform description, the shared clock and actor system,
// the pilot-job registry, and a reproducible random source.
type Simulation struct {
	clock    *simclock.Clock
	sys      *actor.System
	registry *compute.Registry
	rand     *rand.Rand
	logger   zerolog.Logger
	events   *events.Broker

	hosts           map[string]HostSpec
	services        []stoppable
	computeServices []compute.Service
	storageServices map[string]storageservice.Service

	launched bool
	shutdown bool
}

// New builds a Simulation. The clock and actor system it creates are
// shared by every service subsequently added to it.
func New(cfg Config) *Simulation {
	clock := simclock.New()
	broker := events.NewBroker()
	broker.Start()
	return &Simulation{
		clock:           clock,
		sys:             actor.NewSystem(clock, cfg.BandwidthBps),
		registry:        compute.NewRegistry(),
		rand:            rand.New(rand.NewSource(cfg.RandSeed)),
		logger:          log.WithComponent("simulation"),
		events:          broker,
		hosts:           make(map[string]HostSpec),
		storageServices: make(map[string]storageservice.Service),
	}
}

// Events returns the simulation's event broker, for observers outside the
// actor system (a CLI progress view, a test assertion) that want host,
// compute-service, job, and file-copy lifecycle notifications without
// addressing a mailbox.
func (s *Simulation) Events() *events.Broker { return s.events }

// Clock returns the simulation's shared discrete-event clock.
func (s *Simulation) Clock() *simclock.Clock { return s.clock }

// System returns the shared actor system, needed to construct any service
// bound to this simulation.
func (s *Simulation) System() *actor.System { return s.sys }

// Registry returns the pilot-job id -> nested-service lookup (§9) shared by
// every compute service in this simulation.
func (s *Simulation) Registry() *compute.Registry { return s.registry }

// Rand returns the simulation's seeded random source (§9: "random seeds ...
// live on the simulation object").
func (s *Simulation) Rand() *rand.Rand { return s.rand }

// AddHost registers a host in the platform description (§6: "the core
// accepts a host-list API"). Hosts must be added before any service that
// references them is started.
func (s *Simulation) AddHost(name string, spec HostSpec) {
	s.hosts[name] = spec
	s.events.Publish(&events.Event{
		Type:     events.EventHostJoined,
		Message:  "host joined the platform description",
		Metadata: map[string]string{"host": name},
	})
}

// Hosts lists every host name in the platform description.
func (s *Simulation) Hosts() []string {
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	return names
}

// HostSpec looks up one host's declared capacity.
func (s *Simulation) HostSpec(name string) (HostSpec, bool) {
	spec, ok := s.hosts[name]
	return spec, ok
}

// AddComputeService registers an already-constructed, already-started
// compute service with the simulation so Shutdown can stop it. The
// simulation never constructs services itself — callers build a Multicore
// or BareMetal service against Clock()/System()/Registry() and hand it here
// for ownership. A Batch service is not a compute.Service and is not
// accepted here.
func (s *Simulation) AddComputeService(svc compute.Service) {
	s.services = append(s.services, svc)
	s.computeServices = append(s.computeServices, svc)
	s.events.Publish(&events.Event{
		Type:     events.EventComputeServiceStarted,
		Message:  "compute service registered with the simulation",
		Metadata: map[string]string{"service": svc.Name()},
	})
}

// ComputeServices lists every compute.Service the simulation owns, in
// registration order. A metrics collector polls this to report per-host
// idle capacity without the simulation itself depending on pkg/metrics.
func (s *Simulation) ComputeServices() []compute.Service {
	out := make([]compute.Service, len(s.computeServices))
	copy(out, s.computeServices)
	return out
}

// AddStorageService registers a named storage service, making it
// discoverable by name the way job and file-copy locations reference
// storage services throughout this module.
func (s *Simulation) AddStorageService(name string, svc storageservice.Service) {
	s.storageServices[name] = svc
	s.events.Publish(&events.Event{
		Type:     events.EventStorageServiceAttached,
		Message:  "storage service registered with the simulation",
		Metadata: map[string]string{"storage_service": name},
	})
}

// StorageService looks up a registered storage service by name.
func (s *Simulation) StorageService(name string) (storageservice.Service, bool) {
	svc, ok := s.storageServices[name]
	return svc, ok
}

// Launch starts the job manager and data movement manager that every
// workflow-manager-facing operation goes through, binding them to host.
// Compute and storage services are expected to already be running by the
// time Launch is called (§4.1: spawn starts an actor; main_fn runs until
// it returns — nothing in the shell needs to happen afterward for them).
func (s *Simulation) Launch(host, workflowMailbox string) (*jobmanager.JobManager, *datamovement.Manager) {
	jm := jobmanager.New("job-manager", actor.Name(workflowMailbox), s.clock, s.sys)
	jm.SetBroker(s.events)
	jm.Start(host)
	s.services = append(s.services, jm)

	dm := datamovement.New("data-movement-manager", actor.Name(workflowMailbox), s.clock, s.sys)
	dm.SetBroker(s.events)
	dm.Start(host)
	s.services = append(s.services, dm)

	s.launched = true
	return jm, dm
}

// Shutdown stops every service the simulation owns, in registration order,
// and is idempotent.
func (s *Simulation) Shutdown() {
	if s.shutdown {
		return
	}
	s.shutdown = true
	for _, svc := range s.services {
		svc.Stop()
	}
	for _, svc := range s.computeServices {
		s.events.Publish(&events.Event{
			Type:     events.EventComputeServiceStopped,
			Message:  "compute service stopped",
			Metadata: map[string]string{"service": svc.Name()},
		})
	}
	s.events.Stop()
	s.logger.Info().Int("services_stopped", len(s.services)).Msg("simulation shut down")
}
