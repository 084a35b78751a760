package metrics

import (
	"fmt"
	"time"

	"github.com/wrenchsim/wrenchsim/pkg/compute"
)

// ServiceLister is the subset of *simulation.Simulation a Collector polls;
// kept narrow so metrics doesn't import pkg/simulation (which already
// imports pkg/jobmanager and pkg/datamovement, both far from metrics'
// concerns).
type ServiceLister interface {
	ComputeServices() []compute.Service
}

// Collector periodically polls every compute service's QueryResources and
// republishes the result as per-host gauges.
type Collector struct {
	sim    ServiceLister
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over sim.
func NewCollector(sim ServiceLister) *Collector {
	return &Collector{
		sim:    sim,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds of wall-clock time (this
// runs outside the simulated clock entirely — it samples the live Go state
// of a running simulation for an operator watching it, the same way the
// underlying simulator leaves monitoring external to simulated time).
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	services := c.sim.ComputeServices()

	kindCounts := make(map[string]int)
	for _, svc := range services {
		kindCounts[kindOf(svc)]++

		res := svc.QueryResources()
		for host, hr := range res.PerHost {
			HostCoresTotal.WithLabelValues(host).Set(float64(hr.Cores))
			HostCoresIdle.WithLabelValues(host).Set(float64(hr.IdleCores))
			HostRAMTotalBytes.WithLabelValues(host).Set(float64(hr.RAM))
			HostRAMIdleBytes.WithLabelValues(host).Set(float64(hr.IdleRAM))
		}
	}

	for kind, n := range kindCounts {
		ComputeServicesTotal.WithLabelValues(kind).Set(float64(n))
	}
}

// kindOf labels a compute service by its concrete implementation, e.g.
// "*compute.Multicore" -> "multicore".
func kindOf(svc compute.Service) string {
	switch svc.(type) {
	case *compute.Multicore:
		return "multicore"
	case *compute.BareMetal:
		return "baremetal"
	default:
		return fmt.Sprintf("%T", svc)
	}
}
