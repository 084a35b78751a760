package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
)

type fakeLister struct {
	services []compute.Service
}

func (f fakeLister) ComputeServices() []compute.Service { return f.services }

func TestCollectorPublishesPerHostGauges(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := compute.NewRegistry()

	svc := compute.NewMulticore(compute.Config{
		Name:             "multicore-collector-test",
		Host:             "collector-host",
		Cores:            4,
		RAM:              1 << 20,
		CoreFlopRate:     1e9,
		SupportsStandard: true,
		Properties:       executor.Properties{CoreAllocationPolicy: executor.Aggressive},
	}, clock, sys, registry)
	svc.Start()
	defer svc.Stop()

	c := NewCollector(fakeLister{services: []compute.Service{svc}})
	c.collect()

	assert.Equal(t, float64(4), testutil.ToFloat64(HostCoresTotal.WithLabelValues("collector-host")))
	assert.Equal(t, float64(4), testutil.ToFloat64(HostCoresIdle.WithLabelValues("collector-host")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ComputeServicesTotal.WithLabelValues("multicore")))
}

func TestKindOfLabelsKnownImplementations(t *testing.T) {
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	registry := compute.NewRegistry()

	mc := compute.NewMulticore(compute.Config{Name: "mc", Host: "h0", Cores: 1, RAM: 1, CoreFlopRate: 1}, clock, sys, registry)
	bm := compute.NewBareMetal(compute.BareMetalConfig{Name: "bm", Hosts: []compute.HostSpec{{Name: "h0", Cores: 1, RAM: 1, FlopRate: 1}}}, clock, sys, registry)

	assert.Equal(t, "multicore", kindOf(mc))
	assert.Equal(t, "baremetal", kindOf(bm))
}
