package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wrenchsim/wrenchsim/pkg/compute"
	"github.com/wrenchsim/wrenchsim/pkg/executor"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/metrics"
	"github.com/wrenchsim/wrenchsim/pkg/simulation"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "wrenchsim",
	Short:   "wrenchsim runs a discrete-event job-scheduling simulation",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("wrenchsim version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: asJSON})
}

// platformFile is the host-list platform description (§6) this CLI accepts
// in place of the underlying simulator's XML format: a flat JSON list of
// host capacities.
type platformFile struct {
	Hosts []struct {
		Name     string  `json:"name"`
		Cores    int     `json:"cores"`
		RAM      int64   `json:"ram"`
		FlopRate float64 `json:"flop_rate"`
	} `json:"hosts"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Initialize a simulation, start a multicore compute service per host, and wait",
	Long: `run loads a host-list platform description, starts one
MulticoreComputeService per host (each backed by an in-memory storage
service mounted at "/"), launches the job manager and data movement
manager, and keeps the simulation alive until interrupted.

This is the lifecycle shell of §2/§9; submitting jobs against the running
services is done programmatically through pkg/jobmanager.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platformPath, _ := cmd.Flags().GetString("platform")
		bandwidth, _ := cmd.Flags().GetFloat64("bandwidth")
		seed, _ := cmd.Flags().GetInt64("seed")
		wmsHost, _ := cmd.Flags().GetString("wms-host")

		platform, err := loadPlatform(platformPath)
		if err != nil {
			return fmt.Errorf("failed to load platform description: %w", err)
		}
		if len(platform.Hosts) == 0 {
			return fmt.Errorf("platform description %s declares no hosts", platformPath)
		}

		sim := simulation.New(simulation.Config{BandwidthBps: bandwidth, RandSeed: seed})

		workflowMB := sim.System().Register("wms")

		for _, h := range platform.Hosts {
			sim.AddHost(h.Name, simulation.HostSpec{Cores: h.Cores, RAM: h.RAM, FlopRate: h.FlopRate})

			storage := storageservice.NewInMemory(h.Name+"-storage", sim.Clock(), map[string]int64{"/": h.RAM}, bandwidth)
			sim.AddStorageService(h.Name, storage)

			svc := compute.NewMulticore(compute.Config{
				Name:             h.Name + "-multicore",
				Host:             h.Name,
				Cores:            h.Cores,
				RAM:              h.RAM,
				CoreFlopRate:     h.FlopRate,
				SupportsStandard: true,
				SupportsPilot:    true,
				Properties:       executor.Properties{CoreAllocationPolicy: executor.Aggressive},
				Storage:          map[string]storageservice.Service{h.Name: storage},
			}, sim.Clock(), sim.System(), sim.Registry())
			svc.Start()
			sim.AddComputeService(svc)

			fmt.Printf("✓ multicore compute service started on %s (%d cores, %.0f flops/core)\n", h.Name, h.Cores, h.FlopRate)
		}

		sim.Launch(wmsHost, string(workflowMB.Name()))
		fmt.Println("✓ job manager and data movement manager started")

		collector := metrics.NewCollector(sim)
		collector.Start()
		defer collector.Stop()

		metrics.RegisterComponent("simulation", true, "launched")
		metrics.RegisterComponent("jobmanager", true, "launched")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Printf("metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Println("Simulation is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		sim.Shutdown()
		fmt.Println("✓ shutdown complete")
		return nil
	},
}

func loadPlatform(path string) (*platformFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf platformFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("invalid platform description: %w", err)
	}
	return &pf, nil
}

func init() {
	runCmd.Flags().String("platform", "", "Path to a JSON host-list platform description (required)")
	runCmd.Flags().Float64("bandwidth", 0, "Simulated link bandwidth in bytes/sec (0 = instantaneous)")
	runCmd.Flags().Int64("seed", 1, "Random seed for the simulation")
	runCmd.Flags().String("wms-host", "wms-host", "Host the job manager and data movement manager are bound to")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics, /health, /ready, /live on")
	runCmd.MarkFlagRequired("platform")
}
