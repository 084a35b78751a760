/*
Package metrics provides Prometheus metrics collection and exposition for a
running simulation.

The package defines and registers every wrenchsim metric using the
Prometheus client library: per-host fleet gauges, job-lifecycle counters,
and latency histograms. Metrics are exposed via an HTTP endpoint for
scraping by a Prometheus server, alongside health/readiness/liveness JSON
endpoints for an operator or orchestrator watching a long-running
simulation process.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (idle cores)         │          │
	│  │  Counter: Monotonic increases (jobs done)   │          │
	│  │  Histogram: Distributions (latency, delay)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Fleet: idle/total cores and RAM per host   │          │
	│  │  Jobs: submitted/rejected/completed/failed  │          │
	│  │  Scheduling: wall-clock submit latency      │          │
	│  │  Queueing: simulated batch wait time        │          │
	│  │  Data movement: file copy outcomes          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Collector:
  - Polls every compute service registered with a Simulation on a
    wall-clock ticker (15s), independent of the simulated clock
  - Publishes per-host core/RAM gauges from each service's QueryResources
  - Counts registered compute services by implementation

Direct instrumentation:
  - pkg/jobmanager increments job submit/complete/fail counters and
    observes SchedulingLatency at each SubmitXJob call
  - pkg/batch observes QueueingDelaySeconds (simulated time) when the
    scheduler places a queued job
  - pkg/datamovement increments FileCopiesTotal on every completion event

Timer Helper:
  - Convenience wrapper for timing wall-clock operations
  - Start timer, observe duration to a histogram
  - Supports label values for histogram vectors

Health Checker:
  - In-memory component registry (name -> healthy/message)
  - GetHealth aggregates every registered component
  - GetReadiness additionally requires "simulation" and "jobmanager"

# Metrics Catalog

Fleet Metrics:

wrenchsim_host_cores_total{host} / wrenchsim_host_cores_idle{host}:
  - Type: Gauge
  - Description: declared and idle core count per host

wrenchsim_host_ram_total_bytes{host} / wrenchsim_host_ram_idle_bytes{host}:
  - Type: Gauge
  - Description: declared and idle RAM per host, in bytes

wrenchsim_compute_services_total{kind}:
  - Type: Gauge
  - Description: number of registered compute services, by implementation
    ("multicore", "baremetal")

Job Metrics:

wrenchsim_jobs_submitted_total{job_type}:
  - Type: Counter
  - Description: jobs accepted by a compute service, by job_type
    ("standard", "pilot", "batch")

wrenchsim_jobs_submit_rejected_total{job_type}:
  - Type: Counter
  - Description: job submissions a compute service rejected outright
    (unsupported job type, not enough resources)

wrenchsim_jobs_completed_total{job_type} / wrenchsim_jobs_failed_total{job_type}:
  - Type: Counter
  - Description: jobs reaching a successful or failed terminal state

wrenchsim_scheduling_latency_seconds:
  - Type: Histogram
  - Description: wall-clock time a SubmitXJob call took, not simulated time
  - Buckets: default Prometheus buckets

wrenchsim_batch_queueing_delay_seconds:
  - Type: Histogram
  - Description: simulated time a batch job spent queued before placement
  - Buckets: 0s to 1 day

Data Movement Metrics:

wrenchsim_file_copies_total{status}:
  - Type: Counter
  - Description: file copies submitted through the data movement manager,
    by outcome ("done", "failed")

# Usage

	import "github.com/wrenchsim/wrenchsim/pkg/metrics"

	// Gauges, updated by Collector
	metrics.HostCoresIdle.WithLabelValues("host0").Set(6)

	// Counters
	metrics.JobsSubmittedTotal.WithLabelValues("standard").Inc()

	// Timer-based histogram observation
	timer := metrics.NewTimer()
	err := svc.SubmitStandardJob(sj, submitter)
	timer.ObserveDuration(metrics.SchedulingLatency)

	// Direct (simulated-time) histogram observation
	metrics.QueueingDelaySeconds.Observe(waitSeconds)

	// Expose metrics and health endpoints
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.ListenAndServe(":9090", nil)

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration so a name collision fails fast at process start

Label Discipline:
  - job_type, host, kind, status are all low-cardinality, bounded label
    sets; no job IDs or file IDs are ever used as label values

Timer vs. Direct Observation:
  - Timer measures real wall-clock instrumentation latency (how long a
    Go call took), never simulated domain time
  - Simulated-time durations (queueing delay, eventually job makespan)
    are computed from simclock.Time values and observed directly

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
