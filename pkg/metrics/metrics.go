package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics, refreshed by Collector polling each registered compute
	// service's QueryResources.
	HostCoresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrenchsim_host_cores_total",
			Help: "Declared core count per host",
		},
		[]string{"host"},
	)

	HostCoresIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrenchsim_host_cores_idle",
			Help: "Idle core count per host",
		},
		[]string{"host"},
	)

	HostRAMTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrenchsim_host_ram_total_bytes",
			Help: "Declared RAM per host in bytes",
		},
		[]string{"host"},
	)

	HostRAMIdleBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrenchsim_host_ram_idle_bytes",
			Help: "Idle RAM per host in bytes",
		},
		[]string{"host"},
	)

	ComputeServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wrenchsim_compute_services_total",
			Help: "Number of compute services registered with the simulation, by implementation",
		},
		[]string{"kind"},
	)

	// Job lifecycle metrics. job_type is one of "standard", "pilot", "batch".
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrenchsim_jobs_submitted_total",
			Help: "Total number of jobs submitted to a compute service",
		},
		[]string{"job_type"},
	)

	JobsSubmitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrenchsim_jobs_submit_rejected_total",
			Help: "Total number of job submissions a compute service rejected outright",
		},
		[]string{"job_type"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrenchsim_jobs_completed_total",
			Help: "Total number of jobs that reached a successful terminal state",
		},
		[]string{"job_type"},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrenchsim_jobs_failed_total",
			Help: "Total number of jobs that reached a failed terminal state",
		},
		[]string{"job_type"},
	)

	// SchedulingLatency is wall-clock instrumentation latency for a
	// SubmitXJob call, not simulated domain time.
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wrenchsim_scheduling_latency_seconds",
			Help:    "Wall-clock time taken to submit a job to a compute service",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueingDelaySeconds is simulated domain time: the gap between a batch
	// job's submission time and the simulated time its scheduler actually
	// started it, observed directly rather than via Timer.
	QueueingDelaySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wrenchsim_batch_queueing_delay_seconds",
			Help:    "Simulated time a batch job waited in queue before being placed",
			Buckets: []float64{0, 1, 10, 60, 300, 900, 3600, 14400, 86400},
		},
	)

	FileCopiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrenchsim_file_copies_total",
			Help: "Total number of file copies submitted through the data movement manager, by outcome",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(HostCoresTotal)
	prometheus.MustRegister(HostCoresIdle)
	prometheus.MustRegister(HostRAMTotalBytes)
	prometheus.MustRegister(HostRAMIdleBytes)
	prometheus.MustRegister(ComputeServicesTotal)

	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(JobsSubmitRejectedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(QueueingDelaySeconds)

	prometheus.MustRegister(FileCopiesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
