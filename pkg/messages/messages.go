// Package messages defines the tagged-variant message payloads exchanged
// between actors in this module (executors, compute services, the job
// manager, the batch scheduler). Per §9 ("do not emulate the source's
// per-message C++ sub-classes; use a single tagged variant per service with
// payload structs"), each message is a small struct implementing
// actor.Message; PayloadSize gives every variant a default wire size (§6),
// overridable by setting the Size field directly before sending.
package messages

import (
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/scheduler"
)

const defaultControlSize = 512 // bytes: a small control message over the wire

// SubmitStandardJob asks a compute service to run a standard job.
type SubmitStandardJob struct {
	Job         *job.StandardJob
	AnswerMailbox string
	Size        int64
}

func (m SubmitStandardJob) PayloadSize() int64 {
	if m.Size > 0 {
		return m.Size
	}
	return defaultControlSize
}

// SubmitPilotJob asks a compute service to grant a pilot-job lease.
type SubmitPilotJob struct {
	Job           *job.PilotJob
	AnswerMailbox string
	Size          int64
}

func (m SubmitPilotJob) PayloadSize() int64 {
	if m.Size > 0 {
		return m.Size
	}
	return defaultControlSize
}

// TerminateStandardJob requests early termination of a running/pending
// standard job (§4.3, §4.7).
type TerminateStandardJob struct {
	JobID         string
	AnswerMailbox string
}

func (m TerminateStandardJob) PayloadSize() int64 { return defaultControlSize }

// TerminatePilotJob requests early termination of a pilot-job lease.
type TerminatePilotJob struct {
	JobID         string
	AnswerMailbox string
}

func (m TerminatePilotJob) PayloadSize() int64 { return defaultControlSize }

// TerminateAck acknowledges a terminate request (§4.4: "reply to the
// terminator").
type TerminateAck struct {
	JobID string
}

func (m TerminateAck) PayloadSize() int64 { return defaultControlSize }

// StandardJobDone reports successful completion of a standard job (§4.3).
type StandardJobDone struct {
	JobID string
}

func (m StandardJobDone) PayloadSize() int64 { return defaultControlSize }

// StandardJobFailed reports that a standard job ended in failure (§4.3,
// §7).
type StandardJobFailed struct {
	JobID string
	Cause *failure.Cause
}

func (m StandardJobFailed) PayloadSize() int64 { return defaultControlSize }

// PilotJobStarted reports that a pilot-job lease has been granted and its
// nested compute service is running (§4.7).
type PilotJobStarted struct {
	JobID           string
	NestedServiceID string
}

func (m PilotJobStarted) PayloadSize() int64 { return defaultControlSize }

// PilotJobExpired reports that a pilot-job's duration elapsed (§4.4,
// §4.7). Delivered exactly once to the submitter.
type PilotJobExpired struct {
	JobID string
}

func (m PilotJobExpired) PayloadSize() int64 { return defaultControlSize }

// PilotJobFailed reports that a pilot-job lease request was rejected or
// failed before it could run.
type PilotJobFailed struct {
	JobID string
	Cause *failure.Cause
}

func (m PilotJobFailed) PayloadSize() int64 { return defaultControlSize }

// StopService is the long-lived-actor stop message every compute service
// understands (§5: "every long-lived actor has a stop message").
type StopService struct {
	AnswerMailbox string
}

func (m StopService) PayloadSize() int64 { return defaultControlSize }

// StoppedAck acknowledges a StopService request.
type StoppedAck struct{}

func (m StoppedAck) PayloadSize() int64 { return defaultControlSize }

// DispatchTick is a payload-free wakeup for a service's dispatch loop. No
// service in this module sends or handles it.
type DispatchTick struct{}

func (m DispatchTick) PayloadSize() int64 { return 0 }

// TTLExpired is a payload-free lease-expiry notice (§4.4 "TTL-expired").
// The compute services in this module detect TTL expiry through a timeout
// on their own mailbox receive and do not send it.
type TTLExpired struct{}

func (m TTLExpired) PayloadSize() int64 { return 0 }

// WalltimeExpired is delivered by an Alarm when a batch job's walltime
// elapses (§4.6 "Walltime enforcement").
type WalltimeExpired struct {
	BatchJobID string
}

func (m WalltimeExpired) PayloadSize() int64 { return 0 }

// ResourceQuery asks a compute service for its current resource snapshot.
type ResourceQuery struct {
	AnswerMailbox string
}

func (m ResourceQuery) PayloadSize() int64 { return defaultControlSize }

// ResourceSnapshot is a compute service's reply to a ResourceQuery.
type ResourceSnapshot struct {
	NumCores     int
	NumIdleCores int
	TTL          float64 // <=0 means unbounded
	CoreFlopRate float64
}

func (m ResourceSnapshot) PayloadSize() int64 { return defaultControlSize }

// SubmitBatchJob asks a BatchComputeService to queue a BatchJob (§4.6: the
// batch-specific (-N, -c, -t) submission form, distinct from the bare
// SubmitStandardJob/SubmitPilotJob the space-shared services understand).
type SubmitBatchJob struct {
	BatchJob      *job.BatchJob
	AnswerMailbox string
}

func (m SubmitBatchJob) PayloadSize() int64 { return defaultControlSize }

// TerminateBatchJob requests early termination of a queued or running
// batch job.
type TerminateBatchJob struct {
	BatchJobID string
}

func (m TerminateBatchJob) PayloadSize() int64 { return defaultControlSize }

// EstimateStartTimesRequest asks a BatchComputeService to run its
// scheduler's start-time estimation over a set of tentative requests
// (§4.6: "pure function of current queue state").
type EstimateStartTimesRequest struct {
	Requests      []scheduler.Job
	AnswerMailbox string
}

func (m EstimateStartTimesRequest) PayloadSize() int64 { return defaultControlSize }

// EstimateStartTimesReply carries the predicted start time per requested
// job id.
type EstimateStartTimesReply struct {
	Estimates map[string]float64
}

func (m EstimateStartTimesReply) PayloadSize() int64 { return defaultControlSize }

// FileCopyDone reports that an asynchronous file copy (§4.8) completed.
type FileCopyDone struct {
	FileID string
}

func (m FileCopyDone) PayloadSize() int64 { return defaultControlSize }

// FileCopyFailed reports that an asynchronous file copy failed.
type FileCopyFailed struct {
	FileID string
	Cause  *failure.Cause
}

func (m FileCopyFailed) PayloadSize() int64 { return defaultControlSize }
