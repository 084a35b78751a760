package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/alarm"
	"github.com/wrenchsim/wrenchsim/pkg/job"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// TraceEntry is one row of a workload trace: a job's recorded submit time,
// its requested node/core/walltime shape, and the flop count of the single
// synthetic task standing in for its real workload.
type TraceEntry struct {
	JobID        string
	SubmitTime   float64
	Nodes        int
	CoresPerNode int
	Walltime     float64
	Flops        float64
}

// ParseTrace reads whitespace- or comma-separated rows of the form
// "job_id submit_time nodes cores_per_node walltime flops", one per line.
// Blank lines and lines starting with '#' are skipped, matching the
// appendJobInfoToCSVOutputFile log shape a real batch scheduler replays
// workload traces from.
func ParseTrace(r io.Reader) ([]TraceEntry, error) {
	var entries []TraceEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == '\t' || r == ' '
		})
		if len(fields) != 6 {
			return nil, fmt.Errorf("batch: trace line %d: want 6 fields, got %d", lineNo, len(fields))
		}
		entry, err := parseTraceFields(fields)
		if err != nil {
			return nil, fmt.Errorf("batch: trace line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseTraceFields(fields []string) (TraceEntry, error) {
	submitTime, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return TraceEntry{}, fmt.Errorf("submit_time: %w", err)
	}
	nodes, err := strconv.Atoi(fields[2])
	if err != nil {
		return TraceEntry{}, fmt.Errorf("nodes: %w", err)
	}
	cores, err := strconv.Atoi(fields[3])
	if err != nil {
		return TraceEntry{}, fmt.Errorf("cores_per_node: %w", err)
	}
	walltime, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return TraceEntry{}, fmt.Errorf("walltime: %w", err)
	}
	flops, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return TraceEntry{}, fmt.Errorf("flops: %w", err)
	}
	return TraceEntry{
		JobID:        fields[0],
		SubmitTime:   submitTime,
		Nodes:        nodes,
		CoresPerNode: cores,
		Walltime:     walltime,
		Flops:        flops,
	}, nil
}

// traceFire is the Alarm payload that wakes a TraceReplayer's per-entry
// actor at its recorded submit time.
type traceFire struct{}

func (traceFire) PayloadSize() int64 { return 0 }

// TraceReplayer submits synthetic BatchJobs against a batch service at the
// submit times recorded in a workload trace (§6), one Alarm per entry
// (§4.2) racing independently rather than a single sleeping loop, so a
// replay's entries fire in submit-time order regardless of how they're
// listed in the trace.
type TraceReplayer struct {
	svc           *Batch
	entries       []TraceEntry
	host          string
	answerMailbox string
	logger        zerolog.Logger
}

// NewTraceReplayer builds a replayer that will submit entries against svc,
// reporting each replayed job's outcome to answerMailbox. host is the
// simulated host the replayer's bookkeeping actors are spawned on; it has
// no bearing on where the batch service itself places the resulting jobs.
func NewTraceReplayer(svc *Batch, entries []TraceEntry, host, answerMailbox string) *TraceReplayer {
	return &TraceReplayer{
		svc:           svc,
		entries:       entries,
		host:          host,
		answerMailbox: answerMailbox,
		logger:        log.WithComponent("trace-replayer").With().Str("service", svc.name).Logger(),
	}
}

// Replay arms one Alarm per trace entry at its recorded submit time and
// returns immediately; each entry is submitted as the alarm fires. Callers
// that need to know when replay has fully drained can wait on the returned
// handles.
func (t *TraceReplayer) Replay() []*actor.Handle {
	handles := make([]*actor.Handle, 0, len(t.entries))
	for i, e := range t.entries {
		e := e
		fireName := fmt.Sprintf("%s-trace-fire-%d", t.svc.name, i)
		h := t.svc.sys.Spawn(t.host, fireName, func(ctx context.Context, mb *actor.Mailbox) {
			a := alarm.New(simclock.Time(e.SubmitTime), t.host, mb.Name(), traceFire{})
			a.Start(t.svc.sys, fmt.Sprintf("%s-trace-alarm-%d", t.svc.name, i))

			if _, err := actor.Recv(ctx, t.svc.clock, mb, 0); err != nil {
				return
			}
			t.submit(e)
		})
		handles = append(handles, h)
	}
	return handles
}

func (t *TraceReplayer) submit(e TraceEntry) {
	task := workflow.NewTask(e.JobID+"-task", e.Flops, e.CoresPerNode, e.CoresPerNode)
	sj := job.NewStandardJob([]*workflow.Task{task}, nil, nil, nil)
	bj := job.NewBatchJobStandard(sj, e.Nodes, e.CoresPerNode, e.Walltime, e.SubmitTime)
	if err := t.svc.SubmitBatchJob(bj, t.answerMailbox); err != nil {
		t.logger.Warn().Err(err).Str("trace_job_id", e.JobID).Msg("could not submit replayed trace entry")
	}
}
