// Package workflow holds the data model shared by every job type: the DAG
// of WorkflowTasks connected by WorkflowFiles (spec §3). Nothing in this
// package runs as an actor; it is pure data plus the small amount of state-
// machine bookkeeping every consumer (executor, job manager, scheduler)
// needs to agree on.
package workflow

import "fmt"

// TaskState is the lifecycle of a WorkflowTask (§3).
type TaskState string

const (
	TaskNotReady TaskState = "NOT_READY" // unsatisfied input-file dependency
	TaskReady    TaskState = "READY"
	TaskPending  TaskState = "PENDING" // submitted to a compute service, not yet running
	TaskRunning  TaskState = "RUNNING"
	TaskComplete TaskState = "COMPLETED"
	TaskFailed   TaskState = "FAILED"
)

// File is an immutable value descriptor for a piece of data moved between
// tasks and storage services. Size is in bytes.
type File struct {
	ID   string
	Size int64
}

func NewFile(id string, size int64) *File {
	return &File{ID: id, Size: size}
}

// Task is a unit of computation in a workflow DAG. Flops is the total work
// the task must perform; MinParallelism/MaxParallelism bound how many cores
// it can use concurrently, and Efficiency maps an actual core count to the
// fraction of ideal (linear) speedup achieved at that core count (§3: "an
// efficiency function models non-linear parallel speedup").
type Task struct {
	ID             string
	Flops          float64
	MinParallelism int
	MaxParallelism int
	Efficiency     func(numCores int) float64
	Memory         int64 // bytes of RAM required regardless of core count

	InputFiles  []*File
	OutputFiles []*File

	Priority     int // higher runs first among otherwise-equal candidates
	FailureCount int

	state TaskState
}

// NewTask builds a Task with a linear (perfectly parallel) efficiency
// function by default; callers needing sub-linear speedup should overwrite
// Efficiency directly.
func NewTask(id string, flops float64, minP, maxP int) *Task {
	if minP < 1 {
		minP = 1
	}
	if maxP < minP {
		maxP = minP
	}
	return &Task{
		ID:             id,
		Flops:          flops,
		MinParallelism: minP,
		MaxParallelism: maxP,
		Efficiency:     func(int) float64 { return 1.0 },
		state:          TaskNotReady,
	}
}

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return t.state }

// ComputeTimeSeconds returns the simulated wall-clock time this task takes
// to run on numCores cores, given its Flops, per-core Flops/sec rate, and
// Efficiency function (§4.3: "compute_time = flops / (num_cores *
// core_flops * efficiency(num_cores))").
func (t *Task) ComputeTimeSeconds(numCores int, coreFlops float64) (float64, error) {
	if numCores < t.MinParallelism || numCores > t.MaxParallelism {
		return 0, fmt.Errorf("workflow: task %s cannot run on %d cores (parallelism [%d,%d])",
			t.ID, numCores, t.MinParallelism, t.MaxParallelism)
	}
	eff := t.Efficiency(numCores)
	if eff <= 0 {
		return 0, fmt.Errorf("workflow: task %s has non-positive efficiency at %d cores", t.ID, numCores)
	}
	denom := float64(numCores) * coreFlops * eff
	if denom <= 0 {
		return 0, fmt.Errorf("workflow: task %s has non-positive compute rate", t.ID)
	}
	return t.Flops / denom, nil
}

// transition applies a lifecycle move, returning an error on an illegal one
// so callers fail loudly instead of silently corrupting state.
func (t *Task) transition(to TaskState) error {
	switch {
	case t.state == to:
		return nil
	case t.state == TaskFailed && to == TaskReady:
		// a failed task can be retried: §9 "a task whose job fails returns
		// to READY so the workflow can resubmit it".
		t.state = to
		return nil
	case to == TaskFailed:
		t.state = to
		return nil
	case t.state == TaskNotReady && to == TaskReady,
		t.state == TaskReady && to == TaskPending,
		t.state == TaskPending && to == TaskRunning,
		t.state == TaskRunning && to == TaskComplete:
		t.state = to
		return nil
	default:
		return fmt.Errorf("workflow: illegal task transition %s -> %s for task %s", t.state, to, t.ID)
	}
}

// MarkReady transitions a task out of NOT_READY once its inputs are
// satisfied.
func (t *Task) MarkReady() error { return t.transition(TaskReady) }

// MarkPending transitions a task to PENDING when a job containing it is
// submitted to a compute service.
func (t *Task) MarkPending() error { return t.transition(TaskPending) }

// MarkRunning transitions a task to RUNNING when an executor starts it.
func (t *Task) MarkRunning() error { return t.transition(TaskRunning) }

// MarkComplete transitions a task to COMPLETED.
func (t *Task) MarkComplete() error { return t.transition(TaskComplete) }

// MarkFailed transitions a task to FAILED and increments FailureCount.
func (t *Task) MarkFailed() {
	t.FailureCount++
	t.state = TaskFailed
}

// Retry moves a FAILED task back to READY so it can be resubmitted in a new
// job (§9).
func (t *Task) Retry() error { return t.transition(TaskReady) }

// DAG is a minimal workflow graph: tasks plus directed edges via shared
// files (a file in one task's OutputFiles that appears in another's
// InputFiles is an implicit edge). This module does not parse external
// workflow description formats (see SPEC_FULL.md Non-goals); DAGs are built
// programmatically or by the trace replayer.
type DAG struct {
	Tasks map[string]*Task
}

func NewDAG() *DAG {
	return &DAG{Tasks: make(map[string]*Task)}
}

// AddTask registers a task in the DAG.
func (d *DAG) AddTask(t *Task) { d.Tasks[t.ID] = t }

// Ready returns every task currently in the READY state.
func (d *DAG) Ready() []*Task {
	var out []*Task
	for _, t := range d.Tasks {
		if t.state == TaskReady {
			out = append(out, t)
		}
	}
	return out
}

// RecomputeReadiness walks every NOT_READY task and promotes it to READY if
// all of its input files have been produced by a COMPLETED task (or are not
// produced by any task in this DAG at all, i.e. they are workflow inputs).
func (d *DAG) RecomputeReadiness() {
	produced := make(map[string]TaskState)
	for _, t := range d.Tasks {
		for _, f := range t.OutputFiles {
			produced[f.ID] = t.state
		}
	}
	for _, t := range d.Tasks {
		if t.state != TaskNotReady {
			continue
		}
		satisfied := true
		for _, f := range t.InputFiles {
			if st, ok := produced[f.ID]; ok && st != TaskComplete {
				satisfied = false
				break
			}
		}
		if satisfied {
			_ = t.MarkReady()
		}
	}
}
