// Package job defines the tracked-job data model, the canonical scheduler
// state enum, and the durable Store contract that bridges the two.
package job

import "errors"

// Status is a canonical SLURM job state, folded from whatever raw token the
// scheduler reports.
type Status string

const (
	StatusCompleted  Status = "COMPLETED"
	StatusCompleting Status = "COMPLETING"
	StatusFailed     Status = "FAILED"
	StatusPending    Status = "PENDING"
	StatusPreempted  Status = "PREEMPTED"
	StatusRunning    Status = "RUNNING"
	StatusSuspended  Status = "SUSPENDED"
	StatusStopped    Status = "STOPPED"
	StatusCancelled  Status = "CANCELLED"
	StatusUnknown    Status = "UNKNOWN"
)

// statusInfo is the code/explanation reference table from the scheduler's
// status documentation. Read-only after init.
type statusInfo struct {
	Code        string
	Explanation string
}

// StatusTable holds the short code and English explanation for every known
// canonical state. Returned verbatim in diagnostic responses.
var StatusTable = map[Status]statusInfo{
	StatusCompleted:  {"CD", "The job has completed successfully."},
	StatusCompleting: {"CG", "The job is finishing but some processes are still active."},
	StatusFailed:     {"F", "The job terminated with a non-zero exit code and failed to execute."},
	StatusPending:    {"PD", "The job is waiting for resource allocation. It will eventually run."},
	StatusPreempted:  {"PR", "The job was terminated because of preemption by another job."},
	StatusRunning:    {"R", "The job currently is allocated to a node and is running."},
	StatusSuspended:  {"S", "A running job has been stopped with its cores released to other jobs."},
	StatusStopped:    {"ST", "A running job has been stopped with its cores retained."},
	StatusCancelled:  {"CA", "The job was explicitly cancelled by the user or an administrator."},
}

// terminalStates is the subset from which no further transition is expected.
var terminalStates = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// Classify folds a raw scheduler state token into a canonical Status.
// Unrecognized tokens become StatusUnknown.
func Classify(raw string) Status {
	s := Status(raw)
	if _, ok := StatusTable[s]; ok {
		return s
	}
	return StatusUnknown
}

// IsTerminal reports whether s is a terminal state: COMPLETED, FAILED, or
// CANCELLED.
func (s Status) IsTerminal() bool {
	return terminalStates[s]
}

// IsKnown reports whether s is one of the recognized canonical states.
func (s Status) IsKnown() bool {
	_, ok := StatusTable[s]
	return ok
}

// Dirs names the scheduler-visible directories a task's input, output, and
// error files live under.
type Dirs struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// SlurmParams carries the scheduling parameters a submission renders into
// an sbatch invocation.
type SlurmParams struct {
	JobName       string `json:"job_name"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	Nodes         int    `json:"nodes"`
	Mem           string `json:"mem"`
	CPUsPerTask   int    `json:"cpus_per_task"`
	NTasksPerNode int    `json:"ntasks_per_node"`
	Partition     string `json:"partition"`
	Time          string `json:"time"`
}

// TaskEnvelope is the tagged task record submitted by clients and preserved
// verbatim in the tracked job record.
type TaskEnvelope struct {
	Name   string      `json:"name"`
	Params []string    `json:"params"`
	UUID   string      `json:"uuid"`
	Slurm  SlurmParams `json:"slurm"`
	Dirs   Dirs        `json:"dirs"`
}

// Validate checks that the envelope carries every field the submission
// pipeline requires, aside from whether Name is registered — that check
// belongs to the registry, since only the registry knows what is valid.
func (t *TaskEnvelope) Validate() error {
	if t.Name == "" {
		return errors.New("task.name must not be empty")
	}
	if t.UUID == "" {
		return errors.New("task.uuid must not be empty")
	}
	if t.Params == nil {
		return errors.New("task.params must be present (an empty list is allowed)")
	}
	if t.Slurm.JobName == "" {
		return errors.New("task.slurm.job_name must not be empty")
	}
	if t.Slurm.Partition == "" {
		return errors.New("task.slurm.partition must not be empty")
	}
	if t.Dirs.Input == "" || t.Dirs.Output == "" || t.Dirs.Error == "" {
		return errors.New("task.dirs.input, task.dirs.output, and task.dirs.error must not be empty")
	}
	return nil
}

// Job is a TrackedJob: one record per job under active monitoring. A
// record exists iff JobID has been accepted by the scheduler and its last
// observed State is non-terminal.
type Job struct {
	JobID int64        `json:"job_id" bson:"job_id"`
	State Status       `json:"state" bson:"state"`
	Task  TaskEnvelope `json:"task" bson:"task"`
}
