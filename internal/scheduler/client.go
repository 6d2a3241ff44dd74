// Package scheduler talks to the SLURM controller over SSH: submitting
// jobs, cancelling them, and querying their accounting state.
package scheduler

import (
	"context"
	"errors"

	"github.com/altiusproxy/slurmgate/internal/job"
)

// BadJobID is the job id Submit returns alongside a non-nil error: the
// remote command failed, sbatch wrote to stderr, or its stdout could not
// be parsed for a job id.
const BadJobID int64 = -1

// TestJobID is the reserved synthetic job id the monitoring surface uses to
// let operators verify the full query path without submitting a real job.
// QueryJob short-circuits on it and returns a fixed COMPLETED snapshot
// without touching the network.
const TestJobID int64 = 123

// ErrJobNotFound indicates the scheduler has no accounting record for the
// requested job id.
var ErrJobNotFound = errors.New("scheduler: job not found")

// TransportError wraps a failure to reach or authenticate against the
// scheduler host, as distinct from the remote command itself failing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "scheduler: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// JobSnapshot is one observation of a job's scheduler-reported state.
type JobSnapshot struct {
	JobID int64
	State job.Status
}

// Client submits, cancels, and queries jobs against the scheduler.
type Client interface {
	// Submit runs cmdScript (a full shell script, including the sbatch
	// invocation) on the scheduler host and returns the job id sbatch
	// assigned.
	Submit(ctx context.Context, cmdScript string) (int64, error)

	// QueryJob returns the latest accounting snapshot for jobID. It
	// returns ErrJobNotFound if the scheduler has no record of it.
	QueryJob(ctx context.Context, jobID int64) (JobSnapshot, error)

	// QueryByState returns a snapshot for every job the scheduler's
	// accounting database currently reports in state.
	QueryByState(ctx context.Context, state job.Status) ([]JobSnapshot, error)

	// Cancel requests that the scheduler terminate jobID. It succeeds iff
	// the remote cancel command exits with status zero; a job the
	// scheduler rejects (already finished or unknown) is reported as an
	// error.
	Cancel(ctx context.Context, jobID int64) error
}
