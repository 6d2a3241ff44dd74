// Package registration handles the first observation of a newly-submitted
// job: inserting it into the tracked store, or — in the edge case where the
// scheduler already reports it terminal before the first insert — notifying
// immediately instead of ever persisting a record the reconciler would just
// have to unwind on its very next tick.
package registration

import (
	"context"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/notify"
	"github.com/altiusproxy/slurmgate/internal/registry"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
)

// Registrar performs the submit-time handoff from "accepted by the
// scheduler" to "under reconciliation."
type Registrar struct {
	store     job.Store
	scheduler scheduler.Client
	registry  *registry.Registry
	notifier  notify.Notifier
}

// New builds a Registrar.
func New(store job.Store, sched scheduler.Client, reg *registry.Registry, notifier notify.Notifier) *Registrar {
	return &Registrar{store: store, scheduler: sched, registry: reg, notifier: notifier}
}

// Register queries the scheduler for jobID's current state and either
// inserts a tracked record (non-terminal, the common case) or fires a
// terminal-state notification directly without ever writing a record
// (the initial-registration edge case: a job observed for the first time
// already in a terminal state). emitted reports which of the two happened.
func (r *Registrar) Register(ctx context.Context, jobID int64, task job.TaskEnvelope) (tracked *job.Job, emitted bool, err error) {
	snap, err := r.scheduler.QueryJob(ctx, jobID)
	if err != nil {
		snap = scheduler.JobSnapshot{JobID: jobID, State: job.StatusUnknown}
	}

	tracked = &job.Job{JobID: jobID, State: snap.State, Task: task}

	if snap.State.IsTerminal() {
		routingKey := task.Name
		if desc, ok := r.registry.Get(task.Name); ok && desc.NotificationQueue != "" {
			routingKey = desc.NotificationQueue
		}
		notify.Send(ctx, r.notifier, routingKey, notify.StatusChange{
			JobID:    jobID,
			OldState: job.StatusUnknown,
			NewState: snap.State,
			Task:     task,
		})
		return nil, true, nil
	}

	if _, err := r.store.Insert(ctx, tracked); err != nil {
		return nil, false, err
	}
	return tracked, false, nil
}
