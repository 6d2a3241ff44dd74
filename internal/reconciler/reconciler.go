// Package reconciler periodically reconciles tracked job records against
// the scheduler's reported state, persisting transitions and firing
// notifications on terminal states.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/notify"
	"github.com/altiusproxy/slurmgate/internal/registry"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
)

// Reconciler drives the periodic poll-compare-update-notify loop over every
// tracked job.
type Reconciler struct {
	store     job.Store
	scheduler scheduler.Client
	registry  *registry.Registry
	notifier  notify.Notifier

	running atomic.Bool
}

// New builds a Reconciler. registry resolves each task's notification
// routing key; it is read-only and safe for concurrent use across ticks.
func New(store job.Store, sched scheduler.Client, reg *registry.Registry, notifier notify.Notifier) *Reconciler {
	return &Reconciler{store: store, scheduler: sched, registry: reg, notifier: notifier}
}

// Start runs one reconciliation pass every interval until ctx is cancelled.
// A pass that is still running when the next tick fires is skipped rather
// than overlapped: tick takes the single in-flight slot via r.running.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// tick runs exactly one reconciliation pass, skipping entirely if a prior
// pass has not yet finished.
func (r *Reconciler) tick(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		slog.Warn("reconciler: previous pass still running, skipping tick")
		return
	}
	defer r.running.Store(false)

	jobs, err := r.store.Iterate(ctx)
	if err != nil {
		slog.Error("reconciler: iterate tracked jobs", "error", err)
		return
	}

	for _, j := range jobs {
		if err := r.reconcileOne(ctx, j); err != nil {
			slog.Error("reconciler: reconcile job", "job_id", j.JobID, "error", err)
		}
	}
}

// reconcileOne applies the observe/compare/persist/notify sequence to a
// single tracked job. Errors from any one job are contained here and
// logged by the caller; they never abort the rest of the pass.
func (r *Reconciler) reconcileOne(ctx context.Context, tracked *job.Job) error {
	snap, err := r.scheduler.QueryJob(ctx, tracked.JobID)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		// The scheduler has forgotten this job entirely (accounting record
		// expired or purged). Without a state to compare against, there is
		// nothing left to reconcile; drop it from tracking.
		_, delErr := r.store.DeleteAndReturn(ctx, tracked.JobID)
		return delErr
	}
	if err != nil {
		return err
	}

	if snap.State == tracked.State {
		return nil
	}

	if !snap.State.IsTerminal() {
		_, err := r.store.UpdateState(ctx, tracked.JobID, snap.State)
		return err
	}

	// Terminal transition: notify before deleting, so a crash between the
	// two always leaves a retryable record rather than a notification the
	// reconciler can no longer reproduce.
	r.notifyTransition(ctx, tracked, snap.State)

	_, err = r.store.DeleteAndReturn(ctx, tracked.JobID)
	return err
}

func (r *Reconciler) notifyTransition(ctx context.Context, tracked *job.Job, newState job.Status) {
	routingKey := tracked.Task.Name
	if desc, ok := r.registry.Get(tracked.Task.Name); ok && desc.NotificationQueue != "" {
		routingKey = desc.NotificationQueue
	}
	notify.Send(ctx, r.notifier, routingKey, notify.StatusChange{
		JobID:    tracked.JobID,
		OldState: tracked.State,
		NewState: newState,
		Task:     tracked.Task,
	})
}
