// Package notify delivers job-completion notifications to interested
// consumers over AMQP, one queue per registered task.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/altiusproxy/slurmgate/internal/job"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// StatusChange is the payload published when a tracked job reaches a new
// canonical state.
type StatusChange struct {
	JobID    int64            `json:"job_id"`
	OldState job.Status       `json:"old_state"`
	NewState job.Status       `json:"new_state"`
	Task     job.TaskEnvelope `json:"task"`
}

// Notifier publishes a job status change to the queue the job's registered
// task designates.
type Notifier interface {
	Notify(ctx context.Context, routingKey string, change StatusChange)
}

// Send dispatches change through n on its own goroutine, fire-and-forget:
// notification delivery (retries and all) never blocks the reconciliation
// pass or request handler that triggered it. The triggering ctx's
// cancellation and deadline are stripped so retries survive the tick or
// request that started them; they end on delivery, when the attempts are
// exhausted, or when the process exits. AMQPNotifier.Close does not end
// them: a later attempt dials a fresh connection.
func Send(ctx context.Context, n Notifier, routingKey string, change StatusChange) {
	go n.Notify(context.WithoutCancel(ctx), routingKey, change)
}

// jitter returns a random duration between 0 and min(retryCap, retryBase * 2^attempt).
func jitter(attempt int) time.Duration {
	exp := retryBase * (1 << attempt)
	if exp > retryCap {
		exp = retryCap
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func marshal(change StatusChange) ([]byte, error) {
	return json.Marshal(change)
}

func logRetry(routingKey string, attempt int, err error) {
	slog.Warn("notify: publish attempt failed", "routing_key", routingKey, "attempt", attempt, "error", err)
}

func logExhausted(routingKey string) {
	slog.Error("notify: all retries exhausted", "routing_key", routingKey)
}
