package debt

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskRefreshStatus is the asynq task type of the overdue sweep.
const TaskRefreshStatus = "debt:refresh_status"

// NewRefreshStatusTask builds the sweep task. It carries no payload; the
// sweep always covers every unsettled debt.
func NewRefreshStatusTask() *asynq.Task {
	return asynq.NewTask(TaskRefreshStatus, nil, asynq.MaxRetry(3))
}

// RefreshStatusHandler runs the sweep for the worker.
func RefreshStatusHandler(l *Ledger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		if _, err := l.RefreshStatuses(ctx); err != nil {
			return fmt.Errorf("refresh debt statuses: %w", err)
		}
		return nil
	}
}

// Register mounts the debt task handlers on mux.
func Register(mux *asynq.ServeMux, l *Ledger) {
	mux.Handle(TaskRefreshStatus, RefreshStatusHandler(l))
}
