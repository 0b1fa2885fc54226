package interfaces

import (
	"context"

	"vpool/internal/model"
)

// Orchestrator launches and stops worker processes
type Orchestrator interface {
	// StartWorker launches a worker with its identity injected into env and returns the task handle.
	// Fails with model.ErrLaunchFailed when no handle comes back.
	StartWorker(ctx context.Context, workerID string, env map[string]string) (string, error)

	// StopWorker stops the task. A task that is already gone is not an error.
	StopWorker(ctx context.Context, taskID, reason string) error
}

// TaskStateHandler consumes orchestrator task lifecycle notifications
type TaskStateHandler interface {
	HandleTaskStateChange(ctx context.Context, change *model.TaskStateChange) error
}

// TaskStatePublisher delivers task lifecycle notifications to a TaskStateHandler, at least once
type TaskStatePublisher interface {
	PublishTaskStateChange(ctx context.Context, change *model.TaskStateChange) error
}

// TaskLister enumerates the worker tasks the orchestrator still runs
type TaskLister interface {
	ListTasks(ctx context.Context) ([]model.TaskInfo, error)
}
