package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	queueName   = "default"
	taskTimeout = 30 * time.Second
)

// Manager delivers orchestrator task state changes to the reconciler through asynq
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	redisOpt asynq.RedisClientOpt
	maxRetry int
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				queueName: 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	return &Manager{
		client:   client,
		server:   server,
		mux:      asynq.NewServeMux(),
		redisOpt: redisOpt,
		maxRetry: cfg.Queue.MaxRetry,
	}, nil
}

// NewTaskStateTask builds the queue task for a state change.
// The task id is derived from the task handle and status, so a change
// published twice while the first copy is queued is enqueued once.
func NewTaskStateTask(change *model.TaskStateChange, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal task state change: %w", err)
	}

	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", change.TaskID, change.LastStatus)),
		asynq.Queue(queueName),
		asynq.Timeout(taskTimeout),
		asynq.MaxRetry(maxRetry),
	}
	return asynq.NewTask(constants.TaskTypeTaskStateChanged, payload), opts, nil
}

// PublishTaskStateChange enqueues a task state change
func (m *Manager) PublishTaskStateChange(ctx context.Context, change *model.TaskStateChange) error {
	task, opts, err := NewTaskStateTask(change, m.maxRetry)
	if err != nil {
		return err
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.DebugCtx(ctx, "task state change already queued, task_id: %s, status: %s", change.TaskID, change.LastStatus)
			return nil
		}
		return fmt.Errorf("failed to enqueue task state change: %w", err)
	}

	logger.InfoCtx(ctx, "task state change enqueued, task_id: %s, status: %s, queue: %s",
		change.TaskID, change.LastStatus, info.Queue)
	return nil
}

// TaskStateHandlerFunc adapts a TaskStateHandler to an asynq handler.
// Malformed payloads are not retried; handler errors are.
func TaskStateHandlerFunc(handler interfaces.TaskStateHandler) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var change model.TaskStateChange
		if err := json.Unmarshal(task.Payload(), &change); err != nil {
			logger.ErrorCtx(ctx, "dropping malformed task state change: %v", err)
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
		if change.TaskID == "" {
			return fmt.Errorf("task state change without task id: %w", asynq.SkipRetry)
		}
		return handler.HandleTaskStateChange(ctx, &change)
	}
}

// RegisterTaskStateHandler routes task state changes to handler
func (m *Manager) RegisterTaskStateHandler(handler interfaces.TaskStateHandler) {
	m.mux.Handle(constants.TaskTypeTaskStateChanged, TaskStateHandlerFunc(handler))
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}

// Backlog returns the number of pending and retrying task state changes
func (m *Manager) Backlog() (int, error) {
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	stats, err := inspector.GetQueueInfo(queueName)
	if err != nil {
		return 0, err
	}

	return stats.Pending + stats.Retry, nil
}
