package service

import (
	"context"
	"fmt"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
)

// Reconciler applies orchestrator task lifecycle notifications to worker records.
// Write failures are logged and dropped; a failed lookup is returned so the
// delivering queue retries.
type Reconciler struct {
	store interfaces.WorkerStore
	cfg   config.PoolConfig
	now   func() time.Time
}

// NewReconciler creates a new task lifecycle reconciler
func NewReconciler(store interfaces.WorkerStore, cfg config.PoolConfig) *Reconciler {
	return &Reconciler{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// HandleTaskStateChange implements interfaces.TaskStateHandler
func (r *Reconciler) HandleTaskStateChange(ctx context.Context, change *model.TaskStateChange) error {
	records, err := r.store.QueryByIndex(ctx, constants.IndexTaskID, change.TaskID, 1)
	if err != nil {
		return fmt.Errorf("failed to look up worker for task %s: %w", change.TaskID, err)
	}
	if len(records) == 0 {
		logger.InfoCtx(ctx, "no worker tracks task %s, dropping %s notification", change.TaskID, change.LastStatus)
		return nil
	}
	worker := records[0]

	switch change.LastStatus {
	case constants.TaskStatusStopped:
		r.markStopped(ctx, worker, change)
	case constants.TaskStatusRunning:
		r.markRunning(ctx, worker)
	case constants.TaskStatusPending:
		if worker.Status == constants.WorkerStatusProvisioning {
			r.transition(ctx, worker, map[string]interface{}{
				model.FieldStatus: constants.WorkerStatusPending,
			})
		}
	case constants.TaskStatusDeprovisioning:
		if worker.Status != constants.WorkerStatusStopped && worker.Status != constants.WorkerStatusDeprovisioning {
			r.transition(ctx, worker, map[string]interface{}{
				model.FieldStatus:           constants.WorkerStatusDeprovisioning,
				model.FieldAssignedStageArn: constants.UnassignedStage,
				model.FieldStageEndpoints:   nil,
			})
		}
	case constants.TaskStatusProvisioning:
		// Matches the record the pool controller created
	default:
		logger.WarnCtx(ctx, "unknown task status %s for task %s", change.LastStatus, change.TaskID)
	}
	return nil
}

func (r *Reconciler) markStopped(ctx context.Context, worker *model.WorkerRecord, change *model.TaskStateChange) {
	var ttl time.Time
	if worker.Status == constants.WorkerStatusStopped && worker.TTL != nil {
		ttl = *worker.TTL
	} else {
		stoppedAt := change.StoppedAt
		if stoppedAt.IsZero() {
			stoppedAt = r.now()
		}
		ttl = stoppedAt.Add(r.cfg.StoppedTTL)
	}

	err := r.store.Update(ctx, worker.ID, model.UpdateRequest{
		Set:    stoppedFields(ttl, constants.SourceReconciler),
		Remove: []string{model.FieldStageEndpoints},
	})
	if err != nil {
		logger.ErrorCtx(ctx, "failed to mark worker %s STOPPED (task %s, %s): %v", worker.ID, change.TaskID, change.StopCode, err)
		return
	}
	logger.InfoCtx(ctx, "worker %s STOPPED, task: %s, stop code: %s", worker.ID, change.TaskID, change.StopCode)
}

func (r *Reconciler) markRunning(ctx context.Context, worker *model.WorkerRecord) {
	if windingDown(worker.Status) {
		return // late delivery
	}
	if !r.transition(ctx, worker, runningFields(worker.Status)) {
		return
	}

	// The task is running whatever the record moved to, so apply it once more on the fresh status
	latest, err := r.store.Get(ctx, worker.ID)
	if err != nil {
		logger.WarnCtx(ctx, "failed to re-read worker %s after a lost running update: %v", worker.ID, err)
		return
	}
	if windingDown(latest.Status) {
		return
	}
	r.transition(ctx, latest, runningFields(latest.Status))
}

// runningFields the fields a RUNNING task sets on a worker in status
func runningFields(status constants.WorkerStatus) map[string]interface{} {
	set := map[string]interface{}{model.FieldRunning: true}
	if status == constants.WorkerStatusProvisioning || status == constants.WorkerStatusPending {
		set[model.FieldStatus] = constants.WorkerStatusRunning
	}
	return set
}

// transition writes set if the worker still has the status it was read with,
// and reports whether that status had changed
func (r *Reconciler) transition(ctx context.Context, worker *model.WorkerRecord, set map[string]interface{}) (conflict bool) {
	set[model.FieldLastUpdateSource] = constants.SourceReconciler

	result, err := r.store.UpdateIf(ctx, worker.ID, map[string]interface{}{model.FieldStatus: worker.Status}, set)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to update worker %s: %v", worker.ID, err)
		return false
	}
	if result == model.UpdateConflict {
		logger.WarnCtx(ctx, "worker %s changed from %s concurrently, task update not applied", worker.ID, worker.Status)
		return true
	}
	return false
}
