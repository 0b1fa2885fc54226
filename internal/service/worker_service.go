package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
)

// WorkerService Worker service
type WorkerService struct {
	store        interfaces.WorkerStore
	orchestrator interfaces.Orchestrator
	cfg          config.PoolConfig
	now          func() time.Time
}

// NewWorkerService creates a new Worker service
func NewWorkerService(store interfaces.WorkerStore, orchestrator interfaces.Orchestrator, cfg config.PoolConfig) *WorkerService {
	return &WorkerService{
		store:        store,
		orchestrator: orchestrator,
		cfg:          cfg,
		now:          time.Now,
	}
}

// ListWorkers returns every live worker record
func (s *WorkerService) ListWorkers(ctx context.Context) (*model.ListWorkersResponse, error) {
	workers, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return &model.ListWorkersResponse{
		Workers:    workers,
		TotalCount: len(workers),
	}, nil
}

// GetWorker retrieves a worker record
func (s *WorkerService) GetWorker(ctx context.Context, workerID string) (*model.WorkerRecord, error) {
	worker, err := s.store.Get(ctx, workerID)
	if err != nil {
		if errors.Is(err, model.ErrWorkerNotFound) {
			return nil, model.ErrVpNotFound.WithMessage(fmt.Sprintf("worker %s not found", workerID))
		}
		return nil, err
	}
	return worker, nil
}

// StopAllWorkers stops every active worker. Per-worker failures are reported in
// the summary; the call itself only fails when the scan does.
func (s *WorkerService) StopAllWorkers(ctx context.Context) (*model.StopAllResponse, error) {
	workers, err := s.store.ScanByStatusSet(ctx, constants.ActiveStatuses)
	if err != nil {
		return nil, err
	}

	resp := &model.StopAllResponse{
		TotalFound: len(workers),
		Results:    make([]model.StopResult, len(workers)),
	}

	var wg sync.WaitGroup
	for i, w := range workers {
		if w.TaskID == "" {
			resp.Results[i] = model.StopResult{WorkerID: w.ID, Error: "worker has no task id"}
			continue
		}
		wg.Add(1)
		go func(i int, w *model.WorkerRecord) {
			defer wg.Done()
			resp.Results[i] = s.stopWorker(ctx, w)
		}(i, w)
	}
	wg.Wait()

	for _, r := range resp.Results {
		if r.Success {
			resp.SuccessfulStops++
		} else {
			resp.FailedStops++
		}
	}

	logger.InfoCtx(ctx, "stop all workers finished, found: %d, stopped: %d, failed: %d",
		resp.TotalFound, resp.SuccessfulStops, resp.FailedStops)
	return resp, nil
}

func (s *WorkerService) stopWorker(ctx context.Context, w *model.WorkerRecord) model.StopResult {
	result := model.StopResult{WorkerID: w.ID, TaskID: w.TaskID}

	if err := s.orchestrator.StopWorker(ctx, w.TaskID, "stop all workers"); err != nil {
		logger.ErrorCtx(ctx, "failed to stop worker %s (task %s): %v", w.ID, w.TaskID, err)
		result.Error = err.Error()
		return result
	}
	result.Success = true

	err := s.store.Update(ctx, w.ID, model.UpdateRequest{
		Set:    stoppedFields(s.now().Add(s.cfg.StoppedTTL), constants.SourceStopAll),
		Remove: []string{model.FieldStageEndpoints},
	})
	if err != nil {
		// The task is gone; the reconciler marks the record once the orchestrator reports it
		logger.WarnCtx(ctx, "worker %s stopped but not marked STOPPED: %v", w.ID, err)
	}
	return result
}

// ReportStatus applies a worker's report about itself
func (s *WorkerService) ReportStatus(ctx context.Context, workerID string, report *model.WorkerStatusReport) (*model.WorkerRecord, error) {
	if !report.Status.Valid() {
		return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("unknown worker status %q", report.Status))
	}

	var req model.UpdateRequest
	switch report.Status {
	case constants.WorkerStatusJoined:
		req = model.UpdateRequest{
			Set:       map[string]interface{}{model.FieldStatus: constants.WorkerStatusJoined},
			Condition: map[string]interface{}{model.FieldStatus: constants.WorkerStatusInvited},
		}
	case constants.WorkerStatusAvailable:
		req = model.UpdateRequest{
			Set: map[string]interface{}{
				model.FieldStatus:           constants.WorkerStatusAvailable,
				model.FieldAssignedStageArn: constants.UnassignedStage,
			},
			Remove: []string{model.FieldStageEndpoints, model.FieldAssetName, model.FieldTTL},
		}
	case constants.WorkerStatusErrored:
		req = model.UpdateRequest{
			Set: map[string]interface{}{
				model.FieldStatus:           constants.WorkerStatusErrored,
				model.FieldAssignedStageArn: constants.UnassignedStage,
			},
			Remove: []string{model.FieldStageEndpoints},
		}
	default:
		return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("workers cannot report status %s", report.Status))
	}
	req.Set[model.FieldLastUpdateSource] = constants.SourceWorkerSelfReport

	current, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	if report.Status != constants.WorkerStatusJoined {
		// A worker whose task is being stopped stays down; its record expires on its ttl
		if windingDown(current.Status) {
			return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("worker %s is %s and cannot report %s", workerID, current.Status, report.Status))
		}
		req.Condition = map[string]interface{}{model.FieldStatus: current.Status}
	}

	if err := s.store.Update(ctx, workerID, req); err != nil {
		if errors.Is(err, model.ErrConditionFailed) {
			if report.Status == constants.WorkerStatusJoined {
				return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("worker %s is %s, not INVITED", workerID, current.Status))
			}
			latest, getErr := s.GetWorker(ctx, workerID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("worker %s moved from %s to %s during the report", workerID, current.Status, latest.Status))
		}
		return nil, fmt.Errorf("failed to apply status report: %w", err)
	}

	if report.Reason != "" {
		logger.InfoCtx(ctx, "worker %s reported %s: %s", workerID, report.Status, report.Reason)
	} else {
		logger.InfoCtx(ctx, "worker %s reported %s", workerID, report.Status)
	}
	return s.GetWorker(ctx, workerID)
}

// windingDown reports whether the worker's task is stopped or stopping
func windingDown(status constants.WorkerStatus) bool {
	return status == constants.WorkerStatusStopped || status == constants.WorkerStatusDeprovisioning
}
