package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"

	"github.com/google/uuid"
)

// recordWriteTimeout bounds the writes that follow a launch once the caller's ctx is gone
const recordWriteTimeout = 10 * time.Second

// PoolRunResult outcome of one pool sizing pass
type PoolRunResult struct {
	WarmCount   int `json:"warmCount"`   // Workers counted against the bounds
	Started     int `json:"started"`     // Workers launched and recorded
	StartFailed int `json:"startFailed"` // Launches or record creates that failed
	Stopped     int `json:"stopped"`     // Idle workers retired
	StopFailed  int `json:"stopFailed"`  // Retirements that lost the race or failed to stop
	Shortfall   int `json:"shortfall"`   // Excess that could not be retired for lack of AVAILABLE workers
	Reaped      int `json:"reaped"`      // KICKED workers that never recovered and were stopped
	ReapFailed  int `json:"reapFailed"`
}

// PoolService keeps the warm pool between its configured bounds
type PoolService struct {
	store        interfaces.WorkerStore
	orchestrator interfaces.Orchestrator
	tasks        interfaces.TaskLister // nil when the orchestrator cannot enumerate its tasks
	cfg          config.PoolConfig
	now          func() time.Time
	newID        func() string
}

// NewPoolService creates a new pool service
func NewPoolService(store interfaces.WorkerStore, orchestrator interfaces.Orchestrator, cfg config.PoolConfig) *PoolService {
	s := &PoolService{
		store:        store,
		orchestrator: orchestrator,
		cfg:          cfg,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	if tasks, ok := orchestrator.(interfaces.TaskLister); ok {
		s.tasks = tasks
	}
	return s
}

// Reconcile runs one sizing pass. Partial failures are counted, not returned;
// only a failed read of the pool aborts the pass.
func (s *PoolService) Reconcile(ctx context.Context) (*PoolRunResult, error) {
	warm, err := s.store.ScanByStatusSet(ctx, constants.WarmStatuses)
	if err != nil {
		return nil, err
	}

	result := &PoolRunResult{WarmCount: len(warm)}
	switch {
	case len(warm) > s.cfg.MaxWarmWorkers:
		s.shrink(ctx, warm, len(warm)-s.cfg.MaxWarmWorkers, result)
	case len(warm) < s.cfg.MinWarmWorkers:
		s.grow(ctx, s.cfg.MinWarmWorkers-len(warm), result)
	default:
		logger.DebugCtx(ctx, "warm pool within bounds, count: %d, min: %d, max: %d",
			len(warm), s.cfg.MinWarmWorkers, s.cfg.MaxWarmWorkers)
	}

	s.reapKicked(ctx, result)
	return result, nil
}

// reapKicked stops the tasks of KICKED workers that have not reported back
// within KickReapAfter. A failed scan only skips reaping for this pass.
func (s *PoolService) reapKicked(ctx context.Context, result *PoolRunResult) {
	if s.cfg.KickReapAfter <= 0 {
		return
	}
	kicked, err := s.store.ScanByStatusSet(ctx, []constants.WorkerStatus{constants.WorkerStatusKicked})
	if err != nil {
		logger.WarnCtx(ctx, "failed to scan kicked workers, skipping reap: %v", err)
		return
	}

	cutoff := s.now().Add(-s.cfg.KickReapAfter)
	for _, w := range kicked {
		if w.UpdatedAt.After(cutoff) {
			continue
		}
		err := s.store.Update(ctx, w.ID, model.UpdateRequest{
			Set:       stoppedFields(s.now().Add(s.cfg.StoppedTTL), constants.SourcePoolController),
			Condition: map[string]interface{}{model.FieldStatus: constants.WorkerStatusKicked},
		})
		if err != nil {
			logger.WarnCtx(ctx, "skip reaping kicked worker %s: %v", w.ID, err)
			result.ReapFailed++
			continue
		}
		if w.TaskID != "" {
			if err := s.orchestrator.StopWorker(ctx, w.TaskID, "kicked worker never recovered"); err != nil {
				logger.ErrorCtx(ctx, "kicked worker %s marked STOPPED but task %s failed to stop: %v", w.ID, w.TaskID, err)
				result.ReapFailed++
				continue
			}
		}
		logger.InfoCtx(ctx, "reaped kicked worker %s, task: %s", w.ID, w.TaskID)
		result.Reaped++
	}
}

func (s *PoolService) grow(ctx context.Context, count int, result *PoolRunResult) {
	logger.InfoCtx(ctx, "warm pool below minimum, starting %d workers", count)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := s.startWorker(ctx)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				result.Started++
			} else {
				result.StartFailed++
			}
		}()
	}
	wg.Wait()
}

func (s *PoolService) startWorker(ctx context.Context) bool {
	workerID := s.newID()

	taskID, err := s.orchestrator.StartWorker(ctx, workerID, nil)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to start worker %s: %v", workerID, err)
		return false
	}

	// The task exists now. Record it, or stop it, even if ctx is cancelled meanwhile.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordWriteTimeout)
	defer cancel()

	if err := s.store.Create(writeCtx, model.NewProvisioningRecord(workerID, taskID, s.now())); err != nil {
		logger.ErrorCtx(ctx, "failed to record worker %s (task %s), stopping task: %v", workerID, taskID, err)
		if stopErr := s.orchestrator.StopWorker(writeCtx, taskID, "worker record could not be created"); stopErr != nil {
			logger.ErrorCtx(ctx, "failed to stop orphaned task %s: %v", taskID, stopErr)
		}
		return false
	}

	logger.InfoCtx(ctx, "worker %s provisioning, task: %s", workerID, taskID)
	return true
}

func (s *PoolService) shrink(ctx context.Context, warm []*model.WorkerRecord, excess int, result *PoolRunResult) {
	idle := make([]*model.WorkerRecord, 0, len(warm))
	for _, w := range warm {
		if w.Status == constants.WorkerStatusAvailable {
			idle = append(idle, w)
		}
	}
	sort.SliceStable(idle, func(i, j int) bool {
		return idle[i].CreatedAt.Before(idle[j].CreatedAt)
	})

	victims := idle
	if len(victims) > excess {
		victims = victims[:excess]
	}
	result.Shortfall = excess - len(victims)
	if result.Shortfall > 0 {
		logger.WarnCtx(ctx, "warm pool above maximum by %d but only %d workers are AVAILABLE", excess, len(idle))
	}
	logger.InfoCtx(ctx, "warm pool above maximum, retiring %d idle workers", len(victims))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, w := range victims {
		wg.Add(1)
		go func(w *model.WorkerRecord) {
			defer wg.Done()
			ok := s.retireIdle(ctx, w)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				result.Stopped++
			} else {
				result.StopFailed++
			}
		}(w)
	}
	wg.Wait()
}

// retireIdle marks an AVAILABLE worker STOPPED and only then stops its task,
// so a worker claimed in between keeps running
func (s *PoolService) retireIdle(ctx context.Context, w *model.WorkerRecord) bool {
	err := s.store.Update(ctx, w.ID, model.UpdateRequest{
		Set:       stoppedFields(s.now().Add(s.cfg.StoppedTTL), constants.SourcePoolController),
		Remove:    []string{model.FieldStageEndpoints, model.FieldAssetName},
		Condition: map[string]interface{}{model.FieldStatus: constants.WorkerStatusAvailable},
	})
	if err != nil {
		logger.WarnCtx(ctx, "skip retiring worker %s: %v", w.ID, err)
		return false
	}

	if err := s.orchestrator.StopWorker(ctx, w.TaskID, "warm pool above maximum"); err != nil {
		logger.ErrorCtx(ctx, "worker %s marked STOPPED but task %s failed to stop: %v", w.ID, w.TaskID, err)
		return false
	}
	return true
}

// stoppedFields the field set shared by every transition to STOPPED
func stoppedFields(ttl time.Time, source string) map[string]interface{} {
	return map[string]interface{}{
		model.FieldStatus:           constants.WorkerStatusStopped,
		model.FieldAssignedStageArn: constants.UnassignedStage,
		model.FieldRunning:          false,
		model.FieldTTL:              ttl,
		model.FieldLastUpdateSource: source,
	}
}

// SweepResult outcome of one untracked task sweep
type SweepResult struct {
	Listed     int `json:"listed"`
	Stopped    int `json:"stopped"`
	StopFailed int `json:"stopFailed"`
}

// SweepUntrackedTasks stops live tasks that no worker record points at, such as
// a launch whose record write never landed. Tasks younger than UntrackedTaskGrace
// are left alone since their record may still be on its way.
func (s *PoolService) SweepUntrackedTasks(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	if s.tasks == nil {
		return result, nil
	}

	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	result.Listed = len(tasks)

	cutoff := s.now().Add(-s.cfg.UntrackedTaskGrace)
	for _, task := range tasks {
		if task.CreatedAt.After(cutoff) {
			continue
		}
		tracked, err := s.store.QueryByIndex(ctx, constants.IndexTaskID, task.TaskID, 1)
		if err != nil {
			return result, err
		}
		if len(tracked) > 0 {
			continue
		}

		if err := s.orchestrator.StopWorker(ctx, task.TaskID, "no worker record tracks this task"); err != nil {
			logger.ErrorCtx(ctx, "failed to stop untracked task %s (worker %s): %v", task.TaskID, task.WorkerID, err)
			result.StopFailed++
			continue
		}
		logger.WarnCtx(ctx, "stopped untracked task %s, worker: %s, created: %s",
			task.TaskID, task.WorkerID, task.CreatedAt.Format(time.RFC3339))
		result.Stopped++
	}
	return result, nil
}
