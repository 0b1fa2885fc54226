package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
)

// EvictionService removes workers from stages without stopping their tasks
type EvictionService struct {
	store  interfaces.WorkerStore
	stages interfaces.StageStore
	cfg    config.PoolConfig
	now    func() time.Time
}

// NewEvictionService creates a new eviction service
func NewEvictionService(store interfaces.WorkerStore, stages interfaces.StageStore, cfg config.PoolConfig) *EvictionService {
	return &EvictionService{
		store:  store,
		stages: stages,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Kick marks the stage's worker KICKED. The orchestrator task keeps running;
// the worker may report AVAILABLE again or expire with its ttl.
func (s *EvictionService) Kick(ctx context.Context, stageID string) (*model.WorkerRecord, error) {
	stage, err := s.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}

	assigned, err := s.store.QueryByIndex(ctx, constants.IndexAssignedStage, stage.Arn, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stage assignment: %w", err)
	}
	if len(assigned) == 0 {
		return nil, model.ErrVpNotFound
	}
	worker := assigned[0]

	ttl := s.now().Add(s.cfg.KickTTL)
	err = s.store.Update(ctx, worker.ID, model.UpdateRequest{
		Set: map[string]interface{}{
			model.FieldStatus:           constants.WorkerStatusKicked,
			model.FieldAssignedStageArn: constants.UnassignedStage,
			model.FieldTTL:              ttl,
			model.FieldLastUpdateSource: constants.SourceEviction,
		},
		Remove: []string{model.FieldStageEndpoints, model.FieldAssetName},
	})
	if err != nil {
		if errors.Is(err, model.ErrConditionFailed) {
			// Expired between lookup and write
			return nil, model.ErrVpNotFound
		}
		return nil, fmt.Errorf("failed to kick worker %s: %w", worker.ID, err)
	}

	logger.InfoCtx(ctx, "worker %s kicked from stage %s", worker.ID, stage.ID)

	worker.Status = constants.WorkerStatusKicked
	worker.AssignedStageArn = constants.UnassignedStage
	worker.StageEndpoints = nil
	worker.AssetName = ""
	worker.TTL = &ttl
	return worker, nil
}
