package service

import (
	"context"
	"errors"
	"fmt"

	"vpool/internal/model"
	"vpool/pkg/constants"
	"vpool/pkg/interfaces"
	"vpool/pkg/logger"
)

// InvitationService assigns AVAILABLE workers to stages
type InvitationService struct {
	store  interfaces.WorkerStore
	stages interfaces.StageStore
	assets interfaces.AssetProber
}

// NewInvitationService creates a new invitation service; assets may be nil when no asset store is configured
func NewInvitationService(store interfaces.WorkerStore, stages interfaces.StageStore, assets interfaces.AssetProber) *InvitationService {
	return &InvitationService{
		store:  store,
		stages: stages,
		assets: assets,
	}
}

// CreateInvitation claims one AVAILABLE worker for the stage. A lost race is
// reported as model.ErrVpAlreadyAssigned and never retried here.
func (s *InvitationService) CreateInvitation(ctx context.Context, req *model.CreateInvitationRequest) (*model.WorkerRecord, error) {
	stage, err := s.stages.GetByID(ctx, req.StageID)
	if err != nil {
		return nil, err
	}

	assigned, err := s.store.QueryByIndex(ctx, constants.IndexAssignedStage, stage.Arn, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stage assignment: %w", err)
	}
	if len(assigned) > 0 {
		return nil, model.ErrStageOccupied
	}

	if req.AssetName != "" {
		if s.assets == nil {
			return nil, model.ErrBucketNameMissing
		}
		if err := s.assets.Exists(ctx, req.AssetName); err != nil {
			return nil, err
		}
	}

	candidates, err := s.store.QueryByIndex(ctx, constants.IndexStatus, string(constants.WorkerStatusAvailable), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to query available workers: %w", err)
	}
	if len(candidates) == 0 {
		return nil, model.ErrVpNotAvailable
	}
	worker := candidates[0]

	update := model.UpdateRequest{
		Set: map[string]interface{}{
			model.FieldStatus:           constants.WorkerStatusInvited,
			model.FieldAssignedStageArn: stage.Arn,
			model.FieldStageEndpoints:   stage.Endpoints,
			model.FieldLastUpdateSource: constants.SourceInvitation,
		},
		Condition:   map[string]interface{}{model.FieldStatus: constants.WorkerStatusAvailable},
		StageVacant: stage.Arn,
	}
	if req.AssetName != "" {
		update.Set[model.FieldAssetName] = req.AssetName
	} else {
		update.Remove = []string{model.FieldAssetName}
	}

	if err := s.store.Update(ctx, worker.ID, update); err != nil {
		if errors.Is(err, model.ErrConditionFailed) {
			logger.WarnCtx(ctx, "claim of worker %s for stage %s lost the race", worker.ID, stage.ID)
			return nil, model.ErrVpAlreadyAssigned
		}
		return nil, fmt.Errorf("failed to claim worker %s: %w", worker.ID, err)
	}

	logger.InfoCtx(ctx, "worker %s invited to stage %s (%s)", worker.ID, stage.ID, stage.Arn)

	worker.Status = constants.WorkerStatusInvited
	worker.AssignedStageArn = stage.Arn
	worker.StageEndpoints = stage.Endpoints
	worker.AssetName = req.AssetName
	worker.LastUpdateSource = constants.SourceInvitation
	return worker, nil
}
