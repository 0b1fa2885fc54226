package service

import (
	"context"
	"errors"
	"fmt"

	"vpool/internal/model"
	"vpool/pkg/interfaces"

	"github.com/google/uuid"
)

// StageService stage registration and lookup
type StageService struct {
	stages interfaces.StageStore
}

// NewStageService creates a new stage service
func NewStageService(stages interfaces.StageStore) *StageService {
	return &StageService{stages: stages}
}

// RegisterStage stores a stage; the id is generated when omitted
func (s *StageService) RegisterStage(ctx context.Context, req *model.CreateStageRequest) (*model.StageRecord, error) {
	stage := &model.StageRecord{
		ID:        req.ID,
		Arn:       req.Arn,
		Endpoints: req.Endpoints,
	}
	if stage.ID == "" {
		stage.ID = uuid.New().String()
	}

	if err := s.stages.Create(ctx, stage); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil, model.ErrInvalidRequest.WithMessage(fmt.Sprintf("stage %s or arn %s already registered", stage.ID, stage.Arn))
		}
		return nil, err
	}
	return stage, nil
}

// GetStage retrieves a stage by id
func (s *StageService) GetStage(ctx context.Context, id string) (*model.StageRecord, error) {
	return s.stages.GetByID(ctx, id)
}

// ListStages lists registered stages
func (s *StageService) ListStages(ctx context.Context) ([]*model.StageRecord, error) {
	return s.stages.List(ctx)
}
