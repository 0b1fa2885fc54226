package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "vpool/internal/model"

	"gorm.io/gorm"
)

// StageRepository stage records
type StageRepository struct {
	ds *Datastore
}

// NewStageRepository creates a new stage repository
func NewStageRepository(ds *Datastore) *StageRepository {
	return &StageRepository{ds: ds}
}

// GetByID returns domain.ErrStageNotFound when no stage has the id
func (r *StageRepository) GetByID(ctx context.Context, id string) (*domain.StageRecord, error) {
	return r.getBy(ctx, "stage_id = ?", id)
}

// GetByARN returns domain.ErrStageNotFound when no stage has the arn
func (r *StageRepository) GetByARN(ctx context.Context, arn string) (*domain.StageRecord, error) {
	return r.getBy(ctx, "stage_arn = ?", arn)
}

func (r *StageRepository) getBy(ctx context.Context, query string, value string) (*domain.StageRecord, error) {
	var row Stage
	err := r.ds.DB(ctx).Where(query, value).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrStageNotFound
		}
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return ToStageDomain(&row), nil
}

// Create inserts a stage, domain.ErrAlreadyExists when the id or arn is taken
func (r *StageRepository) Create(ctx context.Context, stage *domain.StageRecord) error {
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now()
	}
	row := FromStageDomain(stage)
	if err := r.ds.DB(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// List returns every stage, newest first
func (r *StageRepository) List(ctx context.Context) ([]*domain.StageRecord, error) {
	var rows []Stage
	if err := r.ds.DB(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	stages := make([]*domain.StageRecord, 0, len(rows))
	for i := range rows {
		stages = append(stages, ToStageDomain(&rows[i]))
	}
	return stages, nil
}
