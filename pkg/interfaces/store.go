package interfaces

import (
	"context"

	"vpool/internal/model"
	"vpool/pkg/constants"
)

// WorkerStore durable worker records with secondary indexes and conditional updates
type WorkerStore interface {
	// Get returns model.ErrWorkerNotFound when the record is absent or expired
	Get(ctx context.Context, id string) (*model.WorkerRecord, error)

	// QueryByIndex looks up records by constants.IndexStatus, IndexAssignedStage or IndexTaskID.
	// Results are ordered oldest first; limit <= 0 means unbounded.
	QueryByIndex(ctx context.Context, index, value string, limit int) ([]*model.WorkerRecord, error)

	// ScanByStatusSet fetches every record whose status is in statuses
	ScanByStatusSet(ctx context.Context, statuses []constants.WorkerStatus) ([]*model.WorkerRecord, error)

	// Create fails with model.ErrAlreadyExists on id collision
	Create(ctx context.Context, record *model.WorkerRecord) error

	// Update fails with model.ErrConditionFailed when the record is missing or the condition does not hold.
	// updated_at is always refreshed.
	Update(ctx context.Context, id string, req model.UpdateRequest) error

	// UpdateIf is the compare-and-set primitive: apply set only if every expected field matches
	UpdateIf(ctx context.Context, id string, expected, set map[string]interface{}) (model.UpdateResult, error)

	// List returns every live record
	List(ctx context.Context) ([]*model.WorkerRecord, error)
}

// StageStore stage records, read-only from the worker state machine
type StageStore interface {
	GetByID(ctx context.Context, id string) (*model.StageRecord, error)
	GetByARN(ctx context.Context, arn string) (*model.StageRecord, error)
	Create(ctx context.Context, stage *model.StageRecord) error
	List(ctx context.Context) ([]*model.StageRecord, error)
}
